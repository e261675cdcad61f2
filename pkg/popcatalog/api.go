package popcatalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"popcatalog/internal/catalog"
	"popcatalog/internal/demography"
	"popcatalog/internal/model"
	"popcatalog/internal/storage"
)

const defaultDBPath = "popcatalog.db"

var ErrNotStored = errors.New("model not found in store")

type Options struct {
	StoreKind string
	DBPath    string
	// ModelsDir holds extra model tables laid out as <dir>/<species id>/*.yaml.
	ModelsDir string
	// Catalog replaces the embedded catalog data when set.
	Catalog fs.FS
	Logger  zerolog.Logger
}

type Client struct {
	store   storage.Store
	catalog *catalog.Catalog
	logger  zerolog.Logger
	now     func() time.Time

	extra      map[model.ModelKey]*catalog.DemographicModel
	extraOrder []model.ModelKey
	defects    []catalog.Defect

	initMu      sync.Mutex
	initialized bool
}

type SpeciesItem struct {
	ID             string
	Name           string
	CommonName     string
	GenerationTime float64
	PopulationSize float64
	Models         int
	GeneticMaps    []string
}

type ModelItem struct {
	SpeciesID   string
	ID          string
	Description string
	Populations []string
	Events      int
	Epochs      int
}

type PopulationDetail struct {
	ID           string
	Description  string
	InitialSize  float64
	GrowthRate   float64
	SamplingTime *float64
}

type ModelDetail struct {
	ModelItem
	LongDescription string
	GenerationTime  float64
	MutationRate    float64
	Citations       []string
	Lineages        []PopulationDetail
	Timeline        []string
	Notes           []string
}

type ValidateReport struct {
	SpeciesID   string
	ModelID     string
	Populations int
	Events      int
	Epochs      int
	Notes       []string
}

type ExportSummary struct {
	SnapshotID string
	CreatedAt  time.Time
	Models     []model.ModelKey
	Defects    int
}

type SnapshotItem struct {
	ID        string
	CreatedAt time.Time
	Models    int
	Defects   int
}

type StoredSummary struct {
	Models    []model.ModelKey
	Snapshots []SnapshotItem
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	var (
		cat *catalog.Catalog
		err error
	)
	if opts.Catalog != nil {
		cat, err = catalog.Load(opts.Catalog, opts.Logger)
	} else {
		cat, err = catalog.Default(opts.Logger)
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		store:   store,
		catalog: cat,
		logger:  opts.Logger,
		now:     time.Now,
		extra:   make(map[model.ModelKey]*catalog.DemographicModel),
		defects: cat.Defects(),
	}
	if opts.ModelsDir != "" {
		if err := c.loadModelsDir(opts.ModelsDir); err != nil {
			_ = storage.CloseIfSupported(store)
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Species() []SpeciesItem {
	list := c.catalog.ListSpecies()
	out := make([]SpeciesItem, 0, len(list))
	for _, sp := range list {
		item := SpeciesItem{
			ID:             sp.ID,
			Name:           sp.Name,
			CommonName:     sp.CommonName,
			GenerationTime: sp.GenerationTime,
			PopulationSize: sp.PopulationSize,
			Models:         len(sp.Models()) + c.extraCount(sp.ID),
		}
		for _, gm := range sp.GeneticMaps() {
			item.GeneticMaps = append(item.GeneticMaps, gm.ID)
		}
		out = append(out, item)
	}
	return out
}

// Models lists the species' catalog models followed by any loaded from
// ModelsDir.
func (c *Client) Models(speciesID string) ([]ModelItem, error) {
	sp, err := c.catalog.Species(speciesID)
	if err != nil {
		return nil, err
	}
	var out []ModelItem
	for _, m := range sp.Models() {
		out = append(out, itemOf(m))
	}
	for _, key := range c.extraOrder {
		if key.SpeciesID == speciesID {
			out = append(out, itemOf(c.extra[key]))
		}
	}
	return out, nil
}

func (c *Client) Describe(speciesID, modelID string) (ModelDetail, error) {
	m, err := c.model(speciesID, modelID)
	if err != nil {
		return ModelDetail{}, err
	}

	detail := ModelDetail{
		ModelItem:       itemOf(m),
		LongDescription: m.LongDescription,
		GenerationTime:  m.GenerationTime,
		MutationRate:    m.MutationRate,
		Notes:           append([]string(nil), m.Notes...),
	}
	for _, cit := range m.Citations {
		detail.Citations = append(detail.Citations, cit.String())
	}
	h := m.History
	for i, p := range h.Populations() {
		pd := PopulationDetail{ID: p.ID(), Description: p.Description()}
		pd.InitialSize, _ = h.InitialSize(i)
		pd.GrowthRate, _ = h.InitialGrowthRate(i)
		if t, ok := p.SamplingTime(); ok {
			pd.SamplingTime = &t
		}
		detail.Lineages = append(detail.Lineages, pd)
	}
	for _, e := range h.Events() {
		detail.Timeline = append(detail.Timeline, e.String())
	}
	return detail, nil
}

// Snapshot reports the state of a model t generations before present.
func (c *Client) Snapshot(speciesID, modelID string, t float64) (demography.Snapshot, error) {
	m, err := c.model(speciesID, modelID)
	if err != nil {
		return demography.Snapshot{}, err
	}
	return m.History.At(t)
}

func (c *Client) Epochs(speciesID, modelID string) ([]demography.Epoch, error) {
	m, err := c.model(speciesID, modelID)
	if err != nil {
		return nil, err
	}
	return m.History.Epochs(), nil
}

func (c *Client) Samples(speciesID, modelID string, counts map[string]int) ([]catalog.Sample, error) {
	m, err := c.model(speciesID, modelID)
	if err != nil {
		return nil, err
	}
	return m.Samples(counts)
}

// Validate builds a model table from disk against a catalog species without
// registering it.
func (c *Client) Validate(path, speciesID string) (ValidateReport, error) {
	sp, err := c.catalog.Species(speciesID)
	if err != nil {
		return ValidateReport{}, err
	}
	m, err := catalog.LoadModelFile(path, sp)
	if err != nil {
		return ValidateReport{}, err
	}
	return ValidateReport{
		SpeciesID:   sp.ID,
		ModelID:     m.ID,
		Populations: m.History.NumPopulations(),
		Events:      len(m.History.Events()),
		Epochs:      len(m.History.Epochs()),
		Notes:       m.Notes,
	}, nil
}

// Defects lists every model withheld because its table does not build.
func (c *Client) Defects() []catalog.Defect {
	return append([]catalog.Defect(nil), c.defects...)
}

// Export persists every usable model and records the export, including the
// withheld models, as a snapshot.
func (c *Client) Export(ctx context.Context) (ExportSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return ExportSummary{}, err
	}

	created := c.now().UTC()
	snapshot := model.SnapshotRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              uuid.NewString(),
		CreatedAtUTC:    created.Format(time.RFC3339),
	}
	for _, m := range c.allModels() {
		rec := m.Record()
		rec.VersionedRecord = storage.CurrentVersion()
		if err := c.store.SaveModel(ctx, rec); err != nil {
			return ExportSummary{}, fmt.Errorf("save model %s/%s: %w", m.SpeciesID, m.ID, err)
		}
		snapshot.Models = append(snapshot.Models, model.ModelKey{SpeciesID: m.SpeciesID, ModelID: m.ID})
	}
	for _, d := range c.defects {
		snapshot.Defects = append(snapshot.Defects, model.DefectRecord{
			SpeciesID: d.SpeciesID,
			ModelID:   d.ModelID,
			Reason:    d.Err.Error(),
		})
	}
	if err := c.store.SaveSnapshot(ctx, snapshot); err != nil {
		return ExportSummary{}, fmt.Errorf("save snapshot: %w", err)
	}

	c.logger.Info().
		Str("snapshot", snapshot.ID).
		Int("models", len(snapshot.Models)).
		Int("defects", len(snapshot.Defects)).
		Msg("catalog exported")

	return ExportSummary{
		SnapshotID: snapshot.ID,
		CreatedAt:  created.Truncate(time.Second),
		Models:     snapshot.Models,
		Defects:    len(snapshot.Defects),
	}, nil
}

func (c *Client) Stored(ctx context.Context) (StoredSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return StoredSummary{}, err
	}

	keys, err := c.store.ListModels(ctx)
	if err != nil {
		return StoredSummary{}, err
	}
	snapshots, err := c.store.ListSnapshots(ctx)
	if err != nil {
		return StoredSummary{}, err
	}

	summary := StoredSummary{Models: keys}
	for _, s := range snapshots {
		created, err := time.Parse(time.RFC3339, s.CreatedAtUTC)
		if err != nil {
			return StoredSummary{}, fmt.Errorf("snapshot %s: created_at_utc: %w", s.ID, err)
		}
		summary.Snapshots = append(summary.Snapshots, SnapshotItem{
			ID:        s.ID,
			CreatedAt: created,
			Models:    len(s.Models),
			Defects:   len(s.Defects),
		})
	}
	return summary, nil
}

// LoadStored decodes a persisted model and rebuilds its history, so a
// corrupted record is rejected rather than returned.
func (c *Client) LoadStored(ctx context.Context, speciesID, modelID string) (*catalog.DemographicModel, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}

	rec, ok, err := c.store.GetModel(ctx, speciesID, modelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotStored, speciesID, modelID)
	}
	return catalog.ModelFromRecord(rec)
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

func (c *Client) model(speciesID, modelID string) (*catalog.DemographicModel, error) {
	if m, ok := c.extra[model.ModelKey{SpeciesID: speciesID, ModelID: modelID}]; ok {
		return m, nil
	}
	return c.catalog.Model(speciesID, modelID)
}

func (c *Client) allModels() []*catalog.DemographicModel {
	var out []*catalog.DemographicModel
	for _, sp := range c.catalog.ListSpecies() {
		out = append(out, sp.Models()...)
	}
	for _, key := range c.extraOrder {
		out = append(out, c.extra[key])
	}
	return out
}

func (c *Client) extraCount(speciesID string) int {
	n := 0
	for _, key := range c.extraOrder {
		if key.SpeciesID == speciesID {
			n++
		}
	}
	return n
}

// loadModelsDir adds tables from dir/<species id>/*.yaml. Tables that do not
// build are reported as defects, like catalog models.
func (c *Client) loadModelsDir(dir string) error {
	for _, sp := range c.catalog.ListSpecies() {
		files, err := filepath.Glob(filepath.Join(dir, sp.ID, "*.yaml"))
		if err != nil {
			return err
		}
		sort.Strings(files)
		for _, file := range files {
			m, err := catalog.LoadModelFile(file, sp)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return err
				}
				defect := catalog.Defect{SpeciesID: sp.ID, ModelID: filepath.Base(file), Err: err}
				var built catalog.Defect
				if errors.As(err, &built) && built.ModelID != "" {
					defect.ModelID = built.ModelID
					defect.Err = built.Err
				}
				c.logger.Warn().Err(defect.Err).Str("species", sp.ID).Str("model", defect.ModelID).Str("file", file).Msg("model withheld: source data do not build")
				c.defects = append(c.defects, defect)
				continue
			}
			key := model.ModelKey{SpeciesID: sp.ID, ModelID: m.ID}
			if _, err := sp.Model(m.ID); err == nil {
				return fmt.Errorf("%w: %s/%s in %s", catalog.ErrDuplicateModel, sp.ID, m.ID, file)
			}
			if _, exists := c.extra[key]; exists {
				return fmt.Errorf("%w: %s/%s in %s", catalog.ErrDuplicateModel, sp.ID, m.ID, file)
			}
			c.extra[key] = m
			c.extraOrder = append(c.extraOrder, key)
			c.logger.Debug().Str("species", sp.ID).Str("model", m.ID).Str("file", file).Msg("extra model loaded")
		}
	}
	return nil
}

func itemOf(m *catalog.DemographicModel) ModelItem {
	item := ModelItem{
		SpeciesID:   m.SpeciesID,
		ID:          m.ID,
		Description: m.Description,
		Events:      len(m.History.Events()),
		Epochs:      len(m.History.Epochs()),
	}
	for _, p := range m.History.Populations() {
		item.Populations = append(item.Populations, p.ID())
	}
	return item
}
