package catalog

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/rs/zerolog"

	"popcatalog/internal/demography"
)

var (
	ErrSpeciesNotFound    = errors.New("species not found")
	ErrModelNotFound      = errors.New("demographic model not found")
	ErrGeneticMapNotFound = errors.New("genetic map not found")
	ErrChromosomeNotFound = errors.New("chromosome not found")
	ErrDuplicateModel     = errors.New("duplicate catalog entry")
	ErrInvalidTable       = errors.New("invalid catalog table")
	ErrNotSampled         = errors.New("population is not sampled")
)

const (
	speciesFileName = "species.yaml"
	modelsDir       = "models"
)

//go:embed data
var embedded embed.FS

// Defect is a model whose source table does not produce a valid history.
// Such models are withheld from the catalog rather than corrected.
type Defect struct {
	SpeciesID string
	ModelID   string
	Err       error
}

func (d Defect) Error() string {
	return fmt.Sprintf("%s/%s: %v", d.SpeciesID, d.ModelID, d.Err)
}

func (d Defect) Unwrap() error { return d.Err }

// Catalog is the read-only set of species and their models. It is built once
// and safe to share.
type Catalog struct {
	species map[string]*Species
	order   []string
	defects []Defect
}

// Default loads the catalog shipped with this module.
func Default(logger zerolog.Logger) (*Catalog, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return Load(sub, logger)
}

// Load reads one directory per species from fsys: a species.yaml plus one
// table per model under models/.
func Load(fsys fs.FS, logger zerolog.Logger) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read catalog root: %w", err)
	}

	c := &Catalog{species: make(map[string]*Species)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sp, err := c.loadSpecies(fsys, entry.Name(), logger)
		if err != nil {
			return nil, err
		}
		logger.Debug().
			Str("species", sp.ID).
			Int("models", len(sp.modelOrder)).
			Int("genetic_maps", len(sp.mapOrder)).
			Msg("species loaded")
	}
	return c, nil
}

func (c *Catalog) loadSpecies(fsys fs.FS, dir string, logger zerolog.Logger) (*Species, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, speciesFileName))
	if err != nil {
		return nil, fmt.Errorf("species %s: %w", dir, err)
	}
	sp, err := parseSpecies(data)
	if err != nil {
		return nil, fmt.Errorf("species %s: %w", dir, err)
	}
	if _, exists := c.species[sp.ID]; exists {
		return nil, fmt.Errorf("%w: species %s", ErrDuplicateModel, sp.ID)
	}

	files, err := fs.Glob(fsys, path.Join(dir, modelsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("species %s: %w", sp.ID, err)
	}
	sort.Strings(files)
	for _, file := range files {
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("species %s: %w", sp.ID, err)
		}
		table, err := parseModelTable(raw)
		if err != nil {
			c.reject(logger, sp.ID, path.Base(file), err)
			continue
		}
		m, err := buildModel(table, sp)
		if err != nil {
			c.reject(logger, sp.ID, table.ID, err)
			continue
		}
		if err := sp.addModel(m); err != nil {
			return nil, err
		}
		for _, note := range m.Notes {
			logger.Info().Str("species", sp.ID).Str("model", m.ID).Str("parameter", note).Msg("table parameter declared but unused")
		}
	}

	c.species[sp.ID] = sp
	c.order = append(c.order, sp.ID)
	return sp, nil
}

func (c *Catalog) reject(logger zerolog.Logger, speciesID, modelID string, err error) {
	logger.Warn().Err(err).Str("species", speciesID).Str("model", modelID).Msg("model withheld: source data do not build")
	c.defects = append(c.defects, Defect{SpeciesID: speciesID, ModelID: modelID, Err: err})
}

func (c *Catalog) Species(id string) (*Species, error) {
	sp, ok := c.species[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpeciesNotFound, id)
	}
	return sp, nil
}

// ListSpecies returns species in load order.
func (c *Catalog) ListSpecies() []*Species {
	out := make([]*Species, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.species[id])
	}
	return out
}

func (c *Catalog) Model(speciesID, modelID string) (*DemographicModel, error) {
	sp, err := c.Species(speciesID)
	if err != nil {
		return nil, err
	}
	return sp.Model(modelID)
}

// Defects lists the models withheld at load time.
func (c *Catalog) Defects() []Defect {
	return append([]Defect(nil), c.defects...)
}

// LoadModelFile builds a model table from disk against a species' shared
// populations and references. The model is not added to any catalog.
func LoadModelFile(filePath string, sp *Species) (*DemographicModel, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return ParseModel(data, sp)
}

// ParseModel builds a model table held in memory. A table that decodes but
// does not build is reported as a Defect carrying the table's id.
func ParseModel(data []byte, sp *Species) (*DemographicModel, error) {
	table, err := parseModelTable(data)
	if err != nil {
		return nil, err
	}
	m, err := buildModel(table, sp)
	if err != nil {
		return nil, Defect{SpeciesID: sp.ID, ModelID: table.ID, Err: err}
	}
	return m, nil
}

func parseSpecies(data []byte) (*Species, error) {
	var f speciesFile
	if err := decodeStrict(bytes.NewReader(data), &f); err != nil {
		return nil, err
	}
	if f.ID == "" {
		return nil, fmt.Errorf("%w: species id is required", ErrInvalidTable)
	}

	sp := &Species{
		ID:                f.ID,
		Name:              f.Name,
		CommonName:        f.CommonName,
		GenerationTime:    f.GenerationTime,
		PopulationSize:    f.PopulationSize,
		MutationRate:      f.MutationRate,
		RecombinationRate: f.RecombinationRate,
		populations:       make(map[string]demography.Population, len(f.Populations)),
		references:        make(map[string]Citation, len(f.References)),
		models:            make(map[string]*DemographicModel),
		geneticMaps:       make(map[string]GeneticMap),
	}
	for key, ref := range f.References {
		sp.references[key] = Citation{Author: ref.Author, Year: ref.Year, DOI: ref.DOI}
	}
	for key, def := range f.Populations {
		if def.ID == "" {
			def.ID = key
		}
		if def.ID != key {
			return nil, fmt.Errorf("%w: population key %s names id %s", ErrInvalidTable, key, def.ID)
		}
		sp.populations[key] = def.population()
	}

	var err error
	if sp.Citations, err = sp.resolveCitations(f.Citations); err != nil {
		return nil, err
	}
	sp.Genome = Genome{AssemblyName: f.Genome.AssemblyName, AssemblyAccession: f.Genome.AssemblyAccession}
	if sp.Genome.Citations, err = sp.resolveCitations(f.Genome.Citations); err != nil {
		return nil, err
	}
	for _, cd := range f.Genome.Chromosomes {
		ch := Chromosome{
			ID:                cd.ID,
			Length:            cd.Length,
			Synonyms:          append([]string(nil), cd.Synonyms...),
			MutationRate:      cd.MutationRate,
			RecombinationRate: cd.RecombinationRate,
		}
		if ch.MutationRate == 0 {
			ch.MutationRate = sp.MutationRate
		}
		if ch.RecombinationRate == 0 {
			ch.RecombinationRate = sp.RecombinationRate
		}
		sp.Genome.Chromosomes = append(sp.Genome.Chromosomes, ch)
	}
	for _, gd := range f.GeneticMaps {
		citations, err := sp.resolveCitations(gd.Citations)
		if err != nil {
			return nil, err
		}
		gm := GeneticMap{
			ID:              gd.ID,
			Description:     gd.Description,
			LongDescription: gd.LongDescription,
			URL:             gd.URL,
			SHA256:          gd.SHA256,
			FilePattern:     gd.FilePattern,
			Citations:       citations,
		}
		if err := sp.addGeneticMap(gm); err != nil {
			return nil, err
		}
	}
	return sp, nil
}
