package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"popcatalog/internal/demography"
)

// Model tables name their published parameters once and refer to them by
// name. Names resolve through the section matching the field: sizes are
// multiplied by size_multiplier, times are years truncated to whole
// generations, and rates are scaled 2Nm values divided by twice the
// migration_reference size. Literal numbers are taken as engine units.

type quantity struct {
	name    string
	literal float64
}

func (q *quantity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number or parameter name", node.Line)
	}
	switch node.ShortTag() {
	case "!!int", "!!float":
		v, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		q.literal = v
	case "!!str":
		q.name = node.Value
	default:
		return fmt.Errorf("line %d: unsupported value %q", node.Line, node.Value)
	}
	return nil
}

type referenceDef struct {
	Author string `yaml:"author"`
	Year   string `yaml:"year"`
	DOI    string `yaml:"doi"`
}

type citationUse struct {
	Ref     string   `yaml:"ref"`
	Reasons []string `yaml:"reasons"`
}

type populationDef struct {
	ID           string   `yaml:"id"`
	Description  string   `yaml:"description"`
	SamplingTime *float64 `yaml:"sampling_time"`
	Ghost        bool     `yaml:"ghost"`
}

func (d populationDef) population() demography.Population {
	if d.Ghost {
		return demography.NewGhostPopulation(d.ID, d.Description)
	}
	p := demography.NewPopulation(d.ID, d.Description)
	if d.SamplingTime != nil {
		p = p.SampledAt(*d.SamplingTime)
	}
	return p
}

// populationRef is either the id of a species-level population or an
// inline definition local to one model.
type populationRef struct {
	ref    string
	inline *populationDef
}

func (p *populationRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.ref = node.Value
		return nil
	}
	var def populationDef
	if err := node.Decode(&def); err != nil {
		return err
	}
	p.inline = &def
	return nil
}

type chromosomeDef struct {
	ID                string   `yaml:"id"`
	Length            int64    `yaml:"length"`
	Synonyms          []string `yaml:"synonyms"`
	MutationRate      float64  `yaml:"mutation_rate"`
	RecombinationRate float64  `yaml:"recombination_rate"`
}

type genomeDef struct {
	AssemblyName      string          `yaml:"assembly_name"`
	AssemblyAccession string          `yaml:"assembly_accession"`
	Chromosomes       []chromosomeDef `yaml:"chromosomes"`
	Citations         []citationUse   `yaml:"citations"`
}

type geneticMapDef struct {
	ID              string        `yaml:"id"`
	Description     string        `yaml:"description"`
	LongDescription string        `yaml:"long_description"`
	URL             string        `yaml:"url"`
	SHA256          string        `yaml:"sha256"`
	FilePattern     string        `yaml:"file_pattern"`
	Citations       []citationUse `yaml:"citations"`
}

type speciesFile struct {
	ID                string                   `yaml:"id"`
	Name              string                   `yaml:"name"`
	CommonName        string                   `yaml:"common_name"`
	GenerationTime    float64                  `yaml:"generation_time"`
	PopulationSize    float64                  `yaml:"population_size"`
	MutationRate      float64                  `yaml:"mutation_rate"`
	RecombinationRate float64                  `yaml:"recombination_rate"`
	References        map[string]referenceDef  `yaml:"references"`
	Citations         []citationUse            `yaml:"citations"`
	Genome            genomeDef                `yaml:"genome"`
	Populations       map[string]populationDef `yaml:"populations"`
	GeneticMaps       []geneticMapDef          `yaml:"genetic_maps"`
}

type migrationDef struct {
	Source string   `yaml:"source"`
	Dest   string   `yaml:"dest"`
	Rate   quantity `yaml:"rate"`
}

type eventDef struct {
	Kind       string    `yaml:"kind"`
	Time       quantity  `yaml:"time"`
	Offset     int       `yaml:"offset"`
	Population string    `yaml:"population"`
	Size       *quantity `yaml:"size"`
	GrowthRate *float64  `yaml:"growth_rate"`
	Source     string    `yaml:"source"`
	Dest       string    `yaml:"dest"`
	Rate       *quantity `yaml:"rate"`
	Proportion *float64  `yaml:"proportion"`
}

type modelTable struct {
	ID                 string              `yaml:"id"`
	Description        string              `yaml:"description"`
	LongDescription    string              `yaml:"long_description"`
	Citations          []citationUse       `yaml:"citations"`
	GenerationTime     float64             `yaml:"generation_time"`
	MutationRate       float64             `yaml:"mutation_rate"`
	SizeMultiplier     float64             `yaml:"size_multiplier"`
	MigrationReference string              `yaml:"migration_reference"`
	Populations        []populationRef     `yaml:"populations"`
	Sizes              map[string]float64  `yaml:"sizes"`
	Times              map[string]float64  `yaml:"times"`
	Rates              map[string]float64  `yaml:"rates"`
	InitialSizes       map[string]quantity `yaml:"initial_sizes"`
	GrowthRates        map[string]float64  `yaml:"growth_rates"`
	Migration          []migrationDef      `yaml:"migration"`
	Events             []eventDef          `yaml:"events"`
}

func decodeStrict(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty document", ErrInvalidTable)
		}
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return nil
}

func parseModelTable(data []byte) (modelTable, error) {
	var t modelTable
	if err := decodeStrict(bytes.NewReader(data), &t); err != nil {
		return modelTable{}, err
	}
	return t, nil
}

type resolver struct {
	t       modelTable
	mult    float64
	refSize float64
	used    map[string]bool
}

func newResolver(t modelTable) (*resolver, error) {
	r := &resolver{t: t, mult: t.SizeMultiplier, used: make(map[string]bool)}
	if r.mult == 0 {
		r.mult = 1
	}
	if t.MigrationReference != "" {
		v, ok := t.Sizes[t.MigrationReference]
		if !ok {
			return nil, fmt.Errorf("%w: migration_reference %q is not a size", ErrInvalidTable, t.MigrationReference)
		}
		r.used["sizes."+t.MigrationReference] = true
		r.refSize = v * r.mult
	}
	return r, nil
}

func (r *resolver) size(q quantity) (float64, error) {
	if q.name == "" {
		return q.literal, nil
	}
	v, ok := r.t.Sizes[q.name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown size %q", ErrInvalidTable, q.name)
	}
	r.used["sizes."+q.name] = true
	return v * r.mult, nil
}

func (r *resolver) time(q quantity, offset int) (float64, error) {
	if q.name == "" {
		return q.literal + float64(offset), nil
	}
	years, ok := r.t.Times[q.name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown time %q", ErrInvalidTable, q.name)
	}
	r.used["times."+q.name] = true
	return math.Trunc(years/r.t.GenerationTime) + float64(offset), nil
}

func (r *resolver) rate(q quantity) (float64, error) {
	if q.name == "" {
		return q.literal, nil
	}
	scaled, ok := r.t.Rates[q.name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown rate %q", ErrInvalidTable, q.name)
	}
	if r.refSize == 0 {
		return 0, fmt.Errorf("%w: rate %q needs a migration_reference size", ErrInvalidTable, q.name)
	}
	r.used["rates."+q.name] = true
	return scaled / (2 * r.refSize), nil
}

func (r *resolver) unused() []string {
	var out []string
	for section, values := range map[string]map[string]float64{"sizes": r.t.Sizes, "times": r.t.Times, "rates": r.t.Rates} {
		for _, name := range sortedKeys(values) {
			if !r.used[section+"."+name] {
				out = append(out, section+"."+name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// buildModel resolves a table against its species and pushes it through the
// history builder.
func buildModel(t modelTable, sp *Species) (*DemographicModel, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("%w: model id is required", ErrInvalidTable)
	}
	if !(t.GenerationTime > 0) {
		return nil, fmt.Errorf("%w: %s: generation_time must be positive", ErrInvalidTable, t.ID)
	}
	citations, err := sp.resolveCitations(t.Citations)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.ID, err)
	}
	res, err := newResolver(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.ID, err)
	}

	b := demography.NewBuilder()
	for _, ref := range t.Populations {
		var p demography.Population
		if ref.inline != nil {
			p = ref.inline.population()
		} else {
			shared, ok := sp.populations[ref.ref]
			if !ok {
				return nil, fmt.Errorf("%s: %w: %s is not a %s population", t.ID, demography.ErrUnknownPopulation, ref.ref, sp.ID)
			}
			p = shared
		}
		if _, err := b.AddPopulation(p); err != nil {
			return nil, fmt.Errorf("%s: %w", t.ID, err)
		}
	}

	for _, id := range sortedKeys(t.InitialSizes) {
		idx, err := b.IndexOf(id)
		if err != nil {
			return nil, fmt.Errorf("%s: initial_sizes: %w", t.ID, err)
		}
		size, err := res.size(t.InitialSizes[id])
		if err != nil {
			return nil, fmt.Errorf("%s: initial_sizes: %w", t.ID, err)
		}
		if err := b.SetInitialSize(idx, size); err != nil {
			return nil, fmt.Errorf("%s: %w", t.ID, err)
		}
	}
	for _, id := range sortedKeys(t.GrowthRates) {
		idx, err := b.IndexOf(id)
		if err != nil {
			return nil, fmt.Errorf("%s: growth_rates: %w", t.ID, err)
		}
		if err := b.SetGrowthRate(idx, t.GrowthRates[id]); err != nil {
			return nil, fmt.Errorf("%s: %w", t.ID, err)
		}
	}
	for _, m := range t.Migration {
		src, err := b.IndexOf(m.Source)
		if err != nil {
			return nil, fmt.Errorf("%s: migration: %w", t.ID, err)
		}
		dst, err := b.IndexOf(m.Dest)
		if err != nil {
			return nil, fmt.Errorf("%s: migration: %w", t.ID, err)
		}
		rate, err := res.rate(m.Rate)
		if err != nil {
			return nil, fmt.Errorf("%s: migration: %w", t.ID, err)
		}
		if err := b.SetMigrationRate(src, dst, rate); err != nil {
			return nil, fmt.Errorf("%s: %w", t.ID, err)
		}
	}

	for i, e := range t.Events {
		at, err := res.time(e.Time, e.Offset)
		if err != nil {
			return nil, fmt.Errorf("%s: event %d: %w", t.ID, i, err)
		}
		payload, err := eventPayload(b, res, e)
		if err != nil {
			return nil, fmt.Errorf("%s: event %d: %w", t.ID, i, err)
		}
		if err := b.AddEvent(at, payload); err != nil {
			return nil, fmt.Errorf("%s: event %d: %w", t.ID, i, err)
		}
	}

	h, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.ID, err)
	}

	return &DemographicModel{
		ID:              t.ID,
		SpeciesID:       sp.ID,
		Description:     t.Description,
		LongDescription: t.LongDescription,
		Citations:       citations,
		GenerationTime:  t.GenerationTime,
		MutationRate:    t.MutationRate,
		History:         h,
		Notes:           res.unused(),
	}, nil
}

func eventPayload(b *demography.Builder, res *resolver, e eventDef) (demography.Payload, error) {
	switch e.Kind {
	case "size":
		idx, err := b.IndexOf(e.Population)
		if err != nil {
			return nil, err
		}
		if e.Size == nil {
			return nil, fmt.Errorf("%w: size event needs a size", ErrInvalidTable)
		}
		size, err := res.size(*e.Size)
		if err != nil {
			return nil, err
		}
		if e.GrowthRate != nil {
			return demography.ResizeWithGrowth(idx, size, *e.GrowthRate), nil
		}
		return demography.Resize(idx, size), nil
	case "migration":
		if e.Rate == nil {
			return nil, fmt.Errorf("%w: migration event needs a rate", ErrInvalidTable)
		}
		rate, err := res.rate(*e.Rate)
		if err != nil {
			return nil, err
		}
		if e.Source == "" && e.Dest == "" {
			return demography.ResetMigration(rate), nil
		}
		src, err := b.IndexOf(e.Source)
		if err != nil {
			return nil, err
		}
		dst, err := b.IndexOf(e.Dest)
		if err != nil {
			return nil, err
		}
		return demography.SetMigration(src, dst, rate), nil
	case "merge":
		src, err := b.IndexOf(e.Source)
		if err != nil {
			return nil, err
		}
		dst, err := b.IndexOf(e.Dest)
		if err != nil {
			return nil, err
		}
		proportion := 1.0
		if e.Proportion != nil {
			proportion = *e.Proportion
		}
		return demography.MergeInto(src, dst, proportion), nil
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidTable, e.Kind)
	}
}
