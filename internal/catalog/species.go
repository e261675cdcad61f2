package catalog

import (
	"fmt"
	"sort"

	"popcatalog/internal/demography"
)

type CiteReason string

const (
	ReasonDemographicModel  CiteReason = "demographic_model"
	ReasonAssembly          CiteReason = "assembly"
	ReasonMutationRate      CiteReason = "mutation_rate"
	ReasonRecombinationRate CiteReason = "recombination_rate"
	ReasonGenerationTime    CiteReason = "generation_time"
	ReasonPopulationSize    CiteReason = "population_size"
	ReasonGeneticMap        CiteReason = "genetic_map"
)

func parseReason(raw string) (CiteReason, error) {
	switch r := CiteReason(raw); r {
	case ReasonDemographicModel, ReasonAssembly, ReasonMutationRate, ReasonRecombinationRate,
		ReasonGenerationTime, ReasonPopulationSize, ReasonGeneticMap:
		return r, nil
	default:
		return "", fmt.Errorf("unknown citation reason %q", raw)
	}
}

type Citation struct {
	Author  string
	Year    string
	DOI     string
	Reasons []CiteReason
}

// Because returns a copy of c cited for exactly the given reasons.
func (c Citation) Because(reasons ...CiteReason) Citation {
	c.Reasons = append([]CiteReason(nil), reasons...)
	return c
}

func (c Citation) String() string {
	return fmt.Sprintf("%s (%s) %s", c.Author, c.Year, c.DOI)
}

type Chromosome struct {
	ID                string
	Length            int64
	Synonyms          []string
	MutationRate      float64
	RecombinationRate float64
}

type Genome struct {
	AssemblyName      string
	AssemblyAccession string
	Chromosomes       []Chromosome
	Citations         []Citation
}

// GeneticMap describes a downloadable recombination map. Only metadata is
// carried; fetching and checksum verification belong to the consumer.
type GeneticMap struct {
	ID              string
	Description     string
	LongDescription string
	URL             string
	SHA256          string
	FilePattern     string
	Citations       []Citation
}

// FileName returns the map file name for a chromosome id.
func (g GeneticMap) FileName(chromosomeID string) string {
	return expandPattern(g.FilePattern, chromosomeID)
}

type Species struct {
	ID             string
	Name           string
	CommonName     string
	Genome         Genome
	GenerationTime float64
	PopulationSize float64
	Citations      []Citation

	// MutationRate and RecombinationRate are the genome-wide defaults applied
	// to chromosomes that do not carry their own.
	MutationRate      float64
	RecombinationRate float64

	populations map[string]demography.Population
	references  map[string]Citation
	models      map[string]*DemographicModel
	modelOrder  []string
	geneticMaps map[string]GeneticMap
	mapOrder    []string
}

func (s *Species) Model(id string) (*DemographicModel, error) {
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrModelNotFound, s.ID, id)
	}
	return m, nil
}

// Models returns the species' models in registration order.
func (s *Species) Models() []*DemographicModel {
	out := make([]*DemographicModel, 0, len(s.modelOrder))
	for _, id := range s.modelOrder {
		out = append(out, s.models[id])
	}
	return out
}

func (s *Species) GeneticMap(id string) (GeneticMap, error) {
	g, ok := s.geneticMaps[id]
	if !ok {
		return GeneticMap{}, fmt.Errorf("%w: %s/%s", ErrGeneticMapNotFound, s.ID, id)
	}
	return g, nil
}

func (s *Species) GeneticMaps() []GeneticMap {
	out := make([]GeneticMap, 0, len(s.mapOrder))
	for _, id := range s.mapOrder {
		out = append(out, s.geneticMaps[id])
	}
	return out
}

// Chromosome looks up a chromosome by id or synonym.
func (s *Species) Chromosome(id string) (Chromosome, error) {
	for _, c := range s.Genome.Chromosomes {
		if c.ID == id {
			return c, nil
		}
		for _, syn := range c.Synonyms {
			if syn == id {
				return c, nil
			}
		}
	}
	return Chromosome{}, fmt.Errorf("%w: %s/%s", ErrChromosomeNotFound, s.ID, id)
}

// Population returns a population shared by this species' models.
func (s *Species) Population(id string) (demography.Population, error) {
	p, ok := s.populations[id]
	if !ok {
		return demography.Population{}, fmt.Errorf("%w: %s/%s", demography.ErrUnknownPopulation, s.ID, id)
	}
	return p, nil
}

func (s *Species) resolveCitations(uses []citationUse) ([]Citation, error) {
	out := make([]Citation, 0, len(uses))
	for _, use := range uses {
		c, ok := s.references[use.Ref]
		if !ok {
			return nil, fmt.Errorf("%w: unknown reference %q", ErrInvalidTable, use.Ref)
		}
		reasons := make([]CiteReason, 0, len(use.Reasons))
		for _, raw := range use.Reasons {
			r, err := parseReason(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
			}
			reasons = append(reasons, r)
		}
		out = append(out, c.Because(reasons...))
	}
	return out, nil
}

func (s *Species) addModel(m *DemographicModel) error {
	if _, exists := s.models[m.ID]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateModel, s.ID, m.ID)
	}
	s.models[m.ID] = m
	s.modelOrder = append(s.modelOrder, m.ID)
	return nil
}

func (s *Species) addGeneticMap(g GeneticMap) error {
	if _, exists := s.geneticMaps[g.ID]; exists {
		return fmt.Errorf("%w: genetic map %s/%s", ErrDuplicateModel, s.ID, g.ID)
	}
	s.geneticMaps[g.ID] = g
	s.mapOrder = append(s.mapOrder, g.ID)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
