package catalog

import (
	"fmt"
	"sort"
	"strings"

	"popcatalog/internal/demography"
	"popcatalog/internal/model"
)

// DemographicModel is a published demography for one species. Its History is
// immutable and may be handed to any number of concurrent simulations.
type DemographicModel struct {
	ID              string
	SpeciesID       string
	Description     string
	LongDescription string
	Citations       []Citation
	GenerationTime  float64
	MutationRate    float64
	History         *demography.History

	// Notes lists table parameters that were declared but never used by
	// any size, time or rate. They are reported, not removed.
	Notes []string
}

// Sample is a request for Count haploid genomes from one population.
type Sample struct {
	Population string
	Index      int
	Time       float64
	Count      int
}

// Samples turns per-population counts into sample requests ordered by
// population index. Ghost populations cannot be sampled.
func (m *DemographicModel) Samples(counts map[string]int) ([]Sample, error) {
	out := make([]Sample, 0, len(counts))
	for _, id := range sortedKeys(counts) {
		n := counts[id]
		idx, err := m.History.IndexOf(id)
		if err != nil {
			return nil, fmt.Errorf("samples for %s: %w", m.ID, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("samples for %s: %w: %d from %s", m.ID, demography.ErrInvalidValue, n, id)
		}
		if n == 0 {
			continue
		}
		pop, err := m.History.Population(idx)
		if err != nil {
			return nil, err
		}
		t, ok := pop.SamplingTime()
		if !ok {
			return nil, fmt.Errorf("samples for %s: %w: %s", m.ID, ErrNotSampled, id)
		}
		out = append(out, Sample{Population: id, Index: idx, Time: t, Count: n})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Record converts the model into its persistent form.
func (m *DemographicModel) Record() model.ModelRecord {
	rec := model.ModelRecord{
		SpeciesID:       m.SpeciesID,
		ID:              m.ID,
		Description:     m.Description,
		LongDescription: m.LongDescription,
		GenerationTime:  m.GenerationTime,
		MutationRate:    m.MutationRate,
		History:         m.History.Record(),
	}
	for _, c := range m.Citations {
		cr := model.CitationRecord{Author: c.Author, Year: c.Year, DOI: c.DOI}
		for _, r := range c.Reasons {
			cr.Reasons = append(cr.Reasons, string(r))
		}
		rec.Citations = append(rec.Citations, cr)
	}
	return rec
}

// ModelFromRecord rebuilds a model, re-validating its history.
func ModelFromRecord(rec model.ModelRecord) (*DemographicModel, error) {
	h, err := demography.FromRecord(rec.History)
	if err != nil {
		return nil, fmt.Errorf("model %s/%s: %w", rec.SpeciesID, rec.ID, err)
	}
	m := &DemographicModel{
		ID:              rec.ID,
		SpeciesID:       rec.SpeciesID,
		Description:     rec.Description,
		LongDescription: rec.LongDescription,
		GenerationTime:  rec.GenerationTime,
		MutationRate:    rec.MutationRate,
		History:         h,
	}
	for _, cr := range rec.Citations {
		c := Citation{Author: cr.Author, Year: cr.Year, DOI: cr.DOI}
		for _, raw := range cr.Reasons {
			r, err := parseReason(raw)
			if err != nil {
				return nil, fmt.Errorf("model %s/%s: %w", rec.SpeciesID, rec.ID, err)
			}
			c.Reasons = append(c.Reasons, r)
		}
		m.Citations = append(m.Citations, c)
	}
	return m, nil
}

func expandPattern(pattern, id string) string {
	return strings.ReplaceAll(pattern, "{id}", id)
}
