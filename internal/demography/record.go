package demography

import (
	"fmt"

	"popcatalog/internal/model"
)

// Record flattens h into its persistent form.
func (h *History) Record() model.HistoryRecord {
	rec := model.HistoryRecord{
		Populations:  make([]model.PopulationRecord, 0, len(h.populations)),
		InitialSizes: append([]float64(nil), h.initialSizes...),
		GrowthRates:  append([]float64(nil), h.growthRates...),
		Migration:    rowsOf(h.migration),
		Events:       make([]model.EventRecord, 0, len(h.events)),
	}
	for _, p := range h.populations {
		pr := model.PopulationRecord{ID: p.id, Description: p.description}
		if t, ok := p.SamplingTime(); ok {
			pr.SamplingTime = &t
		}
		rec.Populations = append(rec.Populations, pr)
	}
	for _, e := range h.events {
		er := model.EventRecord{Time: e.Time, Kind: string(e.Payload.Kind())}
		switch p := e.Payload.(type) {
		case SizeChange:
			er.Population = p.Population
			er.Size = p.Size
			er.GrowthRate = p.GrowthRate
			er.SetGrowth = p.SetGrowth
		case MigrationRateChange:
			er.Source = p.Source
			er.Dest = p.Dest
			er.Rate = p.Rate
		case Merge:
			er.Source = p.Source
			er.Dest = p.Dest
			er.Proportion = p.Proportion
		}
		rec.Events = append(rec.Events, er)
	}
	return rec
}

// FromRecord rebuilds a History through the Builder, so persisted data get
// the same validation as freshly declared models.
func FromRecord(rec model.HistoryRecord) (*History, error) {
	const op = "FromRecord"
	n := len(rec.Populations)
	if len(rec.InitialSizes) != n || len(rec.GrowthRates) != n || len(rec.Migration) != n {
		return nil, opErrorf(op, ErrInconsistentHistory, "record dimensions disagree with %d populations", n)
	}

	b := NewBuilder()
	for _, pr := range rec.Populations {
		p := NewGhostPopulation(pr.ID, pr.Description)
		if pr.SamplingTime != nil {
			p = p.SampledAt(*pr.SamplingTime)
		}
		if _, err := b.AddPopulation(p); err != nil {
			return nil, err
		}
	}
	for i := 0; i < n; i++ {
		if err := b.SetInitialSize(i, rec.InitialSizes[i]); err != nil {
			return nil, err
		}
		if err := b.SetGrowthRate(i, rec.GrowthRates[i]); err != nil {
			return nil, err
		}
		if len(rec.Migration[i]) != n {
			return nil, opErrorf(op, ErrInconsistentHistory, "migration row %d has %d entries", i, len(rec.Migration[i]))
		}
		for j, rate := range rec.Migration[i] {
			if i == j {
				if rate != 0 {
					return nil, opErrorf(op, ErrInconsistentHistory, "migration matrix diagonal entry %d is %v", i, rate)
				}
				continue
			}
			if err := b.SetMigrationRate(i, j, rate); err != nil {
				return nil, err
			}
		}
	}
	for _, er := range rec.Events {
		payload, err := payloadOf(er)
		if err != nil {
			return nil, err
		}
		if err := b.AddEvent(er.Time, payload); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func payloadOf(er model.EventRecord) (Payload, error) {
	switch EventKind(er.Kind) {
	case KindSizeChange:
		return SizeChange{Population: er.Population, Size: er.Size, GrowthRate: er.GrowthRate, SetGrowth: er.SetGrowth}, nil
	case KindMigrationRateChange:
		return MigrationRateChange{Source: er.Source, Dest: er.Dest, Rate: er.Rate}, nil
	case KindMerge:
		return Merge{Source: er.Source, Dest: er.Dest, Proportion: er.Proportion}, nil
	default:
		return nil, fmt.Errorf("FromRecord: %w: event kind %q", ErrInvalidValue, er.Kind)
	}
}
