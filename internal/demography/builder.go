package demography

import (
	"fmt"
	"math"
	"sort"
)

// Builder accumulates populations, present-day parameters and events. Each
// mutator rejects arguments that are invalid against the current state and
// leaves the builder untouched when it does; Build re-validates everything and
// runs the time-ordered consistency pass.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	populations []Population
	index       map[string]int
	initial     []float64
	initialSet  []bool
	growth      []float64
	migration   [][]float64
	events      []Event
}

func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// AddPopulation declares p and returns its stable index.
func (b *Builder) AddPopulation(p Population) (int, error) {
	const op = "AddPopulation"
	if err := p.validate(op); err != nil {
		return -1, err
	}
	if existing, ok := b.index[p.id]; ok {
		return -1, opErrorf(op, ErrDuplicateID, "%s already declared at index %d", p.id, existing)
	}

	idx := len(b.populations)
	b.populations = append(b.populations, p)
	b.index[p.id] = idx
	b.initial = append(b.initial, 0)
	b.initialSet = append(b.initialSet, false)
	b.growth = append(b.growth, 0)
	for i := range b.migration {
		b.migration[i] = append(b.migration[i], 0)
	}
	b.migration = append(b.migration, make([]float64, idx+1))
	return idx, nil
}

// IndexOf resolves a declared population id.
func (b *Builder) IndexOf(id string) (int, error) {
	idx, ok := b.index[id]
	if !ok {
		return -1, fmt.Errorf("IndexOf: %w: %s", ErrUnknownPopulation, id)
	}
	return idx, nil
}

// Len returns the number of declared populations.
func (b *Builder) Len() int { return len(b.populations) }

func (b *Builder) SetInitialSize(index int, size float64) error {
	const op = "SetInitialSize"
	if err := checkIndex(op, index, len(b.populations)); err != nil {
		return err
	}
	if !finite(size) || size <= 0 {
		return opErrorf(op, ErrInvalidValue, "size %v for population %s", size, b.populations[index].id)
	}
	b.initial[index] = size
	b.initialSet[index] = true
	return nil
}

// SetGrowthRate sets the present-day exponential growth rate of a population.
// Positive rates mean the population shrinks going back in time.
func (b *Builder) SetGrowthRate(index int, rate float64) error {
	const op = "SetGrowthRate"
	if err := checkIndex(op, index, len(b.populations)); err != nil {
		return err
	}
	if !finite(rate) {
		return opErrorf(op, ErrInvalidValue, "growth rate %v for population %s", rate, b.populations[index].id)
	}
	b.growth[index] = rate
	return nil
}

// SetMigrationRate sets the present-day rate from source to dest. The reverse
// direction is not touched.
func (b *Builder) SetMigrationRate(source, dest int, rate float64) error {
	const op = "SetMigrationRate"
	n := len(b.populations)
	if err := checkIndex(op, source, n); err != nil {
		return err
	}
	if err := checkIndex(op, dest, n); err != nil {
		return err
	}
	if source == dest {
		return opErrorf(op, ErrInvalidValue, "migration from population %s to itself", b.populations[source].id)
	}
	if !finite(rate) || rate < 0 {
		return opErrorf(op, ErrInvalidValue, "migration rate %v", rate)
	}
	b.migration[source][dest] = rate
	return nil
}

// MigrationRate reads back the present-day source->dest rate.
func (b *Builder) MigrationRate(source, dest int) (float64, error) {
	n := len(b.populations)
	if err := checkIndex("MigrationRate", source, n); err != nil {
		return 0, err
	}
	if err := checkIndex("MigrationRate", dest, n); err != nil {
		return 0, err
	}
	return b.migration[source][dest], nil
}

// AddEvent appends an event. Events may be added in any time order.
func (b *Builder) AddEvent(time float64, payload Payload) error {
	const op = "AddEvent"
	if err := checkEventTime(op, time); err != nil {
		return err
	}
	if err := checkPayload(op, payload, len(b.populations)); err != nil {
		return err
	}
	b.events = append(b.events, Event{Time: time, Payload: payload})
	return nil
}

// Build validates the accumulated state and returns an immutable History.
// Calling Build again without further mutation yields an equal History.
func (b *Builder) Build() (*History, error) {
	const op = "Build"
	n := len(b.populations)
	if n == 0 {
		return nil, opErrorf(op, ErrInconsistentHistory, "no populations declared")
	}

	seen := make(map[string]struct{}, n)
	for i, p := range b.populations {
		if err := p.validate(op); err != nil {
			return nil, err
		}
		if _, dup := seen[p.id]; dup {
			return nil, opErrorf(op, ErrDuplicateID, "%s", p.id)
		}
		seen[p.id] = struct{}{}
		if !b.initialSet[i] {
			return nil, opErrorf(op, ErrInconsistentHistory, "population %s has no initial size", p.id)
		}
		if !finite(b.initial[i]) || b.initial[i] <= 0 {
			return nil, opErrorf(op, ErrInvalidValue, "size %v for population %s", b.initial[i], p.id)
		}
		if !finite(b.growth[i]) {
			return nil, opErrorf(op, ErrInvalidValue, "growth rate %v for population %s", b.growth[i], p.id)
		}
	}
	for i := range b.migration {
		for j, rate := range b.migration[i] {
			if i == j && rate != 0 {
				return nil, opErrorf(op, ErrInconsistentHistory, "migration matrix diagonal entry %d is %v", i, rate)
			}
			if !finite(rate) || rate < 0 {
				return nil, opErrorf(op, ErrInvalidValue, "migration rate %v at (%d,%d)", rate, i, j)
			}
		}
	}
	for _, e := range b.events {
		if err := checkEventTime(op, e.Time); err != nil {
			return nil, err
		}
		if err := checkPayload(op, e.Payload, n); err != nil {
			return nil, err
		}
	}

	events := canonicalOrder(b.events)
	if err := checkLineages(b.populations, events); err != nil {
		return nil, err
	}

	h := &History{
		populations:  append([]Population(nil), b.populations...),
		initialSizes: append([]float64(nil), b.initial...),
		growthRates:  append([]float64(nil), b.growth...),
		migration:    denseOf(b.migration),
		events:       events,
	}
	h.epochs = computeEpochs(h)
	return h, nil
}

// checkEventTime accepts whole, non-negative generations.
func checkEventTime(op string, t float64) error {
	if !finite(t) || t < 0 || t != math.Trunc(t) {
		return opErrorf(op, ErrInvalidValue, "event time %v is not a whole number of generations", t)
	}
	return nil
}

// checkPayload accepts only the value forms of the three payload kinds.
func checkPayload(op string, p Payload, n int) error {
	switch p.(type) {
	case SizeChange, MigrationRateChange, Merge:
		return p.validate(op, n)
	case nil:
		return opErrorf(op, ErrInvalidValue, "event payload is required")
	default:
		return opErrorf(op, ErrInvalidValue, "unsupported event payload %T", p)
	}
}

// canonicalOrder sorts by time; at equal times parameter changes precede
// merges and insertion order is otherwise kept.
func canonicalOrder(events []Event) []Event {
	out := append([]Event(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].Payload.phase() < out[j].Payload.phase()
	})
	return out
}

// checkLineages walks events into the past and rejects any reference to a
// lineage that a full merge already removed.
func checkLineages(pops []Population, events []Event) error {
	const op = "Build"
	mergedAt := make([]float64, len(pops))
	merged := make([]bool, len(pops))

	dead := func(e Event, idx int, role string) error {
		if !merged[idx] {
			return nil
		}
		return opErrorf(op, ErrInconsistentHistory, "event at t=%v (%s) uses population %s as %s after it merged away at t=%v",
			e.Time, describePayload(e.Payload), pops[idx].id, role, mergedAt[idx])
	}

	for _, e := range events {
		switch p := e.Payload.(type) {
		case SizeChange:
			if err := dead(e, p.Population, "resize target"); err != nil {
				return err
			}
		case MigrationRateChange:
			if p.AllPairs() {
				continue
			}
			if err := dead(e, p.Source, "migration source"); err != nil {
				return err
			}
			if err := dead(e, p.Dest, "migration destination"); err != nil {
				return err
			}
		case Merge:
			if err := dead(e, p.Source, "merge source"); err != nil {
				return err
			}
			if err := dead(e, p.Dest, "merge destination"); err != nil {
				return err
			}
			if p.Full() {
				merged[p.Source] = true
				mergedAt[p.Source] = e.Time
			}
		}
	}
	return nil
}
