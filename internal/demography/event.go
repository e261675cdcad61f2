package demography

import "fmt"

// AllPopulations as both source and destination of a MigrationRateChange
// addresses every off-diagonal entry of the matrix.
const AllPopulations = -1

type EventKind string

const (
	KindSizeChange          EventKind = "size_change"
	KindMigrationRateChange EventKind = "migration_rate_change"
	KindMerge               EventKind = "merge"
)

// Payload is one of SizeChange, MigrationRateChange or Merge, passed by
// value. Pointer forms are rejected by the Builder.
type Payload interface {
	Kind() EventKind
	// phase orders payloads sharing an event time: parameter changes settle
	// before lineages merge.
	phase() int
	validate(op string, n int) error
}

// Event is a payload applied at Time generations before present.
type Event struct {
	Time    float64
	Payload Payload
}

func (e Event) String() string {
	return fmt.Sprintf("t=%v %s", e.Time, describePayload(e.Payload))
}

// SizeChange sets the effective size of Population. The growth rate is only
// replaced when SetGrowth is true.
type SizeChange struct {
	Population int
	Size       float64
	GrowthRate float64
	SetGrowth  bool
}

func Resize(population int, size float64) SizeChange {
	return SizeChange{Population: population, Size: size}
}

func ResizeWithGrowth(population int, size, growthRate float64) SizeChange {
	return SizeChange{Population: population, Size: size, GrowthRate: growthRate, SetGrowth: true}
}

func (SizeChange) Kind() EventKind { return KindSizeChange }
func (SizeChange) phase() int      { return 0 }

func (c SizeChange) validate(op string, n int) error {
	if err := checkIndex(op, c.Population, n); err != nil {
		return err
	}
	if !finite(c.Size) || c.Size <= 0 {
		return opErrorf(op, ErrInvalidValue, "size %v for population %d", c.Size, c.Population)
	}
	if c.SetGrowth && !finite(c.GrowthRate) {
		return opErrorf(op, ErrInvalidValue, "growth rate %v for population %d", c.GrowthRate, c.Population)
	}
	return nil
}

// MigrationRateChange sets the Source->Dest entry of the migration matrix, or
// every off-diagonal entry when both are AllPopulations.
type MigrationRateChange struct {
	Source int
	Dest   int
	Rate   float64
}

func SetMigration(source, dest int, rate float64) MigrationRateChange {
	return MigrationRateChange{Source: source, Dest: dest, Rate: rate}
}

func ResetMigration(rate float64) MigrationRateChange {
	return MigrationRateChange{Source: AllPopulations, Dest: AllPopulations, Rate: rate}
}

// AllPairs reports whether the change addresses the whole matrix.
func (c MigrationRateChange) AllPairs() bool {
	return c.Source == AllPopulations && c.Dest == AllPopulations
}

func (MigrationRateChange) Kind() EventKind { return KindMigrationRateChange }
func (MigrationRateChange) phase() int      { return 0 }

func (c MigrationRateChange) validate(op string, n int) error {
	if !finite(c.Rate) || c.Rate < 0 {
		return opErrorf(op, ErrInvalidValue, "migration rate %v", c.Rate)
	}
	if c.AllPairs() {
		return nil
	}
	if err := checkIndex(op, c.Source, n); err != nil {
		return err
	}
	if err := checkIndex(op, c.Dest, n); err != nil {
		return err
	}
	if c.Source == c.Dest {
		return opErrorf(op, ErrInvalidValue, "migration from population %d to itself", c.Source)
	}
	return nil
}

// Merge moves Proportion of Source's ancestry into Dest. A full merge removes
// Source from every older epoch.
type Merge struct {
	Source     int
	Dest       int
	Proportion float64
}

func MergeInto(source, dest int, proportion float64) Merge {
	return Merge{Source: source, Dest: dest, Proportion: proportion}
}

// Full reports whether the merge deactivates its source.
func (m Merge) Full() bool { return m.Proportion == 1 }

func (Merge) Kind() EventKind { return KindMerge }
func (Merge) phase() int      { return 1 }

func (m Merge) validate(op string, n int) error {
	if err := checkIndex(op, m.Source, n); err != nil {
		return err
	}
	if err := checkIndex(op, m.Dest, n); err != nil {
		return err
	}
	if m.Source == m.Dest {
		return opErrorf(op, ErrInvalidValue, "merge of population %d into itself", m.Source)
	}
	if !finite(m.Proportion) || m.Proportion <= 0 || m.Proportion > 1 {
		return opErrorf(op, ErrInvalidValue, "merge proportion %v", m.Proportion)
	}
	return nil
}

func checkIndex(op string, index, n int) error {
	if index < 0 || index >= n {
		return opErrorf(op, ErrUnknownPopulation, "index %d (have %d populations)", index, n)
	}
	return nil
}

func describePayload(p Payload) string {
	switch v := p.(type) {
	case SizeChange:
		if v.SetGrowth {
			return fmt.Sprintf("resize pop %d to %v growth %v", v.Population, v.Size, v.GrowthRate)
		}
		return fmt.Sprintf("resize pop %d to %v", v.Population, v.Size)
	case MigrationRateChange:
		if v.AllPairs() {
			return fmt.Sprintf("set all migration rates to %v", v.Rate)
		}
		return fmt.Sprintf("set migration %d->%d to %v", v.Source, v.Dest, v.Rate)
	case Merge:
		return fmt.Sprintf("merge %v of pop %d into pop %d", v.Proportion, v.Source, v.Dest)
	default:
		return "unknown event"
	}
}
