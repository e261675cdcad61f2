package demography

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// History is an immutable, validated demographic history. It is safe for
// concurrent readers; every accessor returns copies.
type History struct {
	populations  []Population
	initialSizes []float64
	growthRates  []float64
	migration    *mat.Dense
	events       []Event
	epochs       []Epoch
}

func (h *History) NumPopulations() int { return len(h.populations) }

func (h *History) Populations() []Population {
	return append([]Population(nil), h.populations...)
}

func (h *History) Population(index int) (Population, error) {
	if err := checkIndex("Population", index, len(h.populations)); err != nil {
		return Population{}, err
	}
	return h.populations[index], nil
}

func (h *History) IndexOf(id string) (int, error) {
	for i, p := range h.populations {
		if p.id == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("IndexOf: %w: %s", ErrUnknownPopulation, id)
}

func (h *History) InitialSize(index int) (float64, error) {
	if err := checkIndex("InitialSize", index, len(h.populations)); err != nil {
		return 0, err
	}
	return h.initialSizes[index], nil
}

func (h *History) InitialGrowthRate(index int) (float64, error) {
	if err := checkIndex("InitialGrowthRate", index, len(h.populations)); err != nil {
		return 0, err
	}
	return h.growthRates[index], nil
}

// MigrationRate returns the present-day source->dest rate.
func (h *History) MigrationRate(source, dest int) (float64, error) {
	n := len(h.populations)
	if err := checkIndex("MigrationRate", source, n); err != nil {
		return 0, err
	}
	if err := checkIndex("MigrationRate", dest, n); err != nil {
		return 0, err
	}
	return h.migration.At(source, dest), nil
}

// MigrationMatrix returns a copy of the present-day matrix.
func (h *History) MigrationMatrix() *mat.Dense {
	return mat.DenseCopyOf(h.migration)
}

// Events returns the events in the order an engine consumes them.
func (h *History) Events() []Event {
	return append([]Event(nil), h.events...)
}

// Epochs returns the piecewise-constant intervals between distinct event times.
func (h *History) Epochs() []Epoch {
	out := make([]Epoch, len(h.epochs))
	for i, e := range h.epochs {
		out[i] = e.clone()
	}
	return out
}

// MigrationEntry is a non-zero source->dest rate between active lineages.
type MigrationEntry struct {
	Source int
	Dest   int
	Rate   float64
}

// Snapshot is the engine-facing state of a history at one time.
type Snapshot struct {
	Time        float64
	Active      []int
	IDs         []string
	Sizes       map[int]float64
	GrowthRates map[int]float64
	Migrations  []MigrationEntry
}

// At reports the state in effect t generations ago. Events scheduled exactly
// at t are already applied.
func (h *History) At(t float64) (Snapshot, error) {
	if !finite(t) || t < 0 {
		return Snapshot{}, opErrorf("At", ErrInvalidValue, "query time %v", t)
	}
	epoch := h.epochs[len(h.epochs)-1]
	for _, e := range h.epochs {
		if t >= e.Start && t < e.End {
			epoch = e
			break
		}
	}

	snap := Snapshot{
		Time:        t,
		Sizes:       make(map[int]float64),
		GrowthRates: make(map[int]float64),
	}
	for i, st := range epoch.States {
		if !st.Active {
			continue
		}
		snap.Active = append(snap.Active, i)
		snap.IDs = append(snap.IDs, h.populations[i].id)
		snap.Sizes[i] = epoch.SizeAt(i, t)
		snap.GrowthRates[i] = st.GrowthRate
	}
	for _, i := range snap.Active {
		for _, j := range snap.Active {
			if rate := epoch.migration.At(i, j); i != j && rate != 0 {
				snap.Migrations = append(snap.Migrations, MigrationEntry{Source: i, Dest: j, Rate: rate})
			}
		}
	}
	return snap, nil
}

// PopulationState is one lineage's parameters at the start of an epoch.
type PopulationState struct {
	Active     bool
	StartSize  float64
	GrowthRate float64
}

// Epoch is the interval [Start, End) with constant parameters.
type Epoch struct {
	Start     float64
	End       float64
	States    []PopulationState
	migration *mat.Dense
}

// SizeAt returns the size of population i at time t within the epoch.
func (e Epoch) SizeAt(i int, t float64) float64 {
	st := e.States[i]
	if st.GrowthRate == 0 {
		return st.StartSize
	}
	return st.StartSize * math.Exp(-st.GrowthRate*(t-e.Start))
}

func (e Epoch) MigrationRate(source, dest int) float64 {
	return e.migration.At(source, dest)
}

// Migration returns a copy of the epoch's matrix; rows and columns of
// inactive lineages are zero.
func (e Epoch) Migration() *mat.Dense {
	return mat.DenseCopyOf(e.migration)
}

// Immigration returns, per population, the total rate at which its lineages
// move to other populations going back in time (the matrix row sums).
func (e Epoch) Immigration() []float64 {
	n, _ := e.migration.Dims()
	ones := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ones.SetVec(i, 1)
	}
	var sums mat.VecDense
	sums.MulVec(e.migration, ones)
	return mat.Col(nil, 0, &sums)
}

func (e Epoch) clone() Epoch {
	return Epoch{
		Start:     e.Start,
		End:       e.End,
		States:    append([]PopulationState(nil), e.States...),
		migration: mat.DenseCopyOf(e.migration),
	}
}

type lineage struct {
	active     bool
	anchorSize float64
	anchorTime float64
	growth     float64
}

func (l lineage) sizeAt(t float64) float64 {
	if l.growth == 0 {
		return l.anchorSize
	}
	return l.anchorSize * math.Exp(-l.growth*(t-l.anchorTime))
}

func computeEpochs(h *History) []Epoch {
	n := len(h.populations)
	lines := make([]lineage, n)
	for i := range lines {
		lines[i] = lineage{active: true, anchorSize: h.initialSizes[i], growth: h.growthRates[i]}
	}
	mig := mat.DenseCopyOf(h.migration)

	snapshot := func(start, end float64) Epoch {
		states := make([]PopulationState, n)
		for i, l := range lines {
			states[i] = PopulationState{Active: l.active, StartSize: l.sizeAt(start), GrowthRate: l.growth}
		}
		return Epoch{Start: start, End: end, States: states, migration: mat.DenseCopyOf(mig)}
	}

	var epochs []Epoch
	start := 0.0
	for k := 0; k < len(h.events); {
		t := h.events[k].Time
		if t > start {
			epochs = append(epochs, snapshot(start, t))
			start = t
		}
		for ; k < len(h.events) && h.events[k].Time == t; k++ {
			applyEvent(lines, mig, h.events[k])
		}
	}
	return append(epochs, snapshot(start, math.Inf(1)))
}

func applyEvent(lines []lineage, mig *mat.Dense, e Event) {
	switch p := e.Payload.(type) {
	case SizeChange:
		l := &lines[p.Population]
		l.anchorSize = p.Size
		l.anchorTime = e.Time
		if p.SetGrowth {
			l.growth = p.GrowthRate
		}
	case MigrationRateChange:
		if !p.AllPairs() {
			mig.Set(p.Source, p.Dest, p.Rate)
			return
		}
		for i := range lines {
			for j := range lines {
				if i != j && lines[i].active && lines[j].active {
					mig.Set(i, j, p.Rate)
				}
			}
		}
	case Merge:
		if !p.Full() {
			return
		}
		lines[p.Source].active = false
		n := len(lines)
		mig.SetRow(p.Source, make([]float64, n))
		mig.SetCol(p.Source, make([]float64, n))
	}
}

func denseOf(m [][]float64) *mat.Dense {
	n := len(m)
	data := make([]float64, 0, n*n)
	for _, row := range m {
		data = append(data, row...)
	}
	return mat.NewDense(n, n, data)
}

func rowsOf(m *mat.Dense) [][]float64 {
	n, _ := m.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}
