package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"popcatalog/internal/demography"
)

func loadDefault(t *testing.T) *Catalog {
	t.Helper()
	c, err := Default(zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestDefaultCatalogSpecies(t *testing.T) {
	t.Parallel()

	c := loadDefault(t)
	species := c.ListSpecies()
	require.Len(t, species, 1)

	sp, err := c.Species("PanTro")
	require.NoError(t, err)
	require.Equal(t, "Pan Troglodytes", sp.Name)
	require.Equal(t, "Chimpanzee", sp.CommonName)
	require.Equal(t, 25.0, sp.GenerationTime)
	require.Equal(t, 15000.0, sp.PopulationSize)
	require.Len(t, sp.Citations, 2)
	require.Equal(t, "Langergraber et al.", sp.Citations[0].Author)
	require.Equal(t, []CiteReason{ReasonGenerationTime}, sp.Citations[0].Reasons)
	require.Equal(t, []CiteReason{ReasonPopulationSize}, sp.Citations[1].Reasons)
	require.Len(t, sp.Genome.Citations, 3)
	require.Empty(t, sp.Genome.Chromosomes)

	_, err = sp.Chromosome("1")
	require.ErrorIs(t, err, ErrChromosomeNotFound)

	_, err = c.Species("HomSap")
	require.ErrorIs(t, err, ErrSpeciesNotFound)
}

func TestDefaultCatalogGeneticMap(t *testing.T) {
	t.Parallel()

	sp, err := loadDefault(t).Species("PanTro")
	require.NoError(t, err)

	maps := sp.GeneticMaps()
	require.Len(t, maps, 1)
	gm, err := sp.GeneticMap("PanMap_GRCh37")
	require.NoError(t, err)
	require.Equal(t, "PanMap lifted over to GRCh37", gm.Description)
	require.Equal(t, "genetic_map_GRCh37_chr22.txt", gm.FileName("22"))
	require.Len(t, gm.Citations, 1)
	require.Equal(t, []CiteReason{ReasonGeneticMap}, gm.Citations[0].Reasons)

	_, err = sp.GeneticMap("HapMapII_GRCh37")
	require.ErrorIs(t, err, ErrGeneticMapNotFound)
}

func TestDefaultCatalogWithholdsInconsistentModels(t *testing.T) {
	t.Parallel()

	c := loadDefault(t)
	defects := c.Defects()
	require.Len(t, defects, 2)
	require.Equal(t, "BCEN_4D16", defects[0].ModelID)
	require.Equal(t, "BCEW_4D16", defects[1].ModelID)
	for _, d := range defects {
		require.Equal(t, "PanTro", d.SpeciesID)
		require.ErrorIs(t, d, demography.ErrInconsistentHistory)
		require.Contains(t, d.Error(), "East")
	}

	_, err := c.Model("PanTro", "BCEN_4D16")
	require.ErrorIs(t, err, ErrModelNotFound)
}

func TestBonoboArchaicAdmixture(t *testing.T) {
	t.Parallel()

	m, err := loadDefault(t).Model("PanTro", "BonoboArchaicAdmixture_4K19")
	require.NoError(t, err)
	require.Equal(t, "PanTro", m.SpeciesID)
	require.Equal(t, 25.0, m.GenerationTime)
	require.Len(t, m.Citations, 1)
	require.Equal(t, "Kuhlwilm et al.", m.Citations[0].Author)

	h := m.History
	require.Equal(t, 4, h.NumPopulations())
	ghost, err := h.IndexOf("Ghost")
	require.NoError(t, err)
	require.Equal(t, 3, ghost)
	pop, err := h.Population(ghost)
	require.NoError(t, err)
	require.True(t, pop.IsGhost())

	present, err := h.At(0)
	require.NoError(t, err)
	require.Equal(t, map[int]float64{0: 1382, 1: 2084, 2: 772, 3: 87132}, present.Sizes)
	require.Empty(t, present.Migrations)

	const refSize = 2 * 87132.0
	westEra, err := h.At(7800)
	require.NoError(t, err)
	require.Equal(t, []demography.MigrationEntry{
		{Source: 1, Dest: 2, Rate: 1.750 / refSize},
		{Source: 2, Dest: 1, Rate: 1.211 / refSize},
	}, westEra.Migrations)

	admixed, err := h.At(48360)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 3}, admixed.Active)

	ancient, err := h.At(129160)
	require.NoError(t, err)
	require.Equal(t, []int{3}, ancient.Active)
	require.Equal(t, map[int]float64{3: 87132}, ancient.Sizes)

	epochs := h.Epochs()
	require.Len(t, epochs, 7)
	require.Equal(t, 129160.0, epochs[6].Start)

	require.Equal(t, []string{
		"sizes.N_Bon", "sizes.N_Cent", "sizes.N_West",
		"sizes.N_anc_Bon", "sizes.N_anc_Cent", "sizes.N_anc_West",
		"times.T_Bon_resize", "times.T_Cent_resize", "times.T_West_resize",
	}, m.Notes)
}

func TestSamples(t *testing.T) {
	t.Parallel()

	m, err := loadDefault(t).Model("PanTro", "BonoboArchaicAdmixture_4K19")
	require.NoError(t, err)

	samples, err := m.Samples(map[string]int{"Cent": 4, "Bon": 2, "West": 0})
	require.NoError(t, err)
	require.Equal(t, []Sample{
		{Population: "Bon", Index: 0, Time: 0, Count: 2},
		{Population: "Cent", Index: 1, Time: 0, Count: 4},
	}, samples)

	_, err = m.Samples(map[string]int{"Ghost": 2})
	require.ErrorIs(t, err, ErrNotSampled)

	_, err = m.Samples(map[string]int{"NigCam": 2})
	require.ErrorIs(t, err, demography.ErrUnknownPopulation)

	_, err = m.Samples(map[string]int{"Bon": -1})
	require.ErrorIs(t, err, demography.ErrInvalidValue)
}

func TestModelRecordRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := loadDefault(t).Model("PanTro", "BonoboArchaicAdmixture_4K19")
	require.NoError(t, err)

	back, err := ModelFromRecord(m.Record())
	require.NoError(t, err)
	require.Equal(t, m.ID, back.ID)
	require.Equal(t, m.Citations, back.Citations)
	require.Equal(t, m.History.Events(), back.History.Events())
	require.Equal(t, m.History.Epochs(), back.History.Epochs())
}

const speciesFixture = `
id: Tst
name: Testus testus
generation_time: 10
references:
  someone:
    author: Someone et al.
    year: "2020"
    doi: https://doi.org/10.0/test
populations:
  A: {description: first}
  B: {description: second}
`

const goodModel = `
id: Split
generation_time: 10
citations:
  - {ref: someone, reasons: [demographic_model]}
size_multiplier: 2
migration_reference: N_anc
populations: [A, B]
sizes: {N_A: 500, N_B: 1000, N_anc: 2000, N_spare: 1}
times: {T_split: 10000}
rates: {m_AB: 0.4}
initial_sizes: {A: N_A, B: N_B}
migration:
  - {source: A, dest: B, rate: m_AB}
events:
  - {kind: merge, time: T_split, source: B, dest: A}
  - {kind: size, time: T_split, population: A, size: N_anc}
`

func TestLoadFromFS(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"tst/species.yaml":       {Data: []byte(speciesFixture)},
		"tst/models/split.yaml":  {Data: []byte(goodModel)},
		"tst/models/broken.yaml": {Data: []byte("id: Broken\ngeneration_time: 10\nbogus: 1\n")},
	}
	c, err := Load(fsys, zerolog.Nop())
	require.NoError(t, err)

	m, err := c.Model("Tst", "Split")
	require.NoError(t, err)
	require.Equal(t, []string{"sizes.N_spare"}, m.Notes)

	rate, err := m.History.MigrationRate(0, 1)
	require.NoError(t, err)
	require.InDelta(t, 0.4/(2*4000), rate, 1e-15)

	size, err := m.History.InitialSize(1)
	require.NoError(t, err)
	require.Equal(t, 2000.0, size)

	snap, err := m.History.At(1000)
	require.NoError(t, err)
	require.Equal(t, []int{0}, snap.Active)
	require.Equal(t, map[int]float64{0: 4000}, snap.Sizes)

	defects := c.Defects()
	require.Len(t, defects, 1)
	require.Equal(t, "broken.yaml", defects[0].ModelID)
	require.ErrorIs(t, defects[0], ErrInvalidTable)
}

func TestModelTableErrors(t *testing.T) {
	t.Parallel()

	c, err := Load(fstest.MapFS{"tst/species.yaml": {Data: []byte(speciesFixture)}}, zerolog.Nop())
	require.NoError(t, err)
	sp, err := c.Species("Tst")
	require.NoError(t, err)

	tests := []struct {
		name  string
		table string
		want  error
	}{
		{name: "empty", table: "", want: ErrInvalidTable},
		{name: "unknown field", table: "id: X\ngeneration_time: 10\nextra: true\n", want: ErrInvalidTable},
		{name: "missing id", table: "generation_time: 10\n", want: ErrInvalidTable},
		{name: "no generation time", table: "id: X\n", want: ErrInvalidTable},
		{name: "unknown reference", table: "id: X\ngeneration_time: 10\ncitations: [{ref: nobody}]\n", want: ErrInvalidTable},
		{name: "unknown reason", table: "id: X\ngeneration_time: 10\ncitations: [{ref: someone, reasons: [vibes]}]\n", want: ErrInvalidTable},
		{name: "unknown population", table: "id: X\ngeneration_time: 10\npopulations: [Z]\n", want: demography.ErrUnknownPopulation},
		{name: "unknown size", table: "id: X\ngeneration_time: 10\npopulations: [A]\ninitial_sizes: {A: N_missing}\n", want: ErrInvalidTable},
		{name: "fractional literal time", table: "id: X\ngeneration_time: 10\npopulations: [A]\ninitial_sizes: {A: 1}\nevents: [{kind: size, time: 2.5, population: A, size: 3}]\n", want: demography.ErrInvalidValue},
		{name: "fractional offset", table: "id: X\ngeneration_time: 10\npopulations: [A]\ninitial_sizes: {A: 1}\ntimes: {T: 100}\nevents: [{kind: size, time: T, offset: 0.5, population: A, size: 3}]\n", want: ErrInvalidTable},
		{name: "rate without reference", table: "id: X\ngeneration_time: 10\npopulations: [A, B]\ninitial_sizes: {A: 1, B: 1}\nrates: {m: 1}\nmigration: [{source: A, dest: B, rate: m}]\n", want: ErrInvalidTable},
		{name: "unknown event kind", table: "id: X\ngeneration_time: 10\npopulations: [A]\ninitial_sizes: {A: 1}\nevents: [{kind: explode, time: 1}]\n", want: ErrInvalidTable},
		{name: "missing initial size", table: "id: X\ngeneration_time: 10\npopulations: [A]\n", want: demography.ErrInconsistentHistory},
		{name: "duplicate population", table: "id: X\ngeneration_time: 10\npopulations: [A, A]\n", want: demography.ErrDuplicateID},
		{name: "bad proportion", table: "id: X\ngeneration_time: 10\npopulations: [A, B]\ninitial_sizes: {A: 1, B: 1}\nevents: [{kind: merge, time: 1, source: B, dest: A, proportion: 1.5}]\n", want: demography.ErrInvalidValue},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseModel([]byte(tc.table), sp)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLoadModelFile(t *testing.T) {
	t.Parallel()

	c, err := Load(fstest.MapFS{"tst/species.yaml": {Data: []byte(speciesFixture)}}, zerolog.Nop())
	require.NoError(t, err)
	sp, err := c.Species("Tst")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "split.yaml")
	require.NoError(t, os.WriteFile(path, []byte(goodModel), 0o644))

	m, err := LoadModelFile(path, sp)
	require.NoError(t, err)
	require.Equal(t, "Split", m.ID)
	require.Empty(t, sp.Models(), "loading a file does not register it")

	_, err = LoadModelFile(filepath.Join(t.TempDir(), "missing.yaml"), sp)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = ParseModel([]byte("id: Unsized\ngeneration_time: 10\npopulations: [A]\n"), sp)
	var defect Defect
	require.ErrorAs(t, err, &defect)
	require.Equal(t, "Tst", defect.SpeciesID)
	require.Equal(t, "Unsized", defect.ModelID)
	require.ErrorIs(t, err, demography.ErrInconsistentHistory)

	_, err = ParseModel([]byte("id: Odd\nbogus: 1\n"), sp)
	require.ErrorIs(t, err, ErrInvalidTable)
	require.False(t, errors.As(err, &defect), "decode failures carry no model id")
}
