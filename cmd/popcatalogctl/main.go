package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
	"gonum.org/v1/gonum/mat"

	"popcatalog/internal/logging"
	api "popcatalog/pkg/popcatalog"
)

const timeLayout = "%Y-%m-%d %H:%M:%S UTC"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "species":
		return runSpecies(ctx, args[1:])
	case "models":
		return runModels(ctx, args[1:])
	case "describe":
		return runDescribe(ctx, args[1:])
	case "epochs":
		return runEpochs(ctx, args[1:])
	case "at":
		return runAt(ctx, args[1:])
	case "samples":
		return runSamples(ctx, args[1:])
	case "validate":
		return runValidate(ctx, args[1:])
	case "defects":
		return runDefects(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "stored":
		return runStored(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runSpecies(_ context.Context, args []string) error {
	cmd := newCommand("species")
	jsonOut := cmd.fs.Bool("json", false, "emit species list as JSON")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	items := client.Species()
	if *jsonOut {
		return writeJSON(items)
	}
	for _, sp := range items {
		fmt.Printf("species=%s name=%q common_name=%q generation_time=%g ne=%s models=%d genetic_maps=%s\n",
			sp.ID,
			sp.Name,
			sp.CommonName,
			sp.GenerationTime,
			humanize.Commaf(sp.PopulationSize),
			sp.Models,
			strings.Join(sp.GeneticMaps, ","),
		)
	}
	return nil
}

func runModels(_ context.Context, args []string) error {
	cmd := newCommand("models")
	jsonOut := cmd.fs.Bool("json", false, "emit model list as JSON")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	client, s, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	models, err := client.Models(s.Species)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(models)
	}
	if len(models) == 0 {
		fmt.Println("no models found")
		return nil
	}
	for _, m := range models {
		fmt.Printf("model=%s populations=%s events=%d epochs=%d description=%q\n",
			m.ID,
			strings.Join(m.Populations, ","),
			m.Events,
			m.Epochs,
			m.Description,
		)
	}
	return nil
}

func runDescribe(_ context.Context, args []string) error {
	cmd := newCommand("describe")
	modelID := cmd.fs.String("model", "", "model id")
	jsonOut := cmd.fs.Bool("json", false, "emit model detail as JSON")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	if *modelID == "" {
		return errors.New("describe requires --model")
	}
	client, s, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	detail, err := client.Describe(s.Species, *modelID)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(detail)
	}

	fmt.Printf("model=%s species=%s generation_time=%g mutation_rate=%g\n", detail.ID, detail.SpeciesID, detail.GenerationTime, detail.MutationRate)
	fmt.Printf("description=%q\n", detail.Description)
	for _, c := range detail.Citations {
		fmt.Printf("citation=%q\n", c)
	}
	for i, p := range detail.Lineages {
		sampling := "ghost"
		if p.SamplingTime != nil {
			sampling = strconv.FormatFloat(*p.SamplingTime, 'g', -1, 64)
		}
		fmt.Printf("population[%d]=%s size=%s growth=%g sampling=%s description=%q\n",
			i, p.ID, humanize.Commaf(p.InitialSize), p.GrowthRate, sampling, p.Description)
	}
	for _, e := range detail.Timeline {
		fmt.Printf("event %s\n", e)
	}
	for _, n := range detail.Notes {
		fmt.Printf("unused_parameter=%s\n", n)
	}
	return nil
}

func runEpochs(_ context.Context, args []string) error {
	cmd := newCommand("epochs")
	modelID := cmd.fs.String("model", "", "model id")
	matrix := cmd.fs.Bool("matrix", false, "print each epoch's migration matrix")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	if *modelID == "" {
		return errors.New("epochs requires --model")
	}
	client, s, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	epochs, err := client.Epochs(s.Species, *modelID)
	if err != nil {
		return err
	}
	detail, err := client.Describe(s.Species, *modelID)
	if err != nil {
		return err
	}
	for i, e := range epochs {
		var sizes []string
		for p, st := range e.States {
			if !st.Active {
				continue
			}
			sizes = append(sizes, fmt.Sprintf("%s:%s", detail.Lineages[p].ID, humanize.Commaf(st.StartSize)))
		}
		fmt.Printf("epoch=%d start=%s end=%s active=%s\n", i, formatTime(e.Start), formatTime(e.End), strings.Join(sizes, ","))
		if !*matrix {
			continue
		}
		var inflow []string
		for p, rate := range e.Immigration() {
			if e.States[p].Active {
				inflow = append(inflow, fmt.Sprintf("%s:%g", detail.Lineages[p].ID, rate))
			}
		}
		fmt.Printf("  immigration=%s\n", strings.Join(inflow, ","))
		fmt.Printf("  %v\n", mat.Formatted(e.Migration(), mat.Prefix("  "), mat.Squeeze()))
	}
	return nil
}

func runAt(_ context.Context, args []string) error {
	cmd := newCommand("at")
	modelID := cmd.fs.String("model", "", "model id")
	at := cmd.fs.Float64("time", 0, "generations before present")
	jsonOut := cmd.fs.Bool("json", false, "emit snapshot as JSON")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	if *modelID == "" {
		return errors.New("at requires --model")
	}
	client, s, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	snap, err := client.Snapshot(s.Species, *modelID, *at)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(snap)
	}
	fmt.Printf("time=%s active=%s\n", formatTime(snap.Time), strings.Join(snap.IDs, ","))
	for i, idx := range snap.Active {
		fmt.Printf("population=%s size=%s growth=%g\n", snap.IDs[i], humanize.Commaf(snap.Sizes[idx]), snap.GrowthRates[idx])
	}
	names := make(map[int]string, len(snap.Active))
	for i, idx := range snap.Active {
		names[idx] = snap.IDs[i]
	}
	for _, m := range snap.Migrations {
		fmt.Printf("migration=%s->%s rate=%g\n", names[m.Source], names[m.Dest], m.Rate)
	}
	return nil
}

func runSamples(_ context.Context, args []string) error {
	cmd := newCommand("samples")
	modelID := cmd.fs.String("model", "", "model id")
	counts := cmd.fs.String("counts", "", "comma separated population=count pairs")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	if *modelID == "" {
		return errors.New("samples requires --model")
	}
	parsed, err := parseCounts(*counts)
	if err != nil {
		return err
	}
	client, s, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	samples, err := client.Samples(s.Species, *modelID, parsed)
	if err != nil {
		return err
	}
	for _, sm := range samples {
		fmt.Printf("population=%s index=%d time=%g count=%d\n", sm.Population, sm.Index, sm.Time, sm.Count)
	}
	return nil
}

func runValidate(_ context.Context, args []string) error {
	cmd := newCommand("validate")
	file := cmd.fs.String("file", "", "model table to validate")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("validate requires --file")
	}
	client, s, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	report, err := client.Validate(*file, s.Species)
	if err != nil {
		return err
	}
	fmt.Printf("valid model=%s species=%s populations=%d events=%d epochs=%d\n",
		report.ModelID, report.SpeciesID, report.Populations, report.Events, report.Epochs)
	for _, n := range report.Notes {
		fmt.Printf("unused_parameter=%s\n", n)
	}
	return nil
}

func runDefects(_ context.Context, args []string) error {
	cmd := newCommand("defects")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	defects := client.Defects()
	if len(defects) == 0 {
		fmt.Println("no defects")
		return nil
	}
	for _, d := range defects {
		fmt.Printf("species=%s model=%s reason=%q\n", d.SpeciesID, d.ModelID, d.Err.Error())
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	cmd := newCommand("export")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("exported snapshot=%s created_at=%q models=%d defects=%d\n",
		summary.SnapshotID,
		strftime.Format(timeLayout, summary.CreatedAt),
		len(summary.Models),
		summary.Defects,
	)
	return nil
}

func runStored(ctx context.Context, args []string) error {
	cmd := newCommand("stored")
	verify := cmd.fs.String("verify", "", "rebuild this stored model id and report its epochs")
	if err := cmd.fs.Parse(args); err != nil {
		return err
	}
	client, s, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if *verify != "" {
		m, err := client.LoadStored(ctx, s.Species, *verify)
		if err != nil {
			return err
		}
		fmt.Printf("verified model=%s species=%s epochs=%d\n", m.ID, m.SpeciesID, len(m.History.Epochs()))
		return nil
	}

	stored, err := client.Stored(ctx)
	if err != nil {
		return err
	}
	if len(stored.Models) == 0 && len(stored.Snapshots) == 0 {
		fmt.Println("nothing stored")
		return nil
	}
	for _, key := range stored.Models {
		fmt.Printf("model=%s species=%s\n", key.ModelID, key.SpeciesID)
	}
	for _, snap := range stored.Snapshots {
		fmt.Printf("snapshot=%s created_at=%q age=%q models=%d defects=%d\n",
			snap.ID,
			strftime.Format(timeLayout, snap.CreatedAt),
			humanize.Time(snap.CreatedAt),
			snap.Models,
			snap.Defects,
		)
	}
	return nil
}

func openClient(cmd *commonFlags) (*api.Client, settings, error) {
	s, err := cmd.settings()
	if err != nil {
		return nil, settings{}, err
	}

	opts := logging.FromEnv(logging.Runtime())
	if s.LogLevel != "" {
		opts.Level = s.LogLevel
	}
	logger, err := logging.New("popcatalogctl", opts)
	if err != nil {
		return nil, settings{}, err
	}

	client, err := api.New(api.Options{
		StoreKind: s.Store,
		DBPath:    s.DBPath,
		ModelsDir: s.ModelsDir,
		Logger:    logger,
	})
	if err != nil {
		return nil, settings{}, err
	}
	return client, s, nil
}

func parseCounts(raw string) (map[string]int, error) {
	out := make(map[string]int)
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("samples requires --counts, e.g. Bon=10,Cent=4")
	}
	for _, part := range strings.Split(raw, ",") {
		id, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid count %q: want population=count", part)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid count for %s: %w", id, err)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("population %s listed twice", id)
		}
		out[id] = n
	}
	return out, nil
}

func formatTime(t float64) string {
	if math.IsInf(t, 1) {
		return "inf"
	}
	return humanize.Commaf(t)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: popcatalogctl <species|models|describe|epochs|at|samples|validate|defects|export|stored> [flags]", msg)
}
