package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunRequiresCommand(t *testing.T) {
	err := run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "usage: popcatalogctl") {
		t.Fatalf("expected usage error, got %v", err)
	}
	err = run(context.Background(), []string{"simulate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command: simulate") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestSpeciesAndModelsCommands(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"species", "--store", "memory"})
	})
	if err != nil {
		t.Fatalf("species command: %v", err)
	}
	if !strings.Contains(out, "species=PanTro") || !strings.Contains(out, "ne=15,000") {
		t.Fatalf("unexpected species output: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"models", "--store", "memory", "--species", "PanTro"})
	})
	if err != nil {
		t.Fatalf("models command: %v", err)
	}
	if !strings.Contains(out, "model=BonoboArchaicAdmixture_4K19") || strings.Contains(out, "BCEN_4D16") {
		t.Fatalf("unexpected models output: %s", out)
	}
}

func TestDescribeAndAtCommands(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"describe", "--store", "memory", "--model", "BonoboArchaicAdmixture_4K19"})
	})
	if err != nil {
		t.Fatalf("describe command: %v", err)
	}
	if !strings.Contains(out, "population[3]=Ghost size=87,132") || !strings.Contains(out, "sampling=ghost") {
		t.Fatalf("unexpected describe output: %s", out)
	}
	if !strings.Contains(out, "unused_parameter=times.T_Bon_resize") {
		t.Fatalf("describe output missing unused parameters: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"at", "--store", "memory", "--model", "BonoboArchaicAdmixture_4K19", "--time", "7800"})
	})
	if err != nil {
		t.Fatalf("at command: %v", err)
	}
	if !strings.Contains(out, "active=Bon,Cent,West,Ghost") || !strings.Contains(out, "migration=Cent->West") {
		t.Fatalf("unexpected at output: %s", out)
	}

	if err := run(context.Background(), []string{"at", "--store", "memory"}); err == nil {
		t.Fatal("expected missing model error")
	}
}

func TestEpochsCommand(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"epochs", "--store", "memory", "--model", "BonoboArchaicAdmixture_4K19"})
	})
	if err != nil {
		t.Fatalf("epochs command: %v", err)
	}
	if strings.Count(out, "epoch=") != 7 || !strings.Contains(out, "end=inf active=Ghost:87,132") {
		t.Fatalf("unexpected epochs output: %s", out)
	}
}

func TestEpochsCommandMatrix(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"epochs", "--store", "memory", "--model", "BonoboArchaicAdmixture_4K19", "--matrix"})
	})
	if err != nil {
		t.Fatalf("epochs command: %v", err)
	}
	if strings.Count(out, "immigration=") != 7 {
		t.Fatalf("expected one matrix per epoch: %s", out)
	}
	if !strings.Contains(out, "immigration=Ghost:0\n") {
		t.Fatalf("oldest epoch should only carry the ghost lineage: %s", out)
	}
	if !strings.Contains(out, "⎡") {
		t.Fatalf("expected formatted matrix: %s", out)
	}
}

func TestSamplesCommand(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"samples", "--store", "memory", "--model", "BonoboArchaicAdmixture_4K19", "--counts", "Cent=4,Bon=2"})
	})
	if err != nil {
		t.Fatalf("samples command: %v", err)
	}
	if !strings.HasPrefix(out, "population=Bon index=0") {
		t.Fatalf("unexpected samples output: %s", out)
	}

	err = run(context.Background(), []string{"samples", "--store", "memory", "--model", "BonoboArchaicAdmixture_4K19", "--counts", "Ghost=1"})
	if err == nil || !strings.Contains(err.Error(), "not sampled") {
		t.Fatalf("expected ghost sampling error, got %v", err)
	}
}

func TestDefectsCommand(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"defects", "--store", "memory"})
	})
	if err != nil {
		t.Fatalf("defects command: %v", err)
	}
	if !strings.Contains(out, "model=BCEN_4D16") || !strings.Contains(out, "model=BCEW_4D16") {
		t.Fatalf("unexpected defects output: %s", out)
	}
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.yaml")
	table := "id: Split\ngeneration_time: 25\npopulations: [Bon, Cent]\ninitial_sizes: {Bon: 100, Cent: 200}\nevents:\n  - {kind: merge, time: 50, source: Cent, dest: Bon}\n"
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"validate", "--store", "memory", "--file", path})
	})
	if err != nil {
		t.Fatalf("validate command: %v", err)
	}
	if !strings.Contains(out, "valid model=Split species=PanTro populations=2 events=1 epochs=2") {
		t.Fatalf("unexpected validate output: %s", out)
	}

	if err := run(context.Background(), []string{"validate", "--store", "memory"}); err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestExportCommandMemory(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"export", "--store", "memory"})
	})
	if err != nil {
		t.Fatalf("export command: %v", err)
	}
	if !strings.Contains(out, "exported snapshot=") || !strings.Contains(out, "models=1 defects=2") {
		t.Fatalf("unexpected export output: %s", out)
	}
}

func TestParseCounts(t *testing.T) {
	counts, err := parseCounts("Bon=2, Cent=4")
	if err != nil {
		t.Fatalf("parse counts: %v", err)
	}
	if counts["Bon"] != 2 || counts["Cent"] != 4 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	for _, raw := range []string{"", "Bon", "Bon=x", "=2", "Bon=1,Bon=2"} {
		if _, err := parseCounts(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}
