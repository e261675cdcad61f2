package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"popcatalog/internal/model"
)

func TestDecodeModelFixture(t *testing.T) {
	record := decodeModelFixture(t, "minimal_model_v1.json")
	if record.SpeciesID != "Tst" || record.ID != "Split" {
		t.Fatalf("unexpected model key: %s/%s", record.SpeciesID, record.ID)
	}
	if len(record.History.Populations) != 2 {
		t.Fatalf("unexpected populations: %+v", record.History.Populations)
	}
	if record.History.Populations[1].SamplingTime != nil {
		t.Fatalf("expected ghost population B, got sampling time %v", *record.History.Populations[1].SamplingTime)
	}
	if len(record.History.Events) != 2 || record.History.Events[0].Kind != "merge" {
		t.Fatalf("unexpected events: %+v", record.History.Events)
	}
	if len(record.Citations) != 1 || record.Citations[0].Reasons[0] != "demographic_model" {
		t.Fatalf("unexpected citations: %+v", record.Citations)
	}
}

func TestDecodeSnapshotFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("minimal_snapshot_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	snapshot, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if snapshot.ID != "0f8fad5b-d9cb-469f-a165-70867728950e" {
		t.Fatalf("unexpected snapshot id: %s", snapshot.ID)
	}
	if len(snapshot.Models) != 1 || snapshot.Models[0].ModelID != "BonoboArchaicAdmixture_4K19" {
		t.Fatalf("unexpected snapshot models: %+v", snapshot.Models)
	}
	if len(snapshot.Defects) != 2 {
		t.Fatalf("unexpected snapshot defects: %+v", snapshot.Defects)
	}
}

func TestDecodeModelVersionMismatch(t *testing.T) {
	data, err := os.ReadFile(fixturePath("model_schema_v0.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	_, err = DecodeModel(data)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestDecodeSnapshotVersionMismatch(t *testing.T) {
	payload, err := EncodeSnapshot(model.SnapshotRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion + 1},
		ID:              "s1",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeSnapshot(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestModelCodecRoundTrip(t *testing.T) {
	original := decodeModelFixture(t, "minimal_model_v1.json")

	payload, err := EncodeModel(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeModel(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.History.Migration[0][1] != original.History.Migration[0][1] {
		t.Fatalf("migration changed: %v != %v", decoded.History.Migration, original.History.Migration)
	}
	if decoded.History.Events[1].Size != 4000 {
		t.Fatalf("unexpected event after round trip: %+v", decoded.History.Events[1])
	}
}

func TestDecodeModelRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeModel([]byte(`{"schema_version":`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func decodeModelFixture(t *testing.T, name string) model.ModelRecord {
	t.Helper()

	data, err := os.ReadFile(fixturePath(name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	record, err := DecodeModel(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return record
}
