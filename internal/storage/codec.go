package storage

import (
	"encoding/json"
	"errors"

	"popcatalog/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the version stamp new records are written with.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeModel(m model.ModelRecord) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeModel(data []byte) (model.ModelRecord, error) {
	var record model.ModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ModelRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ModelRecord{}, err
	}
	return record, nil
}

func EncodeSnapshot(s model.SnapshotRecord) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSnapshot(data []byte) (model.SnapshotRecord, error) {
	var snapshot model.SnapshotRecord
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.SnapshotRecord{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.SnapshotRecord{}, err
	}
	return snapshot, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
