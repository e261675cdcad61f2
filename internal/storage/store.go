package storage

import (
	"context"

	"popcatalog/internal/model"
)

// Store persists exported demographic models and the snapshots that list them.
type Store interface {
	Init(ctx context.Context) error
	SaveModel(ctx context.Context, record model.ModelRecord) error
	GetModel(ctx context.Context, speciesID, modelID string) (model.ModelRecord, bool, error)
	ListModels(ctx context.Context) ([]model.ModelKey, error)
	DeleteModel(ctx context.Context, speciesID, modelID string) error
	SaveSnapshot(ctx context.Context, snapshot model.SnapshotRecord) error
	GetSnapshot(ctx context.Context, id string) (model.SnapshotRecord, bool, error)
	ListSnapshots(ctx context.Context) ([]model.SnapshotRecord, error)
}
