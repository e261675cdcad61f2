package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"popcatalog/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// MemoryStore keeps encoded payloads so callers never share slices with the
// store.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	models      map[model.ModelKey][]byte
	snapshots   map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.models = make(map[model.ModelKey][]byte)
	s.snapshots = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) SaveModel(_ context.Context, record model.ModelRecord) error {
	payload, err := EncodeModel(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.models[model.ModelKey{SpeciesID: record.SpeciesID, ModelID: record.ID}] = payload
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, speciesID, modelID string) (model.ModelRecord, bool, error) {
	s.mu.RLock()
	initialized := s.initialized
	payload, ok := s.models[model.ModelKey{SpeciesID: speciesID, ModelID: modelID}]
	s.mu.RUnlock()

	if !initialized {
		return model.ModelRecord{}, false, errNotInitialized
	}
	if !ok {
		return model.ModelRecord{}, false, nil
	}
	record, err := DecodeModel(payload)
	if err != nil {
		return model.ModelRecord{}, false, err
	}
	return record, true, nil
}

func (s *MemoryStore) ListModels(_ context.Context) ([]model.ModelKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	keys := make([]model.ModelKey, 0, len(s.models))
	for key := range s.models {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}

func (s *MemoryStore) DeleteModel(_ context.Context, speciesID, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	delete(s.models, model.ModelKey{SpeciesID: speciesID, ModelID: modelID})
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot model.SnapshotRecord) error {
	payload, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.snapshots[snapshot.ID] = payload
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, id string) (model.SnapshotRecord, bool, error) {
	s.mu.RLock()
	initialized := s.initialized
	payload, ok := s.snapshots[id]
	s.mu.RUnlock()

	if !initialized {
		return model.SnapshotRecord{}, false, errNotInitialized
	}
	if !ok {
		return model.SnapshotRecord{}, false, nil
	}
	snapshot, err := DecodeSnapshot(payload)
	if err != nil {
		return model.SnapshotRecord{}, false, err
	}
	return snapshot, true, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context) ([]model.SnapshotRecord, error) {
	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return nil, errNotInitialized
	}
	payloads := make([][]byte, 0, len(s.snapshots))
	for _, payload := range s.snapshots {
		payloads = append(payloads, payload)
	}
	s.mu.RUnlock()

	out := make([]model.SnapshotRecord, 0, len(payloads))
	for _, payload := range payloads {
		snapshot, err := DecodeSnapshot(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	sortSnapshots(out)
	return out, nil
}

func sortKeys(keys []model.ModelKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SpeciesID != keys[j].SpeciesID {
			return keys[i].SpeciesID < keys[j].SpeciesID
		}
		return keys[i].ModelID < keys[j].ModelID
	})
}

// sortSnapshots orders by creation time, then id. Timestamps are RFC3339 in
// UTC so they compare lexically.
func sortSnapshots(snapshots []model.SnapshotRecord) {
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAtUTC != snapshots[j].CreatedAtUTC {
			return snapshots[i].CreatedAtUTC < snapshots[j].CreatedAtUTC
		}
		return snapshots[i].ID < snapshots[j].ID
	})
}
