package memory

import (
	"context"
	"sync"

	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
)

// Store implements the storage.Store interface with an in-process map.
// Used by the memory storage type for development and by tests.
type Store struct {
	snapshotStore *snapshotStore
}

// Open creates a new in-memory storage instance
func Open() *Store {
	return &Store{
		snapshotStore: &snapshotStore{
			snapshots: make(map[string]quota.Snapshot),
		},
	}
}

// Close is a no-op for the in-memory store
func (s *Store) Close() error {
	return nil
}

// Snapshots returns the SnapshotStore implementation
func (s *Store) Snapshots() storage.SnapshotStore {
	return s.snapshotStore
}

type snapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]quota.Snapshot
}

func (s *snapshotStore) Load(ctx context.Context, userID string) (*quota.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	out := snap.Clone()
	return &out, nil
}

func (s *snapshotStore) Save(ctx context.Context, snap quota.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.UserID] = snap.Clone()
	return nil
}

func (s *snapshotStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, userID)
	return nil
}

func (s *snapshotStore) List(ctx context.Context) ([]quota.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]quota.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Clone())
	}
	return out, nil
}
