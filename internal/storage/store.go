package storage

import (
	"context"
	"errors"

	"github.com/studygate/studygate/internal/quota"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Snapshots() SnapshotStore
}

// SnapshotStore persists one usage snapshot per user.
//
// The session controller reads one snapshot at Start and writes through on
// every heartbeat, so implementations only need simple load/save semantics;
// no transactionality across users is assumed.
type SnapshotStore interface {
	Load(ctx context.Context, userID string) (*quota.Snapshot, error)
	Save(ctx context.Context, snap quota.Snapshot) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]quota.Snapshot, error)
}
