package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
	"go.etcd.io/bbolt"
)

type snapshotStore struct {
	db *bbolt.DB
}

func (s *snapshotStore) Load(ctx context.Context, userID string) (*quota.Snapshot, error) {
	var snap quota.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketSnapshots)).Get([]byte(userID))
		if data == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("load snapshot %s: %w", userID, err)
	}
	return &snap, nil
}

func (s *snapshotStore) Save(ctx context.Context, snap quota.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snap.UserID, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSnapshots)).Put([]byte(snap.UserID), data)
	})
}

func (s *snapshotStore) Delete(ctx context.Context, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSnapshots)).Delete([]byte(userID))
	})
}

func (s *snapshotStore) List(ctx context.Context) ([]quota.Snapshot, error) {
	var snaps []quota.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSnapshots)).ForEach(func(k, v []byte) error {
			var snap quota.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("unmarshal snapshot %s: %w", k, err)
			}
			snaps = append(snaps, snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}
