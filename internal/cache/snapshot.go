// Package cache keeps the last known layout of each space in Redis so other
// processes can read a recent floor without joining the hub.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/floor-sync/internal/model"
)

const (
	KeyPrefix  = "floor:snapshot:"
	DefaultTTL = 10 * time.Minute
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the stored layout of one space.
type Snapshot struct {
	SpaceID int64               `json:"space_id"`
	Units   []model.SeatingUnit `json:"units"`
	SavedAt time.Time           `json:"saved_at"`
}

type SnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewSnapshotStore stores snapshots with the given ttl; a ttl of zero or
// less selects DefaultTTL.
func NewSnapshotStore(rdb *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotStore{
		rdb: rdb,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func Key(spaceID int64) string {
	return fmt.Sprintf("%s%d", KeyPrefix, spaceID)
}

// Save replaces the snapshot of a space.
func (s *SnapshotStore) Save(ctx context.Context, spaceID int64, units []model.SeatingUnit) error {
	if units == nil {
		units = []model.SeatingUnit{}
	}
	b, err := json.Marshal(Snapshot{
		SpaceID: spaceID,
		Units:   units,
		SavedAt: s.now(),
	})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, Key(spaceID), b, s.ttl).Err()
}

// Load returns the snapshot of a space, or ErrSnapshotNotFound.
func (s *SnapshotStore) Load(ctx context.Context, spaceID int64) (*Snapshot, error) {
	b, err := s.rdb.Get(ctx, Key(spaceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", Key(spaceID), err)
	}
	return &snap, nil
}
