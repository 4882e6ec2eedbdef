package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/floor-sync/internal/events"
	"github.com/iliyamo/floor-sync/internal/model"
	"github.com/iliyamo/floor-sync/internal/queue"
	"github.com/iliyamo/floor-sync/internal/repository"
)

type sinkRecorder struct {
	mutex     sync.Mutex
	snapshots map[int64][]model.SeatingUnit
	published []queue.FloorChangeEvent
	journal   []repository.JournalEntry
	fail      error
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{snapshots: map[int64][]model.SeatingUnit{}}
}

func (r *sinkRecorder) Save(ctx context.Context, spaceID int64, units []model.SeatingUnit) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.snapshots[spaceID] = units
	return r.fail
}

func (r *sinkRecorder) Publish(ctx context.Context, event queue.FloorChangeEvent) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.published = append(r.published, event)
	return r.fail
}

func (r *sinkRecorder) Append(ctx context.Context, e repository.JournalEntry) (uint64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.journal = append(r.journal, e)
	return uint64(len(r.journal)), r.fail
}

func (r *sinkRecorder) counts() (int, int, int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.snapshots), len(r.published), len(r.journal)
}

func runMirror(t *testing.T, m *Mirror) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMirrorForwardsChanges(t *testing.T) {
	sinks := newSinkRecorder()
	m := NewMirror(Sinks{Snapshots: sinks, Publisher: sinks, Journal: sinks})
	at := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	m.now = func() time.Time { return at }
	require.True(t, m.Enabled())
	runMirror(t, m)

	units := []model.SeatingUnit{{TableID: 1, ChairID: 2, Status: model.StatusBooked}}
	m.LayoutLoaded(7, units)
	m.EventApplied(7, events.UnitUpserted{Sequence: 4, Kind: events.UpsertWalkIn, Unit: units[0]}, 1)
	m.EventApplied(7, events.UnitRemoved{Sequence: 5, Filter: model.RemovalFilter{TableID: 1}}, 0)
	m.ProjectionChanged(7, units)

	require.Eventually(t, func() bool {
		s, p, j := sinks.counts()
		return s == 1 && p == 3 && j == 3
	}, 2*time.Second, 5*time.Millisecond)

	sinks.mutex.Lock()
	defer sinks.mutex.Unlock()
	assert.Equal(t, units, sinks.snapshots[7])
	assert.Equal(t, queue.KindLayoutLoaded, sinks.published[0].Kind)
	assert.Equal(t, 1, sinks.published[0].UnitCount)

	upsert := sinks.published[1]
	assert.Equal(t, "WalkInCreated", upsert.Kind)
	assert.Equal(t, uint64(4), upsert.Seq)
	require.NotNil(t, upsert.Unit)
	assert.Equal(t, at, upsert.OccurredAt)

	assert.Equal(t, int64(1), sinks.published[2].TableID)

	assert.Equal(t, "Booked", sinks.journal[1].Status)
	assert.Equal(t, int64(2), sinks.journal[1].ChairID)
	assert.JSONEq(t, `{"tableId":1,"chairId":2,"status":"Booked"}`, string(sinks.journal[1].Payload))
	assert.Equal(t, int64(1), sinks.journal[2].TableID)
	assert.Nil(t, sinks.journal[2].Payload)
}

func TestMirrorContinuesAfterSinkErrors(t *testing.T) {
	sinks := newSinkRecorder()
	sinks.fail = errors.New("broker down")
	m := NewMirror(Sinks{Publisher: sinks})
	runMirror(t, m)

	m.EventApplied(1, events.UnitRemoved{Sequence: 1, Filter: model.RemovalFilter{ChairID: 3}}, 0)
	m.EventApplied(1, events.UnitRemoved{Sequence: 2, Filter: model.RemovalFilter{ChairID: 4}}, 0)
	// no snapshot sink configured
	m.ProjectionChanged(1, nil)

	require.Eventually(t, func() bool {
		_, p, _ := sinks.counts()
		return p == 2
	}, 2*time.Second, 5*time.Millisecond)
	s, _, j := sinks.counts()
	assert.Equal(t, 0, s)
	assert.Equal(t, 0, j)
}

func TestMirrorDisabled(t *testing.T) {
	m := NewMirror(Sinks{})
	assert.False(t, m.Enabled())
	m.EventApplied(1, events.UnitRemoved{Sequence: 1, Filter: model.RemovalFilter{TableID: 1}}, 0)
	m.ProjectionChanged(1, nil)
	assert.Equal(t, 0, m.Pending())
}
