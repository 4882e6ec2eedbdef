// Package service forwards what the binder applies to the optional
// external sinks: the Redis snapshot store, the RabbitMQ change queue and
// the MySQL journal.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"

	"github.com/iliyamo/floor-sync/internal/events"
	"github.com/iliyamo/floor-sync/internal/feed"
	"github.com/iliyamo/floor-sync/internal/model"
	"github.com/iliyamo/floor-sync/internal/queue"
	"github.com/iliyamo/floor-sync/internal/repository"
)

type SnapshotSaver interface {
	Save(ctx context.Context, spaceID int64, units []model.SeatingUnit) error
}

type ChangePublisher interface {
	Publish(ctx context.Context, event queue.FloorChangeEvent) error
}

type JournalAppender interface {
	Append(ctx context.Context, e repository.JournalEntry) (uint64, error)
}

// Sinks lists where changes go.  A nil field disables that sink.
type Sinks struct {
	Snapshots SnapshotSaver
	Publisher ChangePublisher
	Journal   JournalAppender
}

const DefaultSinkTimeout = 5 * time.Second

// Mirror implements the binder observer.  Callbacks only enqueue work; Run
// performs it in order on its own goroutine so sink latency never reaches
// the binder loop.  Sink failures are logged and skipped.
type Mirror struct {
	sinks Sinks
	work  *feed.Queue[func(ctx context.Context)]
	now   func() time.Time

	Timeout time.Duration
}

func NewMirror(sinks Sinks) *Mirror {
	return &Mirror{
		sinks:   sinks,
		work:    feed.NewQueue[func(ctx context.Context)](),
		now:     func() time.Time { return time.Now().UTC() },
		Timeout: DefaultSinkTimeout,
	}
}

// Enabled reports whether any sink is configured.
func (m *Mirror) Enabled() bool {
	return m.sinks.Snapshots != nil || m.sinks.Publisher != nil || m.sinks.Journal != nil
}

// Pending is the number of queued sink writes.
func (m *Mirror) Pending() int {
	return m.work.Len()
}

// Run performs queued work until ctx ends.  Work still queued then is
// dropped.
func (m *Mirror) Run(ctx context.Context) {
	defer m.work.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-m.work.Out():
			if !ok {
				return
			}
			taskCtx, cancel := context.WithTimeout(ctx, m.Timeout)
			task(taskCtx)
			cancel()
		}
	}
}

func (m *Mirror) LayoutLoaded(spaceID int64, units []model.SeatingUnit) {
	change := queue.FloorChangeEvent{
		SpaceID:    spaceID,
		Kind:       queue.KindLayoutLoaded,
		UnitCount:  len(units),
		OccurredAt: m.now(),
	}
	m.forward(change)
}

func (m *Mirror) EventApplied(spaceID int64, ev events.Event, unitCount int) {
	change := queue.FloorChangeEvent{
		SpaceID:    spaceID,
		Kind:       ev.Name(),
		Seq:        ev.Seq(),
		UnitCount:  unitCount,
		OccurredAt: m.now(),
	}
	switch e := ev.(type) {
	case events.UnitUpserted:
		unit := e.Unit
		change.Unit = &unit
	case events.UnitRemoved:
		change.TableID = e.Filter.TableID
		change.ChairID = e.Filter.ChairID
	}
	m.forward(change)
}

func (m *Mirror) ProjectionChanged(spaceID int64, units []model.SeatingUnit) {
	if m.sinks.Snapshots == nil {
		return
	}
	m.work.Push(func(ctx context.Context) {
		if err := m.sinks.Snapshots.Save(ctx, spaceID, units); err != nil {
			glog.Warningf("[mirror]save snapshot of space %d error = %s\n", spaceID, err)
		}
	})
}

func (m *Mirror) forward(change queue.FloorChangeEvent) {
	if m.sinks.Publisher != nil {
		m.work.Push(func(ctx context.Context) {
			if err := m.sinks.Publisher.Publish(ctx, change); err != nil {
				glog.Warningf("[mirror]publish %s seq=%d error = %s\n", change.Kind, change.Seq, err)
			}
		})
	}
	if m.sinks.Journal != nil {
		entry := journalEntry(change)
		m.work.Push(func(ctx context.Context) {
			if _, err := m.sinks.Journal.Append(ctx, entry); err != nil {
				glog.Warningf("[mirror]journal %s seq=%d error = %s\n", change.Kind, change.Seq, err)
			}
		})
	}
}

func journalEntry(change queue.FloorChangeEvent) repository.JournalEntry {
	entry := repository.JournalEntry{
		SpaceID:   change.SpaceID,
		Kind:      change.Kind,
		Seq:       change.Seq,
		TableID:   change.TableID,
		ChairID:   change.ChairID,
		CreatedAt: change.OccurredAt,
	}
	if change.Unit != nil {
		entry.TableID = change.Unit.TableID
		entry.ChairID = change.Unit.ChairID
		entry.Status = string(change.Unit.Status)
		if b, err := json.Marshal(change.Unit); err == nil {
			entry.Payload = b
		}
	}
	return entry
}
