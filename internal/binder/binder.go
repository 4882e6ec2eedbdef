// Package binder drives one bound space through its lifecycle: join the
// space's group, fetch the layout, apply pushed events, recover after
// reconnects, and tear down.
//
// Every input (commands, routed events, connection states, results of
// network operations) is delivered to a single loop goroutine, which is the
// only code touching the projection.  Network operations run in order on a
// worker goroutine and report back with the generation they were started
// for; a result whose generation is no longer current is discarded.
package binder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/iliyamo/floor-sync/internal/events"
	"github.com/iliyamo/floor-sync/internal/feed"
	"github.com/iliyamo/floor-sync/internal/hub"
	"github.com/iliyamo/floor-sync/internal/layout"
	"github.com/iliyamo/floor-sync/internal/model"
)

type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	SubscribeState() (<-chan hub.ConnectionState, func())
}

type GroupRouter interface {
	Subscribe() (<-chan events.Event, func())
	JoinGroup(ctx context.Context, spaceID int64) (*hub.Completion, error)
	LeaveGroup(ctx context.Context, spaceID int64) (*hub.Completion, error)
	LastSeq() uint64
}

type Fetcher interface {
	FetchLayout(ctx context.Context, spaceID int64) ([]model.SeatingUnit, error)
}

// Observer is called on the binder loop and must not block.
type Observer interface {
	// LayoutLoaded is called with the fetched layout before buffered events
	// are applied on top of it.
	LayoutLoaded(spaceID int64, units []model.SeatingUnit)
	// EventApplied is called for every event applied to the projection.
	EventApplied(spaceID int64, ev events.Event, unitCount int)
	// ProjectionChanged is called with the full projection after it
	// changed.  units must not be modified.
	ProjectionChanged(spaceID int64, units []model.SeatingUnit)
}

const DefaultTeardownTimeout = 5 * time.Second

type command struct {
	spaceID int64
	retry   bool
	reply   chan error
}

// job is one ordered unit of network work for a space.
type job struct {
	gen     uint64
	spaceID int64
	join    bool
}

type result struct {
	gen    uint64
	cutoff uint64
	units  []model.SeatingUnit
	err    error
}

type Binder struct {
	conn     Connection
	router   GroupRouter
	fetcher  Fetcher
	observer Observer

	TeardownTimeout time.Duration

	commands *feed.Queue[command]
	jobs     *feed.Queue[job]
	results  chan result
	done     chan struct{}
	view     atomic.Pointer[View]
	// joined is the group the worker last joined; 0 when none
	joined atomic.Int64

	// owned by the loop
	state        State
	connState    hub.ConnectionState
	spaceID      int64
	projection   *layout.Projection
	generation   uint64
	buffer       []events.Event
	cutoff       uint64
	lastErr      error
	version      uint64
	refreshDue   bool
	workerCancel context.CancelFunc
}

// New creates a binder.  observer may be nil.
func New(conn Connection, router GroupRouter, fetcher Fetcher, observer Observer) *Binder {
	b := &Binder{
		conn:            conn,
		router:          router,
		fetcher:         fetcher,
		observer:        observer,
		TeardownTimeout: DefaultTeardownTimeout,
		commands:        feed.NewQueue[command](),
		jobs:            feed.NewQueue[job](),
		results:         make(chan result),
		done:            make(chan struct{}),
		state:           Uninitialized,
		connState:       hub.Disconnected,
		projection:      layout.New(),
	}
	b.publish()
	return b
}

// View returns the latest published view.  It is safe to call from any
// goroutine.
func (b *Binder) View() *View {
	return b.view.Load()
}

// SetSpace binds the binder to a space.  Binding the current space again is
// a no-op.  It may be called before Run.
func (b *Binder) SetSpace(spaceID int64) error {
	if spaceID <= 0 {
		return ErrInvalidSpace
	}
	if !b.commands.Push(command{spaceID: spaceID}) {
		return ErrTerminated
	}
	return nil
}

// Retry re-enters Initializing from Error.
func (b *Binder) Retry(ctx context.Context) error {
	reply := make(chan error, 1)
	if !b.commands.Push(command{retry: true, reply: reply}) {
		return ErrTerminated
	}
	select {
	case err := <-reply:
		return err
	case <-b.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run has returned.
func (b *Binder) Done() <-chan struct{} {
	return b.done
}

// Run drives the binder until ctx ends, then tears down: it leaves the
// joined group and disconnects, ignoring failures.
func (b *Binder) Run(ctx context.Context) {
	routed, cancelEvents := b.router.Subscribe()
	defer cancelEvents()
	states, cancelStates := b.conn.SubscribeState()
	defer cancelStates()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	b.workerCancel = workerCancel
	go b.work(workerCtx)

	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.teardown()
			return
		case cmd := <-b.commands.Out():
			b.handleCommand(cmd)
		case ev, ok := <-routed:
			if !ok {
				routed = nil
				continue
			}
			b.handleEvent(ev)
		case s, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			b.handleConnectionState(s)
		case r := <-b.results:
			b.handleResult(r)
		}
	}
}

func (b *Binder) handleCommand(cmd command) {
	if cmd.retry {
		if b.state != Error {
			cmd.reply <- ErrNotInError
			return
		}
		glog.Infof("[binder]retry space %d\n", b.spaceID)
		b.begin(false)
		cmd.reply <- nil
		return
	}

	if cmd.spaceID == b.spaceID && b.state != Error && b.state != Uninitialized {
		return
	}
	if b.spaceID != 0 && cmd.spaceID != b.spaceID {
		glog.Infof("[binder]switch space %d -> %d\n", b.spaceID, cmd.spaceID)
	}
	switched := b.spaceID != 0 && cmd.spaceID != b.spaceID
	b.spaceID = cmd.spaceID
	b.begin(switched)
}

// begin starts a full synchronization of the bound space.  When the space
// changed the projection is cleared first so nothing of the previous space
// is ever visible under the new one.  The cleared projection is not reported
// to the observer; the next report is the loaded layout.
func (b *Binder) begin(switched bool) {
	b.generation += 1
	b.buffer = nil
	b.refreshDue = false
	b.lastErr = nil
	if switched {
		b.projection.Clear()
	}
	if b.connState == hub.Reconnecting {
		// the join is issued once the connection is back
		b.setState(Reconnecting)
		return
	}
	b.setState(Initializing)
	b.jobs.Push(job{gen: b.generation, spaceID: b.spaceID, join: true})
}

// refresh refetches the layout of the bound space without rejoining.
func (b *Binder) refresh() {
	glog.Infof("[binder]refetch space %d\n", b.spaceID)
	b.generation += 1
	b.buffer = nil
	b.refreshDue = false
	b.setState(Initializing)
	b.jobs.Push(job{gen: b.generation, spaceID: b.spaceID, join: false})
}

func (b *Binder) fail(err error) {
	glog.Infof("[binder]space %d error = %s\n", b.spaceID, err)
	b.generation += 1
	b.buffer = nil
	b.lastErr = err
	b.setState(Error)
}

func (b *Binder) handleConnectionState(s hub.ConnectionState) {
	previous := b.connState
	b.connState = s
	switch s {
	case hub.Reconnecting:
		if b.state == Initializing || b.state == Ready || b.state == Error {
			// in-flight work is abandoned; a rejoin follows the reconnect
			b.generation += 1
			b.buffer = nil
			b.state = Reconnecting
		}
	case hub.Connected:
		if b.state == Reconnecting {
			glog.Infof("[binder]rejoin space %d after reconnect\n", b.spaceID)
			// the state stays Reconnecting until the rejoin completes
			b.generation += 1
			b.buffer = nil
			b.jobs.Push(job{gen: b.generation, spaceID: b.spaceID, join: true})
		}
	case hub.Disconnected:
		// the replayed initial state is not a loss
		if previous != hub.Disconnected && (b.state == Ready || b.state == Reconnecting) {
			b.fail(hub.ErrConnectionLost)
			return
		}
		// a session that was up and ended for good while the layout was
		// loading leaves nothing to deliver pushes
		if previous == hub.Connected && b.state == Initializing {
			b.fail(hub.ErrConnectionLost)
			return
		}
	}
	b.publish()
}

func (b *Binder) handleEvent(ev events.Event) {
	switch b.state {
	case Initializing, Reconnecting:
		b.buffer = append(b.buffer, ev)
	case Ready:
		b.apply(ev)
		if b.refreshDue {
			b.refresh()
		}
	default:
		glog.V(2).Infof("[binder]discard %s seq=%d in %s\n", ev.Name(), ev.Seq(), b.state)
	}
}

func (b *Binder) handleResult(r result) {
	if r.gen != b.generation {
		glog.V(1).Infof("[binder]discard stale result (generation %d, current %d)\n", r.gen, b.generation)
		return
	}
	if r.err != nil {
		b.fail(r.err)
		return
	}
	b.cutoff = max(b.cutoff, r.cutoff)
	b.projection.ApplyFullReplace(r.units)
	if b.observer != nil {
		b.observer.LayoutLoaded(b.spaceID, b.projection.Units())
	}

	pending := b.buffer
	b.buffer = nil
	for _, ev := range pending {
		b.apply(ev)
	}
	glog.Infof("[binder]space %d ready with %d units (%d buffered events)\n", b.spaceID, b.projection.Len(), len(pending))
	glog.V(1).Infof("[binder]state %s -> %s\n", b.state, Ready)
	b.lastErr = nil
	b.state = Ready
	b.notifyProjection()
	if b.refreshDue {
		b.refresh()
	}
}

// apply mutates the projection with one event.  Events sequenced at or
// before the last group switch belong to the previous space.
func (b *Binder) apply(ev events.Event) {
	if ev.Seq() <= b.cutoff {
		glog.V(1).Infof("[binder]discard %s seq=%d from previous space\n", ev.Name(), ev.Seq())
		return
	}

	changed := false
	switch e := ev.(type) {
	case events.FullLayoutReplaced:
		b.projection.ApplyFullReplace(e.Units)
		changed = true
	case events.UnitUpserted:
		if e.Unit.SpaceID != 0 && e.Unit.SpaceID != b.spaceID {
			glog.V(1).Infof("[binder]discard %s for space %d\n", e.Name(), e.Unit.SpaceID)
			return
		}
		changed = b.projection.ApplyUpsert(e.Unit)
	case events.UnitRemoved:
		changed = 0 < b.projection.ApplyRemoval(e.Filter)
	case events.LayoutChanged:
		if e.SpaceID == b.spaceID {
			b.refreshDue = true
		}
		return
	default:
		return
	}
	glog.V(2).Infof("[binder]applied %s seq=%d\n", ev.Name(), ev.Seq())

	if b.observer != nil {
		b.observer.EventApplied(b.spaceID, ev, b.projection.Len())
	}
	if changed && b.state == Ready {
		b.notifyProjection()
	}
}

func (b *Binder) setState(s State) {
	if b.state != s {
		glog.V(1).Infof("[binder]state %s -> %s\n", b.state, s)
	}
	b.state = s
	b.publish()
}

// notifyProjection publishes the view and tells the observer.
func (b *Binder) notifyProjection() {
	v := b.publish()
	if b.observer != nil && b.spaceID != 0 {
		b.observer.ProjectionChanged(b.spaceID, v.Units)
	}
}

func (b *Binder) publish() *View {
	b.version += 1
	v := &View{
		State:      b.state,
		Connection: b.connState,
		SpaceID:    b.spaceID,
		Units:      b.projection.Units(),
		Dropped:    b.projection.Dropped(),
		Err:        b.lastErr,
		Version:    b.version,
	}
	b.view.Store(v)
	return v
}

func (b *Binder) teardown() {
	b.generation += 1
	b.buffer = nil
	b.setState(Terminated)
	b.commands.Close()
	b.workerCancel()
	b.jobs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), b.TeardownTimeout)
	defer cancel()
	if spaceID := b.joined.Swap(0); spaceID != 0 {
		if _, err := b.router.LeaveGroup(ctx, spaceID); err != nil {
			glog.V(1).Infof("[binder]teardown leave space %d error = %s\n", spaceID, err)
		}
	}
	b.conn.Disconnect()
	glog.Infof("[binder]terminated\n")
}

// work runs jobs in order.  Results are delivered to the loop unless the
// binder has been torn down.
func (b *Binder) work(ctx context.Context) {
	for j := range b.jobs.Out() {
		if ctx.Err() != nil {
			return
		}
		r := b.sync(ctx, j)
		select {
		case b.results <- r:
		case <-ctx.Done():
			return
		}
	}
}

// sync connects, moves the group membership to the job's space, and fetches
// the layout.  The returned cutoff is the sequence number at which the
// previous group was left.
func (b *Binder) sync(ctx context.Context, j job) result {
	r := result{gen: j.gen}

	if err := b.conn.Connect(ctx); err != nil {
		r.err = err
		return r
	}

	if j.join {
		if previous := b.joined.Load(); previous != 0 && previous != j.spaceID {
			ack, err := b.router.LeaveGroup(ctx, previous)
			if err != nil {
				glog.Infof("[binder]leave space %d error = %s\n", previous, err)
				r.cutoff = b.router.LastSeq()
			} else {
				r.cutoff = ack.Seq
			}
			b.joined.Store(0)
		}
		if _, err := b.router.JoinGroup(ctx, j.spaceID); err != nil {
			r.err = err
			return r
		}
		b.joined.Store(j.spaceID)
	}

	units, err := b.fetcher.FetchLayout(ctx, j.spaceID)
	if err != nil {
		r.err = err
		return r
	}
	r.units = units
	return r
}
