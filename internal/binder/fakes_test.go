package binder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iliyamo/floor-sync/internal/events"
	"github.com/iliyamo/floor-sync/internal/feed"
	"github.com/iliyamo/floor-sync/internal/hub"
	"github.com/iliyamo/floor-sync/internal/model"
)

type fakeConn struct {
	mutex       sync.Mutex
	state       hub.ConnectionState
	states      *feed.Feed[hub.ConnectionState]
	connects    int
	disconnects int
	connectErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		state:  hub.Disconnected,
		states: feed.NewFeedWithValue(hub.Disconnected),
	}
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.connects += 1
	if c.state != hub.Disconnected {
		return nil
	}
	if c.connectErr != nil {
		return &hub.ConnectionError{URL: "fake", Err: c.connectErr}
	}
	c.setLocked(hub.Connected)
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.disconnects += 1
	c.setLocked(hub.Disconnected)
}

func (c *fakeConn) SubscribeState() (<-chan hub.ConnectionState, func()) {
	return c.states.Subscribe()
}

func (c *fakeConn) set(s hub.ConnectionState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.setLocked(s)
}

func (c *fakeConn) setLocked(s hub.ConnectionState) {
	if c.state != s {
		c.state = s
		c.states.Publish(s)
	}
}

func (c *fakeConn) connectCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.connects
}

func (c *fakeConn) disconnectCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.disconnects
}

// fakeRouter shares one sequence counter between acknowledgements and
// pushed events, like a hub connection.
type fakeRouter struct {
	events *feed.Feed[events.Event]

	mutex    sync.Mutex
	seq      uint64
	calls    []string
	joinErr  error
	leaveErr error
	// onLeave runs before the leave is acknowledged
	onLeave func(spaceID int64)
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{events: feed.NewFeed[events.Event](false)}
}

func (r *fakeRouter) Subscribe() (<-chan events.Event, func()) {
	return r.events.Subscribe()
}

func (r *fakeRouter) JoinGroup(ctx context.Context, spaceID int64) (*hub.Completion, error) {
	return r.invoke("join", spaceID, r.joinError())
}

func (r *fakeRouter) LeaveGroup(ctx context.Context, spaceID int64) (*hub.Completion, error) {
	r.mutex.Lock()
	onLeave := r.onLeave
	err := r.leaveErr
	r.mutex.Unlock()
	if onLeave != nil {
		onLeave(spaceID)
	}
	return r.invoke("leave", spaceID, err)
}

func (r *fakeRouter) joinError() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.joinErr
}

func (r *fakeRouter) invoke(name string, spaceID int64, err error) (*hub.Completion, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s %d", name, spaceID))
	if err != nil {
		return nil, &hub.InvokeError{Target: name, Err: err}
	}
	r.seq += 1
	return &hub.Completion{Seq: r.seq}, nil
}

func (r *fakeRouter) LastSeq() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.seq
}

func (r *fakeRouter) nextSeq() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.seq += 1
	return r.seq
}

func (r *fakeRouter) upsert(unit model.SeatingUnit) {
	r.events.Publish(events.UnitUpserted{Sequence: r.nextSeq(), Kind: events.UpsertBooking, Unit: unit})
}

func (r *fakeRouter) remove(filter model.RemovalFilter) {
	r.events.Publish(events.UnitRemoved{Sequence: r.nextSeq(), Filter: filter})
}

func (r *fakeRouter) layoutChanged(spaceID int64) {
	r.events.Publish(events.LayoutChanged{Sequence: r.nextSeq(), SpaceID: spaceID, ChangeType: "TableAdded"})
}

func (r *fakeRouter) callLog() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *fakeRouter) count(call string) int {
	n := 0
	for _, c := range r.callLog() {
		if c == call {
			n += 1
		}
	}
	return n
}

// fakeFetcher serves per-space layouts.  A space with a gate blocks until
// the gate is closed.
type fakeFetcher struct {
	mutex   sync.Mutex
	layouts map[int64][]model.SeatingUnit
	gates   map[int64]chan struct{}
	errs    map[int64]error
	fetches map[int64]int
	started chan int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		layouts: map[int64][]model.SeatingUnit{},
		gates:   map[int64]chan struct{}{},
		errs:    map[int64]error{},
		fetches: map[int64]int{},
		started: make(chan int64, 16),
	}
}

var errFetch = errors.New("layout service unavailable")

func (f *fakeFetcher) FetchLayout(ctx context.Context, spaceID int64) ([]model.SeatingUnit, error) {
	f.mutex.Lock()
	f.fetches[spaceID] += 1
	gate := f.gates[spaceID]
	f.mutex.Unlock()
	select {
	case f.started <- spaceID:
	default:
	}

	if gate != nil {
		// ignores ctx so a response can arrive after teardown
		<-gate
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.errs[spaceID]; err != nil {
		return nil, err
	}
	return append([]model.SeatingUnit(nil), f.layouts[spaceID]...), nil
}

func (f *fakeFetcher) set(spaceID int64, units ...model.SeatingUnit) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.layouts[spaceID] = units
}

func (f *fakeFetcher) gate(spaceID int64) chan struct{} {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	gate := make(chan struct{})
	f.gates[spaceID] = gate
	return gate
}

func (f *fakeFetcher) fail(spaceID int64, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.errs[spaceID] = err
}

func (f *fakeFetcher) count(spaceID int64) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.fetches[spaceID]
}

type recordingObserver struct {
	mutex   sync.Mutex
	applied []string
	changes [][]model.SeatingUnit
}

func (o *recordingObserver) LayoutLoaded(spaceID int64, units []model.SeatingUnit) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.applied = append(o.applied, fmt.Sprintf("%d loaded %d", spaceID, len(units)))
}

func (o *recordingObserver) EventApplied(spaceID int64, ev events.Event, unitCount int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.applied = append(o.applied, fmt.Sprintf("%d %s %d", spaceID, ev.Name(), unitCount))
}

func (o *recordingObserver) ProjectionChanged(spaceID int64, units []model.SeatingUnit) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.changes = append(o.changes, units)
}

func (o *recordingObserver) appliedLog() []string {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return append([]string(nil), o.applied...)
}

func unit(tableID, chairID int64, status model.Status) model.SeatingUnit {
	return model.SeatingUnit{TableID: tableID, ChairID: chairID, Status: status}
}
