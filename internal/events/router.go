package events

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/iliyamo/floor-sync/internal/feed"
	"github.com/iliyamo/floor-sync/internal/hub"
)

// Source is the part of a hub connection the router needs.
type Source interface {
	Invocations() <-chan hub.Invocation
	Invoke(ctx context.Context, target string, args ...any) (*hub.Completion, error)
	LastSeq() uint64
}

// Router decodes hub pushes and delivers them, in arrival order, to every
// subscriber.  It also issues group membership commands.
type Router struct {
	source Source
	events *feed.Feed[Event]

	dropped atomic.Uint64
	unknown atomic.Uint64
}

func NewRouter(source Source) *Router {
	return &Router{
		source: source,
		events: feed.NewFeed[Event](false),
	}
}

// Run routes pushes until ctx ends or the source stream closes.  Subscriber
// streams are closed when Run returns.
func (r *Router) Run(ctx context.Context) {
	defer r.events.Close()
	invocations := r.source.Invocations()
	for {
		select {
		case <-ctx.Done():
			return
		case inv, ok := <-invocations:
			if !ok {
				return
			}
			r.route(inv)
		}
	}
}

func (r *Router) route(inv hub.Invocation) {
	ev, err := Decode(inv)
	if err != nil {
		var malformed *MalformedEventError
		switch {
		case errors.Is(err, ErrUnknownEvent):
			r.unknown.Add(1)
			glog.V(1).Infof("[events]ignore unknown event %s seq=%d\n", inv.Target, inv.Seq)
		case errors.As(err, &malformed):
			r.dropped.Add(1)
			glog.Warningf("[events]drop seq=%d = %s\n", inv.Seq, err)
		default:
			r.dropped.Add(1)
			glog.Warningf("[events]drop %s seq=%d = %s\n", inv.Target, inv.Seq, err)
		}
		return
	}
	if notice, ok := ev.(Notice); ok {
		glog.V(1).Infof("[events]notice %s seq=%d %s\n", notice.EventName, notice.Sequence, notice.Payload)
	}
	r.events.Publish(ev)
}

// Subscribe returns the event stream and a cancel function.  Only events
// routed after the call are delivered.
func (r *Router) Subscribe() (<-chan Event, func()) {
	return r.events.Subscribe()
}

// JoinGroup subscribes the connection to the events of one space.  The
// command is always sent, even if the space was joined before, because the
// server forgets memberships when the transport is replaced.
func (r *Router) JoinGroup(ctx context.Context, spaceID int64) (*hub.Completion, error) {
	ack, err := r.source.Invoke(ctx, CommandJoinSpaceGroup, spaceID)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[events]joined space %d seq=%d\n", spaceID, ack.Seq)
	return ack, nil
}

// LeaveGroup unsubscribes the connection from a space.
func (r *Router) LeaveGroup(ctx context.Context, spaceID int64) (*hub.Completion, error) {
	ack, err := r.source.Invoke(ctx, CommandLeaveSpaceGroup, spaceID)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[events]left space %d seq=%d\n", spaceID, ack.Seq)
	return ack, nil
}

// TestConnection asks the server to answer with a TestResponse push.
func (r *Router) TestConnection(ctx context.Context) error {
	_, err := r.source.Invoke(ctx, CommandTestConnection)
	return err
}

func (r *Router) LastSeq() uint64 {
	return r.source.LastSeq()
}

// Dropped counts known events whose payload could not be decoded.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// Unknown counts pushes with an unrecognized name.
func (r *Router) Unknown() uint64 {
	return r.unknown.Load()
}
