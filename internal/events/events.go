// Package events turns named hub pushes into a closed set of typed layout
// events and fans them out to subscribers in arrival order.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/floor-sync/internal/hub"
	"github.com/iliyamo/floor-sync/internal/model"
)

// Server event names.
const (
	NameLayoutUpdated      = "LayoutUpdated"
	NameBookingCreated     = "BookingCreated"
	NameReservationCreated = "ReservationCreated"
	NameWalkInCreated      = "WalkInCreated"
	NameBookingCancelled   = "BookingCancelled"
	NameLayoutChanged      = "LayoutChanged"
)

// Pushes that are recognized but carry nothing the projection applies.
var noticeNames = map[string]bool{
	"TestResponse":  true,
	"TableReserved": true,
	"TableExpired":  true,
	"ChairReserved": true,
	"ChairExpired":  true,
	"SpaceReserved": true,
	"SpaceExpired":  true,
}

// Hub commands.
const (
	CommandJoinSpaceGroup  = "JoinSpaceGroup"
	CommandLeaveSpaceGroup = "LeaveSpaceGroup"
	CommandTestConnection  = "TestConnection"
)

// ErrUnknownEvent is returned by Decode for push names outside the closed
// set.  Unknown pushes are dropped so newer servers cannot break the client.
var ErrUnknownEvent = errors.New("unknown event")

// MalformedEventError is returned by Decode when a known push has a payload
// that cannot be decoded.
type MalformedEventError struct {
	Name string
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %v", e.Name, e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// Event is one of FullLayoutReplaced, UnitUpserted, UnitRemoved,
// LayoutChanged or Notice.
type Event interface {
	// Seq is the hub sequence number the event was received at.
	Seq() uint64
	// Name is the server event name.
	Name() string
	event()
}

type FullLayoutReplaced struct {
	Sequence uint64
	Units    []model.SeatingUnit
}

// UpsertKind records which server event produced an upsert.  All kinds are
// applied the same way.
type UpsertKind string

const (
	UpsertBooking     UpsertKind = "booking"
	UpsertReservation UpsertKind = "reservation"
	UpsertWalkIn      UpsertKind = "walk_in"
)

type UnitUpserted struct {
	Sequence uint64
	Kind     UpsertKind
	Unit     model.SeatingUnit
}

type UnitRemoved struct {
	Sequence uint64
	Filter   model.RemovalFilter
}

// LayoutChanged tells that the server-side layout of a space changed in a
// way only a fresh fetch reflects.
type LayoutChanged struct {
	Sequence   uint64
	SpaceID    int64           `json:"spaceId"`
	ChangeType string          `json:"changeType"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Notice is a recognized push that is only logged.
type Notice struct {
	Sequence  uint64
	EventName string
	Payload   json.RawMessage
}

func (e FullLayoutReplaced) Seq() uint64 { return e.Sequence }
func (e UnitUpserted) Seq() uint64       { return e.Sequence }
func (e UnitRemoved) Seq() uint64        { return e.Sequence }
func (e LayoutChanged) Seq() uint64      { return e.Sequence }
func (e Notice) Seq() uint64             { return e.Sequence }

func (e FullLayoutReplaced) Name() string { return NameLayoutUpdated }
func (e UnitRemoved) Name() string        { return NameBookingCancelled }
func (e LayoutChanged) Name() string      { return NameLayoutChanged }
func (e Notice) Name() string             { return e.EventName }

func (e UnitUpserted) Name() string {
	switch e.Kind {
	case UpsertReservation:
		return NameReservationCreated
	case UpsertWalkIn:
		return NameWalkInCreated
	}
	return NameBookingCreated
}

func (FullLayoutReplaced) event() {}
func (UnitUpserted) event()       {}
func (UnitRemoved) event()        {}
func (LayoutChanged) event()      {}
func (Notice) event()             {}

// Decode maps a hub push onto an Event.
func Decode(inv hub.Invocation) (Event, error) {
	switch inv.Target {
	case NameLayoutUpdated:
		var units []model.SeatingUnit
		if err := decodeArgument(inv, &units); err != nil {
			return nil, err
		}
		return FullLayoutReplaced{Sequence: inv.Seq, Units: units}, nil

	case NameBookingCreated, NameReservationCreated, NameWalkInCreated:
		var unit model.SeatingUnit
		if err := decodeArgument(inv, &unit); err != nil {
			return nil, err
		}
		return UnitUpserted{Sequence: inv.Seq, Kind: upsertKinds[inv.Target], Unit: unit}, nil

	case NameBookingCancelled:
		var filter model.RemovalFilter
		if err := decodeArgument(inv, &filter); err != nil {
			return nil, err
		}
		if filter.Empty() {
			return nil, &MalformedEventError{Name: inv.Target, Err: errors.New("no table or chair id")}
		}
		return UnitRemoved{Sequence: inv.Seq, Filter: filter}, nil

	case NameLayoutChanged:
		var changed LayoutChanged
		if err := decodeArgument(inv, &changed); err != nil {
			return nil, err
		}
		changed.Sequence = inv.Seq
		return changed, nil
	}

	if noticeNames[inv.Target] {
		var payload json.RawMessage
		if 0 < len(inv.Arguments) {
			payload = inv.Arguments[0]
		}
		return Notice{Sequence: inv.Seq, EventName: inv.Target, Payload: payload}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, inv.Target)
}

var upsertKinds = map[string]UpsertKind{
	NameBookingCreated:     UpsertBooking,
	NameReservationCreated: UpsertReservation,
	NameWalkInCreated:      UpsertWalkIn,
}

func decodeArgument(inv hub.Invocation, target any) error {
	if len(inv.Arguments) == 0 {
		return &MalformedEventError{Name: inv.Target, Err: errors.New("missing argument")}
	}
	if string(inv.Arguments[0]) == "null" {
		return &MalformedEventError{Name: inv.Target, Err: errors.New("null argument")}
	}
	if err := json.Unmarshal(inv.Arguments[0], target); err != nil {
		return &MalformedEventError{Name: inv.Target, Err: err}
	}
	return nil
}
