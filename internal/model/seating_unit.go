package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SeatingUnit is the state of one bookable entity on the floor: a whole
// space, a table inside a space, or a chair at a table.  The hierarchy is
// expressed through optional identifiers where zero means "absent", matching
// the way the host API omits ids that do not apply.
//
// Fields:
//
//	SpaceID       – the space the unit belongs to.
//	TableID       – the table, when the unit is a table or a chair.
//	ChairID       – the chair, when the unit is a single chair.
//	Status        – the current availability status.
//	BookingID     – linked booking, if any.
//	ReservationID – linked reservation, if any.
//	WalkInID      – linked walk-in, if any.
//	Space/Table/Chair – opaque descriptive payloads passed through untouched.
type SeatingUnit struct {
	SpaceID       int64           `json:"spaceId,omitempty"`
	TableID       int64           `json:"tableId,omitempty"`
	ChairID       int64           `json:"chairId,omitempty"`
	Status        Status          `json:"status"`
	BookingID     int64           `json:"bookingId,omitempty"`
	ReservationID int64           `json:"reservationId,omitempty"`
	WalkInID      int64           `json:"walkInId,omitempty"`
	Space         json.RawMessage `json:"space,omitempty"`
	Table         json.RawMessage `json:"table,omitempty"`
	Chair         json.RawMessage `json:"chair,omitempty"`
}

// IdentityKind tells which identifiers make up an Identity.
type IdentityKind int

const (
	IdentityNone  IdentityKind = iota // no usable identifier
	IdentitySpace                     // space-level unit
	IdentityTable                     // table-level unit
	IdentityChair                     // chair within a table
)

// Identity is the upsert key of a SeatingUnit.  It is comparable so it can be
// used directly as a map key.
type Identity struct {
	Kind    IdentityKind
	SpaceID int64
	TableID int64
	ChairID int64
}

// Identity returns the upsert key: (table, chair) when both are present,
// the table alone when there is no chair, and the space when there is
// neither.  A chair without a table has no usable identity.
func (u SeatingUnit) Identity() Identity {
	switch {
	case u.TableID != 0 && u.ChairID != 0:
		return Identity{Kind: IdentityChair, TableID: u.TableID, ChairID: u.ChairID}
	case u.TableID != 0:
		return Identity{Kind: IdentityTable, TableID: u.TableID}
	case u.ChairID == 0 && u.SpaceID != 0:
		return Identity{Kind: IdentitySpace, SpaceID: u.SpaceID}
	}
	return Identity{}
}

// Valid reports whether the identity can key a unit.
func (id Identity) Valid() bool {
	return id.Kind != IdentityNone
}

func (id Identity) String() string {
	switch id.Kind {
	case IdentityChair:
		return fmt.Sprintf("table=%d chair=%d", id.TableID, id.ChairID)
	case IdentityTable:
		return fmt.Sprintf("table=%d", id.TableID)
	case IdentitySpace:
		return fmt.Sprintf("space=%d", id.SpaceID)
	}
	return "none"
}

// RemovalFilter selects units removed by a cancellation.  Zero fields are
// unset.
type RemovalFilter struct {
	TableID int64 `json:"tableId,omitempty"`
	ChairID int64 `json:"chairId,omitempty"`
}

// Empty reports whether the filter selects nothing.
func (f RemovalFilter) Empty() bool {
	return f.TableID == 0 && f.ChairID == 0
}

// Matches applies the cancellation rules: a unit is removed when its table
// matches the table filter or its chair matches the chair filter, so a table
// filter also takes every chair under that table.
func (f RemovalFilter) Matches(u SeatingUnit) bool {
	if f.TableID != 0 && u.TableID == f.TableID {
		return true
	}
	return f.ChairID != 0 && u.ChairID == f.ChairID
}

func (f RemovalFilter) String() string {
	return "table=" + strconv.FormatInt(f.TableID, 10) + " chair=" + strconv.FormatInt(f.ChairID, 10)
}
