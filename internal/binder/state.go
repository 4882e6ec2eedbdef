package binder

import (
	"errors"

	"github.com/iliyamo/floor-sync/internal/hub"
	"github.com/iliyamo/floor-sync/internal/layout"
	"github.com/iliyamo/floor-sync/internal/model"
)

type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Reconnecting
	Error
	Terminated
)

var stateNames = []string{
	"Uninitialized",
	"Initializing",
	"Ready",
	"Reconnecting",
	"Error",
	"Terminated",
}

func (s State) String() string {
	if 0 <= int(s) && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrTerminated   = errors.New("binder terminated")
	ErrNotInError   = errors.New("binder is not in the error state")
	ErrInvalidSpace = errors.New("space id must be positive")
)

// View is an immutable snapshot of the binder.  Units is shared between
// readers and must not be modified.
type View struct {
	State      State
	Connection hub.ConnectionState
	SpaceID    int64
	Units      []model.SeatingUnit
	// Dropped counts inputs the projection discarded as malformed.
	Dropped int64
	Err     error
	// Version increases with every published view.
	Version uint64
}

// Filter returns the units with the given status, or all of them for
// model.StatusAll.
func (v *View) Filter(status string) []model.SeatingUnit {
	return layout.FilterUnits(v.Units, status)
}
