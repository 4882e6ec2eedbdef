package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Status is the availability of a seating unit.  The set is closed and
// mirrors the server enumeration in declaration order, so the integer
// ordinal the server may send maps onto statusOrder.
type Status string

const (
	StatusNone         Status = "None"
	StatusReserved     Status = "Reserved"
	StatusBooked       Status = "Booked"
	StatusWalkIn       Status = "WalkIn"
	StatusAnnounced    Status = "Announced"
	StatusNotAnnounced Status = "Not_Announced"
	StatusFinished     Status = "Finished"
)

// StatusAll is the filter value that selects every status.
const StatusAll = "all"

var statusOrder = []Status{
	StatusNone,
	StatusReserved,
	StatusBooked,
	StatusWalkIn,
	StatusAnnounced,
	StatusNotAnnounced,
	StatusFinished,
}

// Statuses returns every status in enumeration order.
func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// ParseStatus converts a status name into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range statusOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Valid reports whether s belongs to the enumeration.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// UnmarshalJSON accepts the status name or its integer ordinal.
func (s *Status) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = StatusNone
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		st, err := ParseStatus(name)
		if err != nil {
			return err
		}
		*s = st
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("invalid status %s", data)
	}
	if n < 0 || n >= len(statusOrder) {
		return fmt.Errorf("status ordinal %d out of range", n)
	}
	*s = statusOrder[n]
	return nil
}
