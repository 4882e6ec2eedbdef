package layout

import (
	"fmt"

	"github.com/iliyamo/floor-sync/internal/model"
)

// DefaultColor is used for statuses without an entry in the palette.
const DefaultColor = "#e5e7eb"

var statusColors = map[model.Status]string{
	model.StatusNone:         "#e5e7eb",
	model.StatusReserved:     "#fbbf24",
	model.StatusBooked:       "#10b981",
	model.StatusWalkIn:       "#8b5cf6",
	model.StatusAnnounced:    "#3b82f6",
	model.StatusNotAnnounced: "#f59e0b",
	model.StatusFinished:     "#6b7280",
}

// StatusColor returns the display color for a status.
func StatusColor(s model.Status) string {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return DefaultColor
}

// Title is the display label of a unit.
func Title(u model.SeatingUnit) string {
	switch {
	case u.TableID != 0 && u.ChairID != 0:
		return fmt.Sprintf("Table %d - Chair %d", u.TableID, u.ChairID)
	case u.TableID != 0:
		return fmt.Sprintf("Table %d", u.TableID)
	case u.SpaceID != 0:
		return fmt.Sprintf("Space %d", u.SpaceID)
	}
	return "Unknown"
}

// StatusCounts counts units per status.
func StatusCounts(units []model.SeatingUnit) map[model.Status]int {
	counts := map[model.Status]int{}
	for _, u := range units {
		counts[u.Status] += 1
	}
	return counts
}

// UniqueStatuses lists the statuses present in units, in encountered order.
func UniqueStatuses(units []model.SeatingUnit) []model.Status {
	seen := map[model.Status]bool{}
	out := []model.Status{}
	for _, u := range units {
		if !seen[u.Status] {
			seen[u.Status] = true
			out = append(out, u.Status)
		}
	}
	return out
}

// FilterUnits returns a new slice holding the units with the given status.
// model.StatusAll or an empty status selects every unit.
func FilterUnits(units []model.SeatingUnit, status string) []model.SeatingUnit {
	out := []model.SeatingUnit{}
	for _, u := range units {
		if status == model.StatusAll || status == "" || string(u.Status) == status {
			out = append(out, u)
		}
	}
	return out
}
