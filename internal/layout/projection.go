// Package layout holds the in-memory projection of a space's seating units.
//
// A Projection is owned by exactly one goroutine (the binder loop) and is not
// safe for concurrent use.  Readers on other goroutines get copies through
// Units or FilterByStatus.
package layout

import (
	"cmp"
	"slices"

	"github.com/golang/glog"

	"github.com/iliyamo/floor-sync/internal/model"
)

// Projection is an ordered list of seating units.  After every mutation the
// list is sorted ascending by table id and then chair id, with a stable sort
// so ties keep their encountered order.  Absent ids sort as zero, which
// places space-level units first and a table's own entry before its chairs.
type Projection struct {
	units   []model.SeatingUnit
	dropped int64
}

func New() *Projection {
	return &Projection{}
}

// ApplyFullReplace discards the current contents and installs units.  Units
// without a usable identity are dropped.
func (p *Projection) ApplyFullReplace(units []model.SeatingUnit) {
	next := make([]model.SeatingUnit, 0, len(units))
	for _, u := range units {
		if !u.Identity().Valid() {
			p.drop(u, "full replace")
			continue
		}
		next = append(next, u)
	}
	p.units = next
	p.sort()
}

// ApplyUpsert replaces the unit with the same identity in place, or appends
// it.  It returns false when the unit was dropped for lacking an identity.
func (p *Projection) ApplyUpsert(u model.SeatingUnit) bool {
	id := u.Identity()
	if !id.Valid() {
		p.drop(u, "upsert")
		return false
	}
	if i := p.indexOf(id); 0 <= i {
		p.units[i] = u
	} else {
		p.units = append(p.units, u)
	}
	p.sort()
	return true
}

// ApplyRemoval removes every unit matched by the filter and returns how many
// were removed.  An empty filter is dropped.
func (p *Projection) ApplyRemoval(f model.RemovalFilter) int {
	if f.Empty() {
		p.dropped += 1
		glog.Warningf("[layout]drop removal with no table or chair id\n")
		return 0
	}
	before := len(p.units)
	p.units = slices.DeleteFunc(p.units, f.Matches)
	return before - len(p.units)
}

// FilterByStatus returns a copy of the units with the given status, or every
// unit for model.StatusAll.
func (p *Projection) FilterByStatus(status string) []model.SeatingUnit {
	return FilterUnits(p.units, status)
}

// Units returns a copy of the projection in order.
func (p *Projection) Units() []model.SeatingUnit {
	return slices.Clone(p.units)
}

func (p *Projection) Len() int {
	return len(p.units)
}

func (p *Projection) Clear() {
	p.units = nil
}

// Dropped counts malformed inputs discarded since creation.
func (p *Projection) Dropped() int64 {
	return p.dropped
}

func (p *Projection) indexOf(id model.Identity) int {
	return slices.IndexFunc(p.units, func(u model.SeatingUnit) bool {
		return u.Identity() == id
	})
}

func (p *Projection) sort() {
	slices.SortStableFunc(p.units, compareUnits)
}

func (p *Projection) drop(u model.SeatingUnit, op string) {
	p.dropped += 1
	glog.Warningf("[layout]drop %s without identity (space=%d table=%d chair=%d status=%s)\n",
		op, u.SpaceID, u.TableID, u.ChairID, u.Status)
}

func compareUnits(a, b model.SeatingUnit) int {
	if c := cmp.Compare(a.TableID, b.TableID); c != 0 {
		return c
	}
	return cmp.Compare(a.ChairID, b.ChairID)
}
