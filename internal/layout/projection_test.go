package layout

import (
	mathrand "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/floor-sync/internal/model"
)

func assertSorted(t *testing.T, units []model.SeatingUnit) {
	t.Helper()
	for i := 1; i < len(units); i++ {
		a, b := units[i-1], units[i]
		require.LessOrEqual(t, a.TableID, b.TableID, "table order at %d", i)
		if a.TableID == b.TableID {
			require.LessOrEqual(t, a.ChairID, b.ChairID, "chair order at %d", i)
		}
	}
}

func TestUpsertLatestWins(t *testing.T) {
	p := New()
	assert.True(t, p.ApplyUpsert(model.SeatingUnit{TableID: 1, ChairID: 1, Status: model.StatusBooked, BookingID: 5}))
	assert.True(t, p.ApplyUpsert(model.SeatingUnit{TableID: 1, ChairID: 1, Status: model.StatusFinished}))

	units := p.Units()
	require.Len(t, units, 1)
	assert.Equal(t, model.StatusFinished, units[0].Status)
	assert.Equal(t, int64(0), units[0].BookingID)
}

func TestRemovalByTable(t *testing.T) {
	p := New()
	p.ApplyUpsert(model.SeatingUnit{TableID: 1, ChairID: 1, Status: model.StatusBooked})
	p.ApplyUpsert(model.SeatingUnit{TableID: 1, ChairID: 2, Status: model.StatusBooked})
	p.ApplyUpsert(model.SeatingUnit{TableID: 2, ChairID: 1, Status: model.StatusBooked})

	assert.Equal(t, 2, p.ApplyRemoval(model.RemovalFilter{TableID: 1}))
	units := p.Units()
	require.Len(t, units, 1)
	assert.Equal(t, int64(2), units[0].TableID)
	assert.Equal(t, int64(1), units[0].ChairID)
}

func TestRemovalByChairAcrossTables(t *testing.T) {
	p := New()
	p.ApplyFullReplace([]model.SeatingUnit{
		{TableID: 1},
		{TableID: 1, ChairID: 7},
		{TableID: 2, ChairID: 7},
		{TableID: 2, ChairID: 8},
	})
	assert.Equal(t, 2, p.ApplyRemoval(model.RemovalFilter{ChairID: 7}))
	assert.Equal(t, 2, p.Len())

	assert.Equal(t, 1, p.ApplyRemoval(model.RemovalFilter{TableID: 2, ChairID: 8}))
	assert.Equal(t, []model.SeatingUnit{{TableID: 1}}, p.Units())

	assert.Equal(t, 0, p.ApplyRemoval(model.RemovalFilter{}))
	assert.Equal(t, int64(1), p.Dropped())
}

func TestRemovalByTableOrChair(t *testing.T) {
	p := New()
	p.ApplyFullReplace([]model.SeatingUnit{
		{TableID: 1, ChairID: 1},
		{TableID: 1, ChairID: 2},
		{TableID: 2, ChairID: 2},
		{TableID: 3, ChairID: 1},
	})
	assert.Equal(t, 3, p.ApplyRemoval(model.RemovalFilter{TableID: 1, ChairID: 2}))
	assert.Equal(t, []model.SeatingUnit{{TableID: 3, ChairID: 1}}, p.Units())
}

func TestFullReplaceSortsAndDropsMalformed(t *testing.T) {
	p := New()
	p.ApplyUpsert(model.SeatingUnit{TableID: 9})
	p.ApplyFullReplace([]model.SeatingUnit{
		{TableID: 3, ChairID: 2},
		{ChairID: 4},
		{TableID: 1},
		{SpaceID: 2},
		{TableID: 3, ChairID: 1},
	})
	units := p.Units()
	require.Len(t, units, 4)
	assert.Equal(t, int64(2), units[0].SpaceID)
	assert.Equal(t, int64(1), units[1].TableID)
	assert.Equal(t, model.SeatingUnit{TableID: 3, ChairID: 1}, units[2])
	assert.Equal(t, model.SeatingUnit{TableID: 3, ChairID: 2}, units[3])
	assert.Equal(t, int64(1), p.Dropped())
}

func TestUpsertWithoutIdentityDropped(t *testing.T) {
	p := New()
	assert.False(t, p.ApplyUpsert(model.SeatingUnit{Status: model.StatusBooked}))
	assert.False(t, p.ApplyUpsert(model.SeatingUnit{ChairID: 3, Status: model.StatusBooked}))
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, int64(2), p.Dropped())
}

func TestStableTies(t *testing.T) {
	p := New()
	p.ApplyUpsert(model.SeatingUnit{SpaceID: 5})
	p.ApplyUpsert(model.SeatingUnit{SpaceID: 3})
	p.ApplyUpsert(model.SeatingUnit{SpaceID: 4})
	units := p.Units()
	require.Len(t, units, 3)
	assert.Equal(t, []int64{5, 3, 4}, []int64{units[0].SpaceID, units[1].SpaceID, units[2].SpaceID})
}

func TestRandomUpsertSequences(t *testing.T) {
	r := mathrand.New(mathrand.NewSource(42))
	statuses := model.Statuses()

	for round := 0; round < 50; round++ {
		p := New()
		latest := map[model.Identity]model.SeatingUnit{}
		for i := 0; i < 200; i++ {
			u := model.SeatingUnit{
				SpaceID:   1,
				TableID:   int64(r.Intn(6)),
				ChairID:   int64(r.Intn(4)),
				Status:    statuses[r.Intn(len(statuses))],
				BookingID: int64(i),
			}
			if !u.Identity().Valid() {
				continue
			}
			require.True(t, p.ApplyUpsert(u))
			latest[u.Identity()] = u
			if r.Intn(10) == 0 {
				f := model.RemovalFilter{TableID: int64(r.Intn(6))}
				p.ApplyRemoval(f)
				for id, lu := range latest {
					if f.Matches(lu) {
						delete(latest, id)
					}
				}
			}
		}

		units := p.Units()
		assertSorted(t, units)
		seen := map[model.Identity]bool{}
		for _, u := range units {
			id := u.Identity()
			require.False(t, seen[id], "duplicate identity %s", id)
			seen[id] = true
			assert.Equal(t, latest[id], u)
		}
		assert.Len(t, units, len(latest))
	}
}

func TestFilterByStatus(t *testing.T) {
	p := New()
	p.ApplyFullReplace([]model.SeatingUnit{
		{TableID: 1, Status: model.StatusBooked},
		{TableID: 2, Status: model.StatusReserved},
		{TableID: 3, Status: model.StatusBooked},
	})
	assert.Len(t, p.FilterByStatus(model.StatusAll), 3)
	booked := p.FilterByStatus(string(model.StatusBooked))
	require.Len(t, booked, 2)
	assert.Equal(t, int64(3), booked[1].TableID)
	assert.Empty(t, p.FilterByStatus(string(model.StatusWalkIn)))

	all := p.FilterByStatus(model.StatusAll)
	all[0].TableID = 99
	assert.Equal(t, int64(1), p.Units()[0].TableID)
}
