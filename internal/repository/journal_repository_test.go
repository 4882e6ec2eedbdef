package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS floor_events")).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewJournalRepo(db).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO floor_events")).
		WithArgs(int64(7), "BookingCancelled", uint64(12), sql.NullInt64{Int64: 1, Valid: true}, sql.NullInt64{}, sql.NullString{}, nil, at).
		WillReturnResult(sqlmock.NewResult(41, 1))

	id, err := NewJournalRepo(db).Append(context.Background(), JournalEntry{
		SpaceID:   7,
		Kind:      "BookingCancelled",
		Seq:       12,
		TableID:   1,
		CreatedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(41), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "space_id", "kind", "seq", "table_id", "chair_id", "status", "payload", "created_at"}).
		AddRow(uint64(2), int64(7), "BookingCreated", uint64(5), int64(1), int64(2), "Booked", `{"tableId":1,"chairId":2}`, at).
		AddRow(uint64(1), int64(7), "LayoutLoaded", uint64(0), nil, nil, nil, nil, at)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, space_id, kind, seq, table_id, chair_id, status, payload, created_at FROM floor_events WHERE space_id=?")).
		WithArgs(int64(7), 20).
		WillReturnRows(rows)

	entries, err := NewJournalRepo(db).ListRecent(context.Background(), 7, 20)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, JournalEntry{
		ID:        2,
		SpaceID:   7,
		Kind:      "BookingCreated",
		Seq:       5,
		TableID:   1,
		ChairID:   2,
		Status:    "Booked",
		Payload:   json.RawMessage(`{"tableId":1,"chairId":2}`),
		CreatedAt: at,
	}, entries[0])
	assert.Equal(t, int64(0), entries[1].TableID)
	assert.Nil(t, entries[1].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentLimit(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewJournalRepo(db)
	_, err = repo.ListRecent(context.Background(), 7, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = repo.ListRecent(context.Background(), 7, MaxListLimit+1)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}
