package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const MaxListLimit = 500

// JournalEntry is one applied floor change.  TableID and ChairID are zero
// when the change does not name them.
type JournalEntry struct {
	ID        uint64          `json:"id"`
	SpaceID   int64           `json:"space_id"`
	Kind      string          `json:"kind"`
	Seq       uint64          `json:"seq"`
	TableID   int64           `json:"table_id,omitempty"`
	ChairID   int64           `json:"chair_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

const journalSchema = `CREATE TABLE IF NOT EXISTS floor_events (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	space_id BIGINT NOT NULL,
	kind VARCHAR(64) NOT NULL,
	seq BIGINT UNSIGNED NOT NULL,
	table_id BIGINT NULL,
	chair_id BIGINT NULL,
	status VARCHAR(32) NULL,
	payload JSON NULL,
	created_at DATETIME(3) NOT NULL,
	INDEX idx_floor_events_space (space_id, id)
)`

// JournalRepo appends and lists floor changes in MySQL.
type JournalRepo struct{ DB *sql.DB }

func NewJournalRepo(db *sql.DB) *JournalRepo { return &JournalRepo{DB: db} }

// EnsureSchema creates the floor_events table when missing.
func (r *JournalRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, journalSchema)
	return err
}

// Append inserts an entry and returns its id.  A zero CreatedAt is set to
// the current time.
func (r *JournalRepo) Append(ctx context.Context, e JournalEntry) (uint64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var payload any
	if len(e.Payload) != 0 {
		payload = string(e.Payload)
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO floor_events (space_id, kind, seq, table_id, chair_id, status, payload, created_at) VALUES (?,?,?,?,?,?,?,?)",
		e.SpaceID, e.Kind, e.Seq, nullInt(e.TableID), nullInt(e.ChairID), nullString(e.Status), payload, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ListRecent returns the newest entries of a space, newest first.
func (r *JournalRepo) ListRecent(ctx context.Context, spaceID int64, limit int) ([]JournalEntry, error) {
	if limit <= 0 || MaxListLimit < limit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, space_id, kind, seq, table_id, chair_id, status, payload, created_at FROM floor_events WHERE space_id=? ORDER BY id DESC LIMIT ?",
		spaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []JournalEntry{}
	for rows.Next() {
		var (
			e       JournalEntry
			tableID sql.NullInt64
			chairID sql.NullInt64
			status  sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SpaceID, &e.Kind, &e.Seq, &tableID, &chairID, &status, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TableID = tableID.Int64
		e.ChairID = chairID.Int64
		e.Status = status.String
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
