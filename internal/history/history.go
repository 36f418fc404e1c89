// Package history keeps a local record of observed window states in SQLite.
//
// The record survives InfluxDB outages and backs the /history API endpoint.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Source values for recorded states.
const (
	SourcePoll    = "poll"
	SourcePush    = "push"
	SourceCommand = "command"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrDeviceRequired is returned when a call omits the device id.
var ErrDeviceRequired = errors.New("history: device id is required")

// Snapshot is a window state as observed at one moment.
type Snapshot struct {
	State    string `json:"state"`
	Position int    `json:"position"`
	Moving   bool   `json:"moving"`
}

// Entry is one stored row.
//
// The Snapshot fields are flattened into the JSON object.
type Entry struct {
	Snapshot

	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Repository stores and retrieves window state history.
type Repository interface {
	RecordState(ctx context.Context, deviceID string, snap Snapshot, source string) error
	Recent(ctx context.Context, deviceID string, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the window_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// RecordState inserts a snapshot. An empty source defaults to SourcePoll.
func (r *SQLiteRepository) RecordState(ctx context.Context, deviceID string, snap Snapshot, source string) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	if source == "" {
		source = SourcePoll
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO window_history (device_id, state, position, moving, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		deviceID, snap.State, snap.Position, boolToInt(snap.Moving), source,
		r.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting window history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for a device, newest first.
// limit defaults to 50 and is clamped to 200.
func (r *SQLiteRepository) Recent(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, ErrDeviceRequired
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, state, position, moving, source, recorded_at
		 FROM window_history
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying window history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var moving int
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.State, &e.Position, &moving, &e.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning window history: %w", err)
		}
		e.Moving = moving != 0
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating window history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and reports how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM window_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting window history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
