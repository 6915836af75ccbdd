package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/presence.report/internal/heatmap"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("session not found")

// Session is one run of the service against a device component.
type Session struct {
	ID        string        `json:"session_id"`
	Component string        `json:"component"`
	Shape     heatmap.Shape `json:"shape"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// StartSession records the start of a run and returns its id.
func (db *DB) StartSession(component string, shape heatmap.Shape) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, component, rows, cols, started_unix_nanos) VALUES (?, ?, ?, ?, ?)`,
		id, component, shape.Rows, shape.Cols, db.nowNanos(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the end time of a session.
func (db *DB) EndSession(id string) error {
	res, err := db.Exec(`UPDATE sessions SET ended_unix_nanos = ? WHERE session_id = ?`, db.nowNanos(), id)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// GetSession loads one session by id.
func (db *DB) GetSession(id string) (*Session, error) {
	var (
		s     Session
		start int64
		end   sql.NullInt64
	)
	err := db.QueryRow(
		`SELECT session_id, component, rows, cols, started_unix_nanos, ended_unix_nanos FROM sessions WHERE session_id = ?`, id,
	).Scan(&s.ID, &s.Component, &s.Shape.Rows, &s.Shape.Cols, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	s.StartedAt = unixNanos(start)
	if end.Valid {
		t := unixNanos(end.Int64)
		s.EndedAt = &t
	}
	return &s, nil
}
