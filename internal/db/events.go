package db

import (
	"fmt"
	"time"

	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/monitoring"
)

// EventRecord is one persisted engine event.
type EventRecord struct {
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	Label      string    `json:"label"`
	ROI        int       `json:"roi"`
	Present    bool      `json:"present"`
	Scope      string    `json:"scope,omitempty"`
	ValueMM    int       `json:"value_mm,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EventRecorder persists engine events for one session.
type EventRecorder struct {
	db        *DB
	sessionID string
	failures  monitoring.Sampler
}

// EventRecorder returns a heatmap.EventSink that writes presence and
// threshold events to the store. Write errors are logged and never reach
// the engine.
func (db *DB) EventRecorder(sessionID string) *EventRecorder {
	return &EventRecorder{db: db, sessionID: sessionID, failures: monitoring.Sampler{Every: 100}}
}

// HandleEvent implements heatmap.EventSink.
func (r *EventRecorder) HandleEvent(ev heatmap.Event) {
	if err := r.db.InsertEvent(r.sessionID, ev); err != nil {
		r.failures.Logf("[db] failed to record %s: %v", ev, err)
	}
}

// Failures returns the number of events that could not be written.
func (r *EventRecorder) Failures() uint64 { return r.failures.Count() }

// InsertEvent writes one event row, routed by kind.
func (db *DB) InsertEvent(sessionID string, ev heatmap.Event) error {
	now := db.nowNanos()
	var err error
	switch ev.Kind {
	case heatmap.EventPresenceChanged, heatmap.EventROIPresenceChanged:
		_, err = db.Exec(
			`INSERT INTO presence_events (session_id, label, roi, present, recorded_unix_nanos) VALUES (?, ?, ?, ?, ?)`,
			sessionID, ev.Label(), ev.ROI, ev.Present, now,
		)
	case heatmap.EventThresholdChanged:
		_, err = db.Exec(
			`INSERT INTO threshold_changes (session_id, scope, roi, value_mm, recorded_unix_nanos) VALUES (?, ?, ?, ?, ?)`,
			sessionID, ev.Scope.String(), ev.ROI, ev.ValueMM, now,
		)
	default:
		return fmt.Errorf("unsupported event kind %s", ev.Kind)
	}
	return err
}

// RecentEvents returns up to limit events across all sessions, newest first.
func (db *DB) RecentEvents(limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT session_id, kind, label, roi, present, scope, value_mm, recorded_unix_nanos FROM (
			SELECT session_id, 'presence' AS kind, label, roi, present, '' AS scope, 0 AS value_mm, recorded_unix_nanos, event_id AS seq
			FROM presence_events
			UNION ALL
			SELECT session_id, 'threshold' AS kind, '' AS label, roi, 0 AS present, scope, value_mm, recorded_unix_nanos, change_id AS seq
			FROM threshold_changes
		)
		ORDER BY recorded_unix_nanos DESC, seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			rec EventRecord
			ts  int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Kind, &rec.Label, &rec.ROI, &rec.Present, &rec.Scope, &rec.ValueMM, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.RecordedAt = unixNanos(ts)
		if rec.Kind == "threshold" {
			rec.Label = heatmap.Event{Kind: heatmap.EventThresholdChanged, ROI: rec.ROI, Scope: scopeFromString(rec.Scope)}.Label()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scopeFromString(s string) heatmap.ThresholdScope {
	if s == heatmap.ScopeROI.String() {
		return heatmap.ScopeROI
	}
	return heatmap.ScopeGlobal
}
