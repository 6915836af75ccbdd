package db

import (
	"fmt"

	"github.com/banshee-data/presence.report/internal/heatmap"
)

// ROIAssignment is a persisted cell membership.
type ROIAssignment struct {
	ROI  int          `json:"roi"`
	Cell heatmap.Cell `json:"cell"`
}

// SaveROICells replaces the stored ROI geometry with cells.
func (db *DB) SaveROICells(cells []ROIAssignment) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM roi_cells`); err != nil {
		return fmt.Errorf("failed to clear roi cells: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO roi_cells (row, col, roi) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare roi cell insert: %w", err)
	}
	defer stmt.Close()
	for _, a := range cells {
		if _, err := stmt.Exec(a.Cell.Row, a.Cell.Col, a.ROI); err != nil {
			return fmt.Errorf("failed to store cell (%d,%d): %w", a.Cell.Row, a.Cell.Col, err)
		}
	}
	return tx.Commit()
}

// LoadROICells returns the stored ROI geometry ordered by roi then row-major cell.
func (db *DB) LoadROICells() ([]ROIAssignment, error) {
	rows, err := db.Query(`SELECT roi, row, col FROM roi_cells ORDER BY roi, row, col`)
	if err != nil {
		return nil, fmt.Errorf("failed to query roi cells: %w", err)
	}
	defer rows.Close()

	var out []ROIAssignment
	for rows.Next() {
		var a ROIAssignment
		if err := rows.Scan(&a.ROI, &a.Cell.Row, &a.Cell.Col); err != nil {
			return nil, fmt.Errorf("failed to scan roi cell: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveThresholds stores the global threshold and every ROI threshold.
func (db *DB) SaveThresholds(global int, rois []int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM thresholds`); err != nil {
		return fmt.Errorf("failed to clear thresholds: %w", err)
	}
	const q = `INSERT INTO thresholds (scope, roi, value_mm) VALUES (?, ?, ?)`
	if _, err := tx.Exec(q, heatmap.ScopeGlobal.String(), -1, global); err != nil {
		return fmt.Errorf("failed to store global threshold: %w", err)
	}
	for id, v := range rois {
		if _, err := tx.Exec(q, heatmap.ScopeROI.String(), id, v); err != nil {
			return fmt.Errorf("failed to store roi %d threshold: %w", id, err)
		}
	}
	return tx.Commit()
}

// LoadThresholds returns the stored thresholds. ok is false when nothing
// has been saved yet.
func (db *DB) LoadThresholds() (global int, rois []int, ok bool, err error) {
	rows, err := db.Query(`SELECT scope, roi, value_mm FROM thresholds ORDER BY scope, roi`)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to query thresholds: %w", err)
	}
	defer rows.Close()

	byROI := map[int]int{}
	maxID := -1
	for rows.Next() {
		var (
			scope   string
			id, val int
		)
		if err := rows.Scan(&scope, &id, &val); err != nil {
			return 0, nil, false, fmt.Errorf("failed to scan threshold: %w", err)
		}
		if scope == heatmap.ScopeGlobal.String() {
			global, ok = val, true
			continue
		}
		byROI[id] = val
		if id > maxID {
			maxID = id
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, false, err
	}
	if maxID >= 0 {
		rois = make([]int, maxID+1)
		for id, v := range byROI {
			rois[id] = v
		}
	}
	return global, rois, ok, nil
}

// ApplyTo restores stored geometry and thresholds into the engine. Entries
// the engine rejects (outside the grid, unknown roi) are skipped and
// counted.
func (db *DB) ApplyTo(e *heatmap.Engine) (skipped int, err error) {
	global, rois, ok, err := db.LoadThresholds()
	if err != nil {
		return 0, err
	}
	if ok {
		// global first so the clamp does not lower restored roi values
		if err := e.SetGlobalThreshold(global); err != nil {
			skipped++
		}
		for id, v := range rois {
			if err := e.SetROIThreshold(id, v); err != nil {
				skipped++
			}
		}
	}

	cells, err := db.LoadROICells()
	if err != nil {
		return skipped, err
	}
	for _, a := range cells {
		if owner, owned := e.CellOwner(a.Cell.Row, a.Cell.Col); owned && owner == a.ROI {
			continue
		}
		if _, err := e.ToggleCellMembership(a.ROI, a.Cell.Row, a.Cell.Col); err != nil {
			skipped++
		}
	}
	return skipped, nil
}

// SnapshotFrom stores the engine's current geometry and thresholds.
func (db *DB) SnapshotFrom(e *heatmap.Engine) error {
	global, rois := e.Thresholds()
	if err := db.SaveThresholds(global, rois); err != nil {
		return err
	}
	var cells []ROIAssignment
	for id := range rois {
		members, err := e.ROIMembers(id)
		if err != nil {
			return err
		}
		for _, c := range members {
			cells = append(cells, ROIAssignment{ROI: id, Cell: c})
		}
	}
	return db.SaveROICells(cells)
}
