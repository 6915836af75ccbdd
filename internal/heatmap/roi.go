package heatmap

import (
	"fmt"
	"sort"
)

func (e *Engine) checkROI(roi int) error {
	if roi < 0 || roi >= len(e.rois) {
		return fmt.Errorf("%w: roi id %d outside [0, %d)", ErrInvalidArgument, roi, len(e.rois))
	}
	return nil
}

func (e *Engine) checkThreshold(mm int) error {
	if mm < 0 || mm > e.maxRange {
		return fmt.Errorf("%w: threshold %d outside [0, %d]", ErrInvalidArgument, mm, e.maxRange)
	}
	return nil
}

// SetGlobalThreshold sets the global presence threshold. Any ROI threshold
// above the new value is lowered to match so that no ROI threshold exceeds
// the global one. Each change, requested or induced, is emitted as an
// EventThresholdChanged.
func (e *Engine) SetGlobalThreshold(mm int) error {
	if err := e.checkThreshold(mm); err != nil {
		return err
	}
	e.mu.Lock()
	var events []Event
	if e.global != mm {
		e.global = mm
		events = append(events, thresholdEvent(ScopeGlobal, noROI, mm))
	}
	for id := range e.rois {
		if e.rois[id].threshold > mm {
			e.rois[id].threshold = mm
			events = append(events, thresholdEvent(ScopeROI, id, mm))
		}
	}
	e.mu.Unlock()

	e.emit(events)
	return nil
}

// SetROIThreshold sets one ROI's alert threshold. Raising it above the
// global threshold raises the global threshold to the same value.
func (e *Engine) SetROIThreshold(roi, mm int) error {
	if err := e.checkROI(roi); err != nil {
		return err
	}
	if err := e.checkThreshold(mm); err != nil {
		return err
	}
	e.mu.Lock()
	var events []Event
	if e.rois[roi].threshold != mm {
		e.rois[roi].threshold = mm
		events = append(events, thresholdEvent(ScopeROI, roi, mm))
	}
	if mm > e.global {
		e.global = mm
		events = append(events, thresholdEvent(ScopeGlobal, noROI, mm))
	}
	e.mu.Unlock()

	e.emit(events)
	return nil
}

// Thresholds returns the global threshold and the per-ROI thresholds indexed by id.
func (e *Engine) Thresholds() (global int, rois []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rois = make([]int, len(e.rois))
	for id := range e.rois {
		rois[id] = e.rois[id].threshold
	}
	return e.global, rois
}

// ToggleCellMembership adds (row, col) to roi when the cell is unassigned, or
// removes it when it already belongs to roi. A cell owned by a different ROI
// is left untouched and ErrCellOwned is returned. added reports the new
// membership.
func (e *Engine) ToggleCellMembership(roi, row, col int) (added bool, err error) {
	if err := e.checkROI(roi); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.shape.Contains(row, col) {
		return false, fmt.Errorf("%w: cell (%d,%d) outside %s grid", ErrInvalidArgument, row, col, e.shape)
	}
	idx := e.shape.Idx(row, col)
	switch owner := e.owner[idx]; owner {
	case noROI:
		e.owner[idx] = roi
		return true, nil
	case roi:
		e.owner[idx] = noROI
		delete(e.rois[roi].under, Cell{Row: row, Col: col})
		return false, nil
	default:
		return false, fmt.Errorf("%w: cell (%d,%d) is in roi %d", ErrCellOwned, row, col, owner)
	}
}

// ClearROI removes every member of roi.
func (e *Engine) ClearROI(roi int) error {
	if err := e.checkROI(roi); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for idx, owner := range e.owner {
		if owner == roi {
			e.owner[idx] = noROI
		}
	}
	clear(e.rois[roi].under)
	return nil
}

// CellOwner returns the ROI that owns (row, col), if any.
func (e *Engine) CellOwner(row, col int) (roi int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.shape.Contains(row, col) {
		return noROI, false
	}
	roi = e.owner[e.shape.Idx(row, col)]
	return roi, roi != noROI
}

// ROIMembers returns the cells of roi in row-major order.
func (e *Engine) ROIMembers(roi int) ([]Cell, error) {
	if err := e.checkROI(roi); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var cells []Cell
	for idx, owner := range e.owner {
		if owner == roi {
			cells = append(cells, Cell{Row: idx / e.shape.Cols, Col: idx % e.shape.Cols})
		}
	}
	return cells, nil
}

// UnderThreshold returns the cells of roi that were under its threshold at
// the last evaluation, sorted row-major.
func (e *Engine) UnderThreshold(roi int) ([]Cell, error) {
	if err := e.checkROI(roi); err != nil {
		return nil, err
	}
	e.mu.Lock()
	cells := make([]Cell, 0, len(e.rois[roi].under))
	for c := range e.rois[roi].under {
		cells = append(cells, c)
	}
	e.mu.Unlock()
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Col < cells[j].Col
	})
	return cells, nil
}

// ROIAlerting reports the alert state of every ROI after the last evaluation.
func (e *Engine) ROIAlerting() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]bool, len(e.rois))
	for id := range e.rois {
		out[id] = e.rois[id].alerting
	}
	return out
}
