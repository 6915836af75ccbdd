package heatmap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/presence.report/internal/monitoring"
)

// pendingFrame is an oriented frame waiting for the next Evaluate call.
// base is the configured shape at ingest time; a frame ingested before a
// shape change never matches the new shape.
type pendingFrame struct {
	base     Shape
	distance Grid
}

// pendingMask is the newest oriented validity mask not yet applied. It is
// held apart from the frame slot so a later distance-only frame does not
// discard it.
type pendingMask struct {
	base     Shape
	validity Grid
}

type roiState struct {
	threshold int
	under     map[Cell]struct{}
	alerting  bool
}

// EvaluationResult is what the display layer renders after each evaluation.
type EvaluationResult struct {
	Evaluated      bool        `json:"evaluated"`
	Seq            uint64      `json:"seq"`
	Shape          Shape       `json:"shape"`
	Distances      []int       `json:"distances_mm"`
	States         []CellState `json:"states"`
	GlobalPresence bool        `json:"global_presence"`
	ROIPresence    []bool      `json:"roi_presence"`
	Events         []Event     `json:"events"`
	Stats          FrameStats  `json:"stats"`
}

// Grid returns the normalised distances as a Grid.
func (r EvaluationResult) Grid() Grid { return Grid{Shape: r.Shape, Values: r.Distances} }

// Counters are cumulative frame accounting since the Engine was created.
type Counters struct {
	Ingested   uint64 `json:"ingested"`
	Dropped    uint64 `json:"dropped"`
	Superseded uint64 `json:"superseded"`
	Evaluated  uint64 `json:"evaluated"`
	Mismatched uint64 `json:"mismatched"`
}

// Engine evaluates presence over a fixed-shape distance map.
//
// Ingest may be called from a producer goroutine while Evaluate runs on a
// ticker; the hand-off is a single slot replaced by atomic swap, so only the
// most recent frame is evaluated. All other state is guarded by mu.
type Engine struct {
	mu sync.Mutex

	shape    Shape
	orient   Orientation
	maxRange int
	global   int

	rois  []roiState
	owner []int // cell index -> ROI id, noROI when unassigned

	validity      []ValidityCode
	globalUnder   []bool
	globalPresent bool

	seq  uint64
	last EvaluationResult

	sinkMu sync.RWMutex
	sink   EventSink

	pending     atomic.Pointer[pendingFrame]
	pendingMask atomic.Pointer[pendingMask]

	ingested   atomic.Uint64
	superseded atomic.Uint64
	evaluated  atomic.Uint64
	dropped    monitoring.Sampler
	mismatched monitoring.Sampler
}

// NewEngine validates cfg and returns an engine with empty ROIs. sink may be nil.
func NewEngine(cfg Config, sink EventSink) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		orient:   cfg.Orientation,
		maxRange: cfg.MaxRangeMM,
		global:   cfg.GlobalThresholdMM,
		rois:     make([]roiState, cfg.ROICapacity),
		sink:     sink,
	}
	e.dropped.Every = 100
	e.mismatched.Every = 100
	for id := range e.rois {
		e.rois[id].under = make(map[Cell]struct{})
		if id < len(cfg.ROIThresholdsMM) {
			e.rois[id].threshold = cfg.ROIThresholdsMM[id]
		}
	}
	e.resetBuffers(cfg.Shape)
	return e, nil
}

// resetBuffers sizes every per-cell buffer for s. Caller holds mu or owns e.
func (e *Engine) resetBuffers(s Shape) {
	e.shape = s
	e.validity = make([]ValidityCode, s.Cells())
	e.globalUnder = make([]bool, s.Cells())
	e.owner = make([]int, s.Cells())
	for i := range e.owner {
		e.owner[i] = noROI
	}
	for id := range e.rois {
		clear(e.rois[id].under)
	}
	e.pending.Store(nil)
	e.pendingMask.Store(nil)
	e.last = EvaluationResult{}
}

// Shape returns the configured frame shape.
func (e *Engine) Shape() Shape {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shape
}

// ROICapacity returns the number of ROI ids the engine accepts.
func (e *Engine) ROICapacity() int { return len(e.rois) }

// MaxRangeMM returns the largest distance treated as a real measurement.
func (e *Engine) MaxRangeMM() int { return e.maxRange }

// ReconfigureShape resizes the engine for a new sensor resolution. The frame,
// validity mask, underthreshold sets and any pending frame are discarded.
// ROI members that fall outside the new shape are purged; the rest keep their
// region. Presence states are kept so the next evaluation reports any
// transition exactly once.
func (e *Engine) ReconfigureShape(s Shape) error {
	if !s.Valid() {
		return fmt.Errorf("%w: shape %s must have positive dimensions", ErrInvalidArgument, s)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	oldShape, oldOwner := e.shape, e.owner
	e.resetBuffers(s)
	purged := 0
	for idx, roi := range oldOwner {
		if roi == noROI {
			continue
		}
		row, col := idx/oldShape.Cols, idx%oldShape.Cols
		if !s.Contains(row, col) {
			purged++
			continue
		}
		e.owner[s.Idx(row, col)] = roi
	}
	monitoring.Logf("[heatmap] shape %s -> %s, purged %d roi cells", oldShape, s, purged)
	return nil
}

// SetOrientation replaces the orientation applied to subsequently ingested frames.
func (e *Engine) SetOrientation(o Orientation) {
	e.mu.Lock()
	e.orient = o
	e.mu.Unlock()
}

// Orientation returns the current orientation.
func (e *Engine) Orientation() Orientation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orient
}

// Ingest offers a flat, row-major distance buffer and an optional validity
// buffer. The distance buffer length must be a non-zero multiple of the cell
// count; only the trailing rows*cols values are used. Frames that do not fit
// are dropped and Ingest returns false. A validity buffer that does not fit is
// ignored and the previous mask stays in effect. An accepted mask replaces
// the last-known mask even if its frame is superseded before evaluation.
func (e *Engine) Ingest(distance, validity []int) bool {
	e.mu.Lock()
	shape, orient := e.shape, e.orient
	e.mu.Unlock()

	n := shape.Cells()
	if len(distance) == 0 || len(distance)%n != 0 {
		e.drop(shape, len(distance))
		return false
	}
	f := &pendingFrame{
		base:     shape,
		distance: Normalize(Grid{Shape: shape, Values: tail(distance, n)}, orient),
	}
	if len(validity) > 0 && len(validity)%n == 0 {
		e.pendingMask.Store(&pendingMask{
			base:     shape,
			validity: Normalize(Grid{Shape: shape, Values: tail(validity, n)}, orient),
		})
	}
	e.offer(f)
	return true
}

// IngestGrid offers a frame already split into rows. It must have exactly
// Rows rows of Cols values; validity may be nil.
func (e *Engine) IngestGrid(distance, validity [][]int) bool {
	shape := e.Shape()
	flat, ok := flatten(distance, shape)
	if !ok {
		e.drop(shape, len(distance))
		return false
	}
	var vflat []int
	if validity != nil {
		vflat, _ = flatten(validity, shape)
	}
	return e.Ingest(flat, vflat)
}

func (e *Engine) offer(f *pendingFrame) {
	e.ingested.Add(1)
	if old := e.pending.Swap(f); old != nil {
		e.superseded.Add(1)
	}
}

func (e *Engine) drop(shape Shape, size int) {
	e.dropped.Logf("[heatmap] dropped frame of %d values for shape %s", size, shape)
}

func tail(values []int, n int) []int {
	out := make([]int, n)
	copy(out, values[len(values)-n:])
	return out
}

func flatten(rows [][]int, shape Shape) ([]int, bool) {
	if len(rows) != shape.Rows {
		return nil, false
	}
	out := make([]int, 0, shape.Cells())
	for _, r := range rows {
		if len(r) != shape.Cols {
			return nil, false
		}
		out = append(out, r...)
	}
	return out, true
}

// Evaluate consumes the pending frame, if any, and runs threshold evaluation.
// It returns a zero result (Evaluated false) when nothing was pending or the
// pending frame no longer matches the configured shape.
func (e *Engine) Evaluate() EvaluationResult {
	f := e.pending.Swap(nil)
	if f == nil {
		return EvaluationResult{}
	}

	e.mu.Lock()
	e.applyMaskLocked()
	if f.base != e.shape || f.distance.Shape != e.shape {
		current := e.shape
		e.mu.Unlock()
		e.mismatched.Logf("[heatmap] discarding %s frame, configured shape is %s", f.distance.Shape, current)
		return EvaluationResult{}
	}
	res := e.evaluateLocked(f.distance)
	e.last = res
	e.mu.Unlock()

	e.evaluated.Add(1)
	e.emit(res.Events)
	return res
}

// applyMaskLocked folds the newest pending mask into the last-known mask.
// Masks ingested for another shape or orientation are discarded.
func (e *Engine) applyMaskLocked() {
	m := e.pendingMask.Swap(nil)
	if m == nil || m.base != e.shape || m.validity.Shape != e.shape {
		return
	}
	for i, v := range m.validity.Values {
		e.validity[i] = ValidityCode(v)
	}
}

func (e *Engine) evaluateLocked(frame Grid) EvaluationResult {
	shape := e.shape
	states := make([]CellState, shape.Cells())
	underGlobal := 0

	for idx, d := range frame.Values {
		state := classifyCell(d, e.validity[idx], e.maxRange)
		states[idx] = state
		usable := state.Usable()

		e.globalUnder[idx] = usable && d != 0 && d < e.global
		if e.globalUnder[idx] {
			underGlobal++
		}

		roi := e.owner[idx]
		if roi == noROI {
			continue
		}
		cell := Cell{Row: idx / shape.Cols, Col: idx % shape.Cols}
		if usable && d < e.rois[roi].threshold {
			e.rois[roi].under[cell] = struct{}{}
		} else {
			delete(e.rois[roi].under, cell)
		}
	}

	var events []Event
	present := underGlobal > 0
	if present != e.globalPresent {
		e.globalPresent = present
		events = append(events, presenceEvent(present))
	}
	roiPresence := make([]bool, len(e.rois))
	for id := range e.rois {
		r := &e.rois[id]
		alerting := len(r.under) > 0
		roiPresence[id] = alerting
		if alerting != r.alerting {
			r.alerting = alerting
			events = append(events, roiPresenceEvent(id, alerting))
		}
	}

	e.seq++
	stats := computeStats(shape, frame.Values, states)
	stats.UnderGlobal = underGlobal
	return EvaluationResult{
		Evaluated:      true,
		Seq:            e.seq,
		Shape:          shape,
		Distances:      append([]int(nil), frame.Values...),
		States:         states,
		GlobalPresence: present,
		ROIPresence:    roiPresence,
		Events:         events,
		Stats:          stats,
	}
}

func (e *Engine) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	e.sinkMu.RLock()
	sink := e.sink
	e.sinkMu.RUnlock()
	if sink == nil {
		return
	}
	for _, ev := range events {
		sink.HandleEvent(ev)
	}
}

// SetSink replaces the event sink. A nil sink discards events.
func (e *Engine) SetSink(sink EventSink) {
	e.sinkMu.Lock()
	e.sink = sink
	e.sinkMu.Unlock()
}

// Last returns the most recent successful evaluation.
func (e *Engine) Last() EvaluationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// GlobalPresence reports the current global presence state.
func (e *Engine) GlobalPresence() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globalPresent
}

// Counters returns a snapshot of the frame accounting.
func (e *Engine) Counters() Counters {
	return Counters{
		Ingested:   e.ingested.Load(),
		Dropped:    e.dropped.Count(),
		Superseded: e.superseded.Load(),
		Evaluated:  e.evaluated.Load(),
		Mismatched: e.mismatched.Count(),
	}
}
