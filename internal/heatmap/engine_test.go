package heatmap

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

// recorder is an EventSink that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, rows, cols, global int) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Shape = Shape{Rows: rows, Cols: cols}
	cfg.GlobalThresholdMM = global
	e, err := NewEngine(cfg, rec)
	require.NoError(t, err)
	return e, rec
}

func TestEngine_Scenario2x2(t *testing.T) {
	e, rec := newTestEngine(t, 2, 2, 100)

	require.True(t, e.Ingest([]int{50, 150, 4001, 90}, []int{5, 5, 255, 9}))
	res := e.Evaluate()
	require.True(t, res.Evaluated)

	wantStates := []CellState{CellValid, CellValid, CellOutOfRange, CellValid}
	if diff := cmp.Diff(wantStates, res.States); diff != "" {
		t.Errorf("states (-want +got):\n%s", diff)
	}
	assert.True(t, res.GlobalPresence)
	assert.Equal(t, 2, res.Stats.UnderGlobal)

	events := rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventPresenceChanged, ROI: noROI, Present: true}, events[0])
	assert.Equal(t, "tof_presence", events[0].Label())
}

func TestEngine_ScenarioROI(t *testing.T) {
	e, rec := newTestEngine(t, 2, 2, 100)
	added, err := e.ToggleCellMembership(0, 0, 0)
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, e.SetROIThreshold(0, 60))
	rec.take()

	require.True(t, e.Ingest([]int{50, 150, 4001, 90}, []int{5, 5, 255, 9}))
	res := e.Evaluate()

	assert.Equal(t, []bool{true, false, false, false, false}, res.ROIPresence)
	under, err := e.UnderThreshold(0)
	require.NoError(t, err)
	assert.Equal(t, []Cell{{Row: 0, Col: 0}}, under)

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, EventPresenceChanged, events[0].Kind)
	assert.Equal(t, Event{Kind: EventROIPresenceChanged, ROI: 0, Present: true, Scope: ScopeROI}, events[1])
	assert.Equal(t, "Target 1", events[1].Label())
}

func TestEngine_EdgeTriggered(t *testing.T) {
	e, rec := newTestEngine(t, 1, 2, 100)

	// presence per frame: false, false, true, true, false
	frames := [][]int{
		{500, 500},
		{600, 700},
		{50, 500},
		{40, 30},
		{500, 500},
	}
	want := []bool{false, false, true, true, false}
	for i, f := range frames {
		require.True(t, e.Ingest(f, nil))
		res := e.Evaluate()
		require.True(t, res.Evaluated, "frame %d", i)
		assert.Equal(t, want[i], res.GlobalPresence, "frame %d", i)
	}

	events := rec.take()
	require.Len(t, events, 2)
	assert.True(t, events[0].Present)
	assert.False(t, events[1].Present)
}

func TestEngine_ZeroDistanceIsNotPresence(t *testing.T) {
	e, _ := newTestEngine(t, 1, 2, 100)
	require.True(t, e.Ingest([]int{0, 0}, nil))
	res := e.Evaluate()
	assert.False(t, res.GlobalPresence)
	assert.Equal(t, 0, res.Stats.UnderGlobal)
}

func TestEngine_InvalidCellsIgnored(t *testing.T) {
	e, _ := newTestEngine(t, 1, 2, 100)
	require.True(t, e.Ingest([]int{10, 20}, []int{255, 255}))
	res := e.Evaluate()
	assert.False(t, res.GlobalPresence)
	assert.Equal(t, []CellState{CellInvalid, CellInvalid}, res.States)
}

func TestEngine_NoOpIngestKeepsLastResult(t *testing.T) {
	e, _ := newTestEngine(t, 2, 2, 100)
	require.True(t, e.Ingest([]int{50, 150, 200, 90}, nil))
	first := e.Evaluate()
	require.True(t, first.Evaluated)

	assert.False(t, e.Ingest(nil, nil))
	assert.False(t, e.Ingest([]int{1, 2, 3}, nil))
	assert.False(t, e.IngestGrid([][]int{{1, 2}, {3}}, nil))

	res := e.Evaluate()
	assert.False(t, res.Evaluated)
	if diff := cmp.Diff(first, e.Last()); diff != "" {
		t.Errorf("last result changed (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(3), e.Counters().Dropped)
}

func TestEngine_OversizedBufferUsesTail(t *testing.T) {
	e, _ := newTestEngine(t, 1, 2, 100)
	require.True(t, e.Ingest([]int{1, 1, 500, 600}, nil))
	res := e.Evaluate()
	assert.Equal(t, []int{500, 600}, res.Distances)
	assert.False(t, res.GlobalPresence)
}

func TestEngine_ValidityRetainedAcrossFrames(t *testing.T) {
	e, _ := newTestEngine(t, 1, 2, 100)
	require.True(t, e.Ingest([]int{500, 500}, []int{255, 5}))
	e.Evaluate()

	// wrong-size validity is ignored; previous mask still applies
	require.True(t, e.Ingest([]int{50, 500}, []int{5}))
	res := e.Evaluate()
	assert.Equal(t, CellInvalid, res.States[0])
	assert.False(t, res.GlobalPresence)

	require.True(t, e.Ingest([]int{50, 500}, []int{9, 5}))
	res = e.Evaluate()
	assert.True(t, res.GlobalPresence)
}

func TestEngine_MaskSurvivesSupersededFrame(t *testing.T) {
	e, rec := newTestEngine(t, 1, 2, 100)
	require.True(t, e.Ingest([]int{50, 50}, []int{255, 255}))
	require.True(t, e.Ingest([]int{50, 50}, nil))

	res := e.Evaluate()
	require.True(t, res.Evaluated)
	assert.Equal(t, []CellState{CellInvalid, CellInvalid}, res.States)
	assert.False(t, res.GlobalPresence)
	assert.Empty(t, rec.take())
	assert.Equal(t, uint64(1), e.Counters().Superseded)

	// the mask stays in effect for later distance-only frames
	require.True(t, e.Ingest([]int{50, 50}, nil))
	assert.False(t, e.Evaluate().GlobalPresence)
}

func TestEngine_ReshapeClearsPendingMask(t *testing.T) {
	e, _ := newTestEngine(t, 1, 2, 100)
	require.False(t, e.Ingest(nil, []int{255, 255}), "mask alone is not a frame")
	require.True(t, e.Ingest([]int{50, 50}, []int{255, 5}))

	require.NoError(t, e.ReconfigureShape(Shape{Rows: 1, Cols: 2}))
	require.True(t, e.Ingest([]int{50, 50}, nil))
	res := e.Evaluate()
	assert.Equal(t, []CellState{CellUnclassified, CellUnclassified}, res.States, "reshape discards the pending mask")
}

func TestEngine_LastWriteWins(t *testing.T) {
	e, _ := newTestEngine(t, 1, 2, 100)
	require.True(t, e.Ingest([]int{10, 10}, nil))
	require.True(t, e.Ingest([]int{500, 500}, nil))
	res := e.Evaluate()
	assert.Equal(t, []int{500, 500}, res.Distances)

	c := e.Counters()
	assert.Equal(t, uint64(2), c.Ingested)
	assert.Equal(t, uint64(1), c.Superseded)
	assert.Equal(t, uint64(1), c.Evaluated)
}

func TestEngine_OrientationApplied(t *testing.T) {
	e, _ := newTestEngine(t, 2, 2, 100)
	e.SetOrientation(Orientation{Rotation: 1})
	require.True(t, e.IngestGrid([][]int{{1, 2}, {3, 4}}, nil))
	res := e.Evaluate()
	if diff := cmp.Diff([][]int{{3, 1}, {4, 2}}, res.Grid().Rows2D()); diff != "" {
		t.Errorf("normalised grid (-want +got):\n%s", diff)
	}
}

func TestEngine_NonSquareOddRotationDiscarded(t *testing.T) {
	e, rec := newTestEngine(t, 2, 3, 100)
	e.SetOrientation(Orientation{Rotation: 1})
	require.True(t, e.Ingest([]int{1, 2, 3, 4, 5, 6}, nil))
	res := e.Evaluate()
	assert.False(t, res.Evaluated)
	assert.Equal(t, uint64(1), e.Counters().Mismatched)
	assert.Empty(t, rec.take())
}

func TestEngine_ReconfigureShape(t *testing.T) {
	e, rec := newTestEngine(t, 2, 2, 100)
	_, err := e.ToggleCellMembership(0, 0, 0)
	require.NoError(t, err)
	_, err = e.ToggleCellMembership(1, 1, 1)
	require.NoError(t, err)

	require.True(t, e.Ingest([]int{50, 500, 500, 500}, nil))
	require.True(t, e.Evaluate().GlobalPresence)
	rec.take()

	// a frame pending across the reconfigure is discarded
	require.True(t, e.Ingest([]int{50, 500, 500, 500}, nil))
	require.NoError(t, e.ReconfigureShape(Shape{Rows: 1, Cols: 3}))
	assert.False(t, e.Evaluate().Evaluated)

	m0, err := e.ROIMembers(0)
	require.NoError(t, err)
	assert.Equal(t, []Cell{{Row: 0, Col: 0}}, m0)
	m1, err := e.ROIMembers(1)
	require.NoError(t, err)
	assert.Empty(t, m1)

	// presence state survives, so clearing it fires exactly once
	require.True(t, e.Ingest([]int{500, 500, 500}, nil))
	res := e.Evaluate()
	assert.False(t, res.GlobalPresence)
	events := rec.take()
	require.Len(t, events, 1)
	assert.False(t, events[0].Present)

	assert.ErrorIs(t, e.ReconfigureShape(Shape{Rows: 0, Cols: 3}), ErrInvalidArgument)
}

func TestEngine_ConcurrentIngestEvaluate(t *testing.T) {
	e, _ := newTestEngine(t, 8, 8, 1000)
	frame := make([]int, 64)
	for i := range frame {
		frame[i] = 500 + i
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.Ingest(frame, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.Evaluate()
		}
	}()
	wg.Wait()

	c := e.Counters()
	assert.Equal(t, uint64(500), c.Ingested)
	assert.LessOrEqual(t, c.Evaluated+c.Superseded, c.Ingested)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero shape", Config{}},
		{"global above range", Config{Shape: Shape{Rows: 2, Cols: 2}, GlobalThresholdMM: 5000}},
		{"roi above global", Config{Shape: Shape{Rows: 2, Cols: 2}, GlobalThresholdMM: 100, ROIThresholdsMM: []int{200}}},
		{"too many rois", Config{Shape: Shape{Rows: 2, Cols: 2}, ROICapacity: 1, ROIThresholdsMM: []int{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg, nil)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}
