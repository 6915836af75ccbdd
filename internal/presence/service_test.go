package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/component"
	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/serialmux"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var epoch = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type sampleRecorder struct {
	mu      sync.Mutex
	results []heatmap.EvaluationResult
}

func (r *sampleRecorder) Sample(res heatmap.EvaluationResult, _ time.Time) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *sampleRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func newTestService(t *testing.T, rows, cols, global int, sinks ...heatmap.EventSink) (*Service, *timeutil.MockClock, *sampleRecorder) {
	t.Helper()
	e, err := heatmap.NewEngine(heatmap.Config{Shape: heatmap.Shape{Rows: rows, Cols: cols}, GlobalThresholdMM: global}, nil)
	require.NoError(t, err)
	clock := timeutil.NewMockClock(epoch)
	rec := &sampleRecorder{}
	svc := NewService(e, Options{Clock: clock, Interval: 100 * time.Millisecond, Sinks: sinks, Recorder: rec})
	return svc, clock, rec
}

func TestHandlePayload_FlatAndGridFrames(t *testing.T) {
	svc, _, rec := newTestService(t, 2, 2, 100)

	assert.True(t, svc.HandlePayload(`{"component":"tof","distance_mm":[50,150,4001,90],"target_status":[5,5,255,9]}`))
	require.True(t, svc.Tick())
	snap, ok := svc.Latest()
	require.True(t, ok)
	assert.True(t, snap.Result.GlobalPresence)
	assert.Equal(t, epoch, snap.At)
	assert.Equal(t, []heatmap.CellState{heatmap.CellValid, heatmap.CellValid, heatmap.CellOutOfRange, heatmap.CellValid}, snap.Result.States)

	assert.True(t, svc.HandlePayload(`{"tof":{"distance_mm":[[500,500],[500,500]]}}`))
	require.True(t, svc.Tick())
	snap, _ = svc.Latest()
	assert.False(t, snap.Result.GlobalPresence)
	assert.Equal(t, 2, rec.len())

	events := svc.Events(0)
	require.Len(t, events, 2)
	assert.False(t, events[0].Present, "newest first")
	assert.Equal(t, "tof_presence", events[0].Label)

	// a row mask on a flat frame still applies
	assert.True(t, svc.HandlePayload(`{"distance_mm":[50,50,50,50],"target_status":[[255,255],[255,255]]}`))
	require.True(t, svc.Tick())
	snap, _ = svc.Latest()
	assert.Equal(t, []heatmap.CellState{heatmap.CellInvalid, heatmap.CellInvalid, heatmap.CellInvalid, heatmap.CellInvalid}, snap.Result.States)
	assert.False(t, snap.Result.GlobalPresence)

	// and a flat mask on a row frame
	assert.True(t, svc.HandlePayload(`{"distance_mm":[[50,50],[50,50]],"target_status":[5,9,5,9]}`))
	require.True(t, svc.Tick())
	snap, _ = svc.Latest()
	assert.True(t, snap.Result.GlobalPresence)

	assert.False(t, svc.HandlePayload(`{"distance_mm":[[50,50],[50,50]],"target_status":[5,9,5]}`))
	assert.Equal(t, uint64(1), svc.Stats().MalformedLines)
}

func TestHandlePayload_RejectsAndClassifies(t *testing.T) {
	svc, _, _ := newTestService(t, 2, 2, 100)

	assert.False(t, svc.HandlePayload("boot banner v1.2"))
	assert.False(t, svc.HandlePayload(`{"distance_mm":[1,2,3]}`), "wrong size")
	assert.False(t, svc.HandlePayload(`{"distance_mm":[1,2,`))
	assert.False(t, svc.HandlePayload(`{"distance_mm":null}`))
	assert.False(t, svc.HandlePayload(`{"odr":15,"resolution":"8x8"}`))
	assert.False(t, svc.Tick())

	st := svc.Stats()
	assert.Equal(t, uint64(5), st.Lines)
	assert.Zero(t, st.Frames)
	assert.Equal(t, uint64(1), st.UnknownLines)
	assert.Equal(t, uint64(1), st.MalformedLines)
	assert.Equal(t, uint64(1), svc.Engine().Counters().Dropped)

	assert.Equal(t, map[string]any{"odr": float64(15), "resolution": "8x8"}, svc.DeviceState())
}

func TestComponentsFromDeviceState(t *testing.T) {
	svc, _, _ := newTestService(t, 2, 2, 100)
	svc.HandlePayload(`{"components":[{"name":"vl53l8cx_tof","type":"sensor"},{"name":"lsm6dsv16x_mlc","type":"sensor"}]}`)

	cs, err := svc.Components()
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "lsm6dsv16x_mlc", cs[0].Name)
	assert.Equal(t, component.KindMLC, cs[0].Kind)
	assert.Equal(t, component.KindRanging, cs[1].Kind)
}

func TestSinksReceiveEvents(t *testing.T) {
	var got []heatmap.Event
	sink := heatmap.SinkFunc(func(ev heatmap.Event) { got = append(got, ev) })
	svc, _, _ := newTestService(t, 1, 2, 100, sink)

	require.NoError(t, svc.Engine().SetGlobalThreshold(200))
	svc.HandlePayload(`{"distance_mm":[150,900]}`)
	svc.Tick()

	require.Len(t, got, 2)
	assert.Equal(t, heatmap.EventThresholdChanged, got[0].Kind)
	assert.Equal(t, heatmap.EventPresenceChanged, got[1].Kind)
}

func TestEventsHistoryIsBounded(t *testing.T) {
	svc, _, _ := newTestService(t, 1, 1, 0)
	for i := 0; i < recentEvents+10; i++ {
		svc.HandleEvent(heatmap.Event{Kind: heatmap.EventThresholdChanged, ROI: -1, ValueMM: i})
	}
	all := svc.Events(0)
	require.Len(t, all, recentEvents)
	assert.Equal(t, recentEvents+9, all[0].ValueMM)
	assert.Len(t, svc.Events(3), 3)
}

func TestRun_EvaluatesOnTick(t *testing.T) {
	svc, clock, rec := newTestService(t, 1, 2, 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	clock.WaitForTickers(1)

	require.True(t, svc.HandlePayload(`{"distance_mm":[40,900]}`))
	clock.Advance(50 * time.Millisecond)
	assert.Zero(t, rec.len(), "no tick before the interval")

	clock.Advance(50 * time.Millisecond)
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, time.Millisecond)
	snap, ok := svc.Latest()
	require.True(t, ok)
	assert.True(t, snap.Result.GlobalPresence)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}

func TestConsume_DrainsSerialSubscription(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	svc, _, _ := newTestService(t, 1, 2, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)
	go mux.Monitor(ctx)

	consumed := make(chan error, 1)
	go func() { consumed <- svc.Consume(ctx, ch) }()

	port.AddReadData([]byte("{\"distance_mm\":[40,900]}\n"))
	require.Eventually(t, func() bool { return svc.Stats().Frames == 1 }, time.Second, time.Millisecond)
	require.True(t, svc.Tick())

	cancel()
	assert.ErrorIs(t, <-consumed, context.Canceled)
}

func TestConsume_ReturnsWhenChannelCloses(t *testing.T) {
	svc, _, _ := newTestService(t, 1, 2, 100)
	ch := make(chan string, 1)
	ch <- `{"distance_mm":[1,2]}`
	close(ch)
	assert.NoError(t, svc.Consume(context.Background(), ch))
	assert.Equal(t, uint64(1), svc.Stats().Frames)
}
