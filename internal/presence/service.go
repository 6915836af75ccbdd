// Package presence runs the heatmap engine against a live stream of device
// lines: frames are decoded and ingested as they arrive, and a ticker
// evaluates the most recent one at a fixed rate.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/component"
	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/ranging"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

const (
	// DefaultInterval is the evaluation period when Options.Interval is zero.
	DefaultInterval = 100 * time.Millisecond
	// recentEvents bounds the in-memory event history.
	recentEvents = 256
)

// Recorder receives every evaluated frame, e.g. a timeline plotter.
type Recorder interface {
	Sample(res heatmap.EvaluationResult, at time.Time)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	Clock    timeutil.Clock
	Interval time.Duration
	// Sinks receive every engine event after the service has logged it.
	Sinks []heatmap.EventSink
	// Recorder, when set, is fed each evaluated result.
	Recorder Recorder
}

// Snapshot is the latest evaluated frame with the time it was evaluated.
type Snapshot struct {
	Result heatmap.EvaluationResult `json:"result"`
	At     time.Time                `json:"at"`
}

// TimedEvent is an engine event stamped on receipt.
type TimedEvent struct {
	heatmap.Event
	Label string    `json:"label"`
	At    time.Time `json:"at"`
}

// Service couples a line source to a heatmap.Engine.
type Service struct {
	engine   *heatmap.Engine
	clock    timeutil.Clock
	interval time.Duration
	sinks    heatmap.MultiSink
	recorder Recorder

	mu      sync.RWMutex
	latest  Snapshot
	device  map[string]any
	events  []TimedEvent
	lines   uint64
	frames  uint64
	unknown monitoring.Sampler
	badJSON monitoring.Sampler
}

// NewService installs the service as the engine's event sink.
func NewService(engine *heatmap.Engine, opts Options) *Service {
	s := &Service{
		engine:   engine,
		clock:    opts.Clock,
		interval: opts.Interval,
		sinks:    heatmap.MultiSink(opts.Sinks),
		recorder: opts.Recorder,
		device:   make(map[string]any),
		unknown:  monitoring.Sampler{Every: 100},
		badJSON:  monitoring.Sampler{Every: 100},
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	engine.SetSink(s)
	return s
}

// Engine returns the wrapped engine.
func (s *Service) Engine() *heatmap.Engine { return s.engine }

// HandleEvent logs ev, keeps it in the recent history and forwards it to the sinks.
func (s *Service) HandleEvent(ev heatmap.Event) {
	monitoring.Logf("[presence] %s", ev)
	te := TimedEvent{Event: ev, Label: ev.Label(), At: s.clock.Now()}
	s.mu.Lock()
	s.events = append(s.events, te)
	if len(s.events) > recentEvents {
		s.events = append(s.events[:0:0], s.events[len(s.events)-recentEvents:]...)
	}
	s.mu.Unlock()
	s.sinks.HandleEvent(ev)
}

// HandlePayload processes one device line. It reports whether a frame was
// accepted by the engine.
func (s *Service) HandlePayload(line string) bool {
	s.mu.Lock()
	s.lines++
	s.mu.Unlock()

	switch ranging.Classify(line) {
	case ranging.PayloadFrame:
		f, err := ranging.Decode(line)
		if err != nil {
			if !errors.Is(err, ranging.ErrNotFrame) {
				s.badJSON.Logf("[presence] dropping malformed frame: %v", err)
			}
			return false
		}
		var ok bool
		if f.Grid() {
			ok = s.engine.IngestGrid(f.DistanceRows, f.ValidityRows)
		} else {
			ok = s.engine.Ingest(f.Distance, f.Validity)
		}
		if ok {
			s.mu.Lock()
			s.frames++
			s.mu.Unlock()
		}
		return ok

	case ranging.PayloadConfig:
		var cfg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &cfg); err != nil {
			s.badJSON.Logf("[presence] dropping malformed config line: %v", err)
			return false
		}
		s.mu.Lock()
		for k, v := range cfg {
			s.device[k] = v
		}
		s.mu.Unlock()
		return false

	default:
		s.unknown.Logf("[presence] ignoring non-JSON line %q", truncate(line, 64))
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Tick evaluates the pending frame once. It returns false when nothing new
// was evaluated.
func (s *Service) Tick() bool {
	res := s.engine.Evaluate()
	if !res.Evaluated {
		return false
	}
	at := s.clock.Now()
	s.mu.Lock()
	s.latest = Snapshot{Result: res, At: at}
	s.mu.Unlock()
	if s.recorder != nil {
		s.recorder.Sample(res, at)
	}
	return true
}

// Run evaluates on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.Tick()
		}
	}
}

// Consume feeds lines from ch into HandlePayload until ctx is cancelled or
// ch is closed.
func (s *Service) Consume(ctx context.Context, ch <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-ch:
			if !ok {
				return nil
			}
			s.HandlePayload(line)
		}
	}
}

// Latest returns the most recent evaluated frame. ok is false before the
// first evaluation.
func (s *Service) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest.Result.Evaluated
}

// DeviceState returns a copy of the merged device configuration lines.
func (s *Service) DeviceState() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.device))
	for k, v := range s.device {
		out[k] = v
	}
	return out
}

// Components classifies the components reported in the device state.
func (s *Service) Components() ([]component.Classified, error) {
	ds, err := component.FromDeviceState(s.DeviceState())
	if err != nil {
		return nil, err
	}
	return component.ClassifyAll(ds), nil
}

// Events returns up to limit of the most recent events, newest first.
func (s *Service) Events(limit int) []TimedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]TimedEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.events[i])
	}
	return out
}

// Stats is line accounting for the status endpoint.
type Stats struct {
	Lines          uint64 `json:"lines"`
	Frames         uint64 `json:"frames"`
	UnknownLines   uint64 `json:"unknown_lines"`
	MalformedLines uint64 `json:"malformed_lines"`
}

// Stats returns a snapshot of the line accounting.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Lines:          s.lines,
		Frames:         s.frames,
		UnknownLines:   s.unknown.Count(),
		MalformedLines: s.badJSON.Count(),
	}
}
