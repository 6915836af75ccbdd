package heatmap

import "fmt"

// EventKind discriminates the notifications emitted by the Engine.
type EventKind int

const (
	// EventPresenceChanged reports a transition of the global presence state.
	EventPresenceChanged EventKind = iota
	// EventROIPresenceChanged reports a transition of one ROI's alert state.
	EventROIPresenceChanged
	// EventThresholdChanged reports a global or ROI threshold update, including
	// updates induced by the ROI/global clamp.
	EventThresholdChanged
)

func (k EventKind) String() string {
	switch k {
	case EventPresenceChanged:
		return "presence_changed"
	case EventROIPresenceChanged:
		return "roi_presence_changed"
	case EventThresholdChanged:
		return "threshold_changed"
	default:
		return fmt.Sprintf("event_kind_%d", int(k))
	}
}

// ThresholdScope says which threshold an EventThresholdChanged refers to.
type ThresholdScope int

const (
	ScopeGlobal ThresholdScope = iota
	ScopeROI
)

func (s ThresholdScope) String() string {
	if s == ScopeROI {
		return "roi"
	}
	return "global"
}

// Event is a single engine notification. ROI is -1 for global events.
type Event struct {
	Kind    EventKind      `json:"kind"`
	ROI     int            `json:"roi"`
	Present bool           `json:"present"`
	Scope   ThresholdScope `json:"scope"`
	ValueMM int            `json:"value_mm"`
}

// Label returns the name the display layer shows for the event source.
func (e Event) Label() string {
	switch e.Kind {
	case EventPresenceChanged:
		return "tof_presence"
	case EventROIPresenceChanged:
		return fmt.Sprintf("Target %d", e.ROI+1)
	default:
		if e.Scope == ScopeROI {
			return fmt.Sprintf("roi_%d_threshold", e.ROI)
		}
		return "global_threshold"
	}
}

func (e Event) String() string {
	switch e.Kind {
	case EventThresholdChanged:
		return fmt.Sprintf("%s %s=%dmm", e.Kind, e.Label(), e.ValueMM)
	default:
		return fmt.Sprintf("%s %s present=%t", e.Kind, e.Label(), e.Present)
	}
}

func presenceEvent(present bool) Event {
	return Event{Kind: EventPresenceChanged, ROI: noROI, Present: present}
}

func roiPresenceEvent(roi int, present bool) Event {
	return Event{Kind: EventROIPresenceChanged, ROI: roi, Present: present, Scope: ScopeROI}
}

func thresholdEvent(scope ThresholdScope, roi, value int) Event {
	return Event{Kind: EventThresholdChanged, ROI: roi, Scope: scope, ValueMM: value}
}

// EventSink receives engine notifications. HandleEvent is called
// synchronously, outside the engine lock, in the order events occurred.
type EventSink interface {
	HandleEvent(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// HandleEvent calls f(ev).
func (f SinkFunc) HandleEvent(ev Event) { f(ev) }

// MultiSink delivers every event to each sink in order. Nil entries are skipped.
type MultiSink []EventSink

// HandleEvent forwards ev to all sinks.
func (m MultiSink) HandleEvent(ev Event) {
	for _, s := range m {
		if s != nil {
			s.HandleEvent(ev)
		}
	}
}
