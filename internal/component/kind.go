// Package component maps device components to the view that renders them.
//
// Selection is an explicit switch over a Kind discriminator computed once
// from the component's descriptor; views never inspect each other's
// parameter types.
package component

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ComponentType is the role a component plays on the device.
type ComponentType int

const (
	Sensor ComponentType = iota
	Algorithm
	Actuator
)

func (t ComponentType) String() string {
	switch t {
	case Algorithm:
		return "algorithm"
	case Actuator:
		return "actuator"
	default:
		return "sensor"
	}
}

// MarshalText renders the type by name.
func (t ComponentType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts the names produced by MarshalText.
func (t *ComponentType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "sensor":
		*t = Sensor
	case "algorithm":
		*t = Algorithm
	case "actuator":
		*t = Actuator
	default:
		return fmt.Errorf("unknown component type %q", b)
	}
	return nil
}

// Kind selects the view for a component.
type Kind int

const (
	KindLines Kind = iota
	KindRanging
	KindPresence
	KindLight
	KindPower
	KindMLC
	KindFFT
	KindAnomalyDetector
	KindClassifier
	KindNone
)

var kindNames = map[Kind]string{
	KindLines:           "lines",
	KindRanging:         "ranging",
	KindPresence:        "presence",
	KindLight:           "light",
	KindPower:           "power",
	KindMLC:             "mlc",
	KindFFT:             "fft",
	KindAnomalyDetector: "anomaly_detector",
	KindClassifier:      "classifier",
	KindNone:            "none",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind_%d", int(k))
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Algorithm types as reported by the device firmware.
const (
	AlgorithmFFT             = 0
	AlgorithmAnomalyDetector = 1
	AlgorithmClassifier      = 2
)

// Descriptor is what the device reports about one component.
type Descriptor struct {
	Name          string        `json:"name"`
	DisplayName   string        `json:"display_name,omitempty"`
	Type          ComponentType `json:"type"`
	Category      string        `json:"category,omitempty"`
	AlgorithmType int           `json:"algorithm_type,omitempty"`
	Enabled       bool          `json:"enabled"`
}

// category returns the sensor category, inferring it from the name when
// the device left it out.
func (d Descriptor) category() string {
	if c := strings.ToLower(strings.TrimSpace(d.Category)); c != "" {
		return c
	}
	name := strings.ToLower(d.Name)
	switch {
	case strings.Contains(name, "tof"):
		return "range"
	case strings.Contains(name, "_als"):
		return "light"
	case strings.Contains(name, "_pres"), strings.Contains(name, "tmos"):
		return "presence"
	case strings.Contains(name, "_pow"):
		return "power"
	}
	return ""
}

// Classify returns the view kind for d.
func Classify(d Descriptor) Kind {
	switch d.Type {
	case Actuator:
		return KindNone
	case Algorithm:
		switch d.AlgorithmType {
		case AlgorithmFFT:
			return KindFFT
		case AlgorithmAnomalyDetector:
			return KindAnomalyDetector
		case AlgorithmClassifier:
			return KindClassifier
		default:
			return KindNone
		}
	}

	if strings.Contains(d.Name, "_mlc") {
		return KindMLC
	}
	switch d.category() {
	case "range", "ranging", "tof":
		return KindRanging
	case "presence":
		return KindPresence
	case "light", "als":
		return KindLight
	case "power":
		return KindPower
	}
	return KindLines
}

// HasHeatmap reports whether d produces distance frames for the presence engine.
func (d Descriptor) HasHeatmap() bool { return Classify(d) == KindRanging }

// Classified pairs a descriptor with its view kind.
type Classified struct {
	Descriptor
	Kind Kind `json:"kind"`
}

// ClassifyAll classifies descriptors sorted by name.
func ClassifyAll(ds []Descriptor) []Classified {
	out := make([]Classified, 0, len(ds))
	for _, d := range ds {
		out = append(out, Classified{Descriptor: d, Kind: Classify(d)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromDeviceState extracts descriptors from the "components" entry of the
// merged device configuration lines. A missing entry yields nil.
func FromDeviceState(state map[string]any) ([]Descriptor, error) {
	raw, ok := state["components"]
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode components: %w", err)
	}
	var ds []Descriptor
	if err := json.Unmarshal(b, &ds); err != nil {
		return nil, fmt.Errorf("decode components: %w", err)
	}
	return ds, nil
}
