// Package ranging decodes the line-oriented JSON payloads emitted by a
// multi-zone time-of-flight sensor into raw distance frames.
//
// A frame line carries "distance_mm" and, optionally, "target_status",
// either as flat row-major arrays or as arrays of rows:
//
//	{"component":"tof","distance_mm":[...],"target_status":[...]}
//	{"tof":{"distance_mm":[[...],[...]],"target_status":[[...],[...]]}}
//
// Any other JSON object is a device configuration line.
package ranging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFrame is returned by Decode for lines that do not carry a frame.
var ErrNotFrame = errors.New("payload is not a ranging frame")

// ErrLayoutMismatch is returned when target_status cannot be laid out like
// distance_mm.
var ErrLayoutMismatch = errors.New("target_status layout does not match distance_mm")

// PayloadKind is the coarse classification of a device line.
type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadFrame
	PayloadConfig
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadFrame:
		return "frame"
	case PayloadConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Classify inspects a line without fully decoding it.
func Classify(payload string) PayloadKind {
	p := strings.TrimSpace(payload)
	if !strings.HasPrefix(p, "{") {
		return PayloadUnknown
	}
	if strings.Contains(p, `"distance_mm"`) {
		return PayloadFrame
	}
	return PayloadConfig
}

// Frame is one decoded sensor frame before orientation is applied.
// Flat payloads fill Distance and Validity; row payloads fill DistanceRows
// and ValidityRows. Validity fields are nil when the line had no mask.
type Frame struct {
	Component    string
	Distance     []int
	Validity     []int
	DistanceRows [][]int
	ValidityRows [][]int
}

// Grid reports whether the distances arrived as rows. Decode lays the
// validity mask out the same way.
func (f Frame) Grid() bool { return f.DistanceRows != nil }

type wireFrame struct {
	Component    string          `json:"component"`
	DistanceMM   json.RawMessage `json:"distance_mm"`
	TargetStatus json.RawMessage `json:"target_status"`
	Tof          *wireFrame      `json:"tof"`
}

// Decode parses a frame line. Lines without distance data return
// ErrNotFrame; malformed JSON or arrays return a wrapped decode error.
func Decode(payload string) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &w); err != nil {
		return Frame{}, fmt.Errorf("decode ranging payload: %w", err)
	}
	component := w.Component
	if w.Tof != nil && len(w.DistanceMM) == 0 {
		if w.Tof.Component == "" {
			w.Tof.Component = component
		}
		w = *w.Tof
		component = w.Component
	}
	if len(w.DistanceMM) == 0 || string(w.DistanceMM) == "null" {
		return Frame{}, ErrNotFrame
	}

	f := Frame{Component: component}
	var err error
	f.Distance, f.DistanceRows, err = decodeValues(w.DistanceMM)
	if err != nil {
		return Frame{}, fmt.Errorf("decode distance_mm: %w", err)
	}
	if len(w.TargetStatus) > 0 && string(w.TargetStatus) != "null" {
		f.Validity, f.ValidityRows, err = decodeValues(w.TargetStatus)
		if err != nil {
			return Frame{}, fmt.Errorf("decode target_status: %w", err)
		}
		if err := f.matchValidityLayout(); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// matchValidityLayout reshapes the mask to the layout of the distances so a
// flat frame never carries a row mask or the reverse.
func (f *Frame) matchValidityLayout() error {
	switch {
	case f.Grid() && f.Validity != nil:
		cols := 0
		if len(f.DistanceRows) > 0 {
			cols = len(f.DistanceRows[0])
		}
		if cols == 0 || len(f.Validity)%cols != 0 {
			return fmt.Errorf("%w: %d target_status values for rows of %d", ErrLayoutMismatch, len(f.Validity), cols)
		}
		for i := 0; i < len(f.Validity); i += cols {
			f.ValidityRows = append(f.ValidityRows, f.Validity[i:i+cols])
		}
		f.Validity = nil
	case !f.Grid() && f.ValidityRows != nil:
		for _, r := range f.ValidityRows {
			f.Validity = append(f.Validity, r...)
		}
		f.ValidityRows = nil
	}
	return nil
}

// decodeValues accepts either [v, ...] or [[v, ...], ...].
func decodeValues(raw json.RawMessage) (flat []int, rows [][]int, err error) {
	if err = json.Unmarshal(raw, &flat); err == nil {
		return flat, nil, nil
	}
	if err = json.Unmarshal(raw, &rows); err == nil {
		return nil, rows, nil
	}
	return nil, nil, err
}
