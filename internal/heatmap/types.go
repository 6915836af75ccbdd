package heatmap

import (
	"errors"
	"fmt"
)

const (
	// DefaultMaxRangeMM is the largest distance the ToF sensor reports as a
	// real measurement. Anything above it is treated as out of range.
	DefaultMaxRangeMM = 4000
	// DefaultROICapacity is the number of selectable regions of interest.
	DefaultROICapacity = 5

	noROI = -1
)

// ErrInvalidArgument is returned when a caller passes an argument the engine
// cannot act on (unknown ROI id, coordinates outside the grid, a threshold
// outside the sensor range). It indicates a programming error in the caller,
// not sensor noise.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrCellOwned is returned when toggling a cell that already belongs to a
// different ROI. It wraps ErrInvalidArgument.
var ErrCellOwned = fmt.Errorf("%w: cell belongs to another region", ErrInvalidArgument)

// Shape is the fixed size of a distance map.
type Shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Cells returns the number of cells in the shape.
func (s Shape) Cells() int { return s.Rows * s.Cols }

// Contains reports whether (row, col) lies inside the shape.
func (s Shape) Contains(row, col int) bool {
	return row >= 0 && row < s.Rows && col >= 0 && col < s.Cols
}

// Idx maps (row, col) to the row-major index.
func (s Shape) Idx(row, col int) int { return row*s.Cols + col }

// Valid reports whether both dimensions are positive.
func (s Shape) Valid() bool { return s.Rows > 0 && s.Cols > 0 }

func (s Shape) String() string { return fmt.Sprintf("%dx%d", s.Rows, s.Cols) }

// Cell is a (row, col) coordinate in the normalised grid.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// ValidityCode is the per-cell target status reported by the sensor.
type ValidityCode int

const (
	// ValidityUnset is the value of every cell until the sensor sends a mask.
	ValidityUnset ValidityCode = 0
	// TargetConfirmed marks a measurement the sensor is confident about.
	TargetConfirmed ValidityCode = 5
	// TargetLikely marks a measurement the sensor accepts with lower confidence.
	TargetLikely ValidityCode = 9
	// TargetInvalid marks an out-of-range or ambiguous measurement.
	TargetInvalid ValidityCode = 255
)

// CellState is the classification of a cell after evaluation.
type CellState int

const (
	// CellUnclassified has no usable validity code; it is evaluated as valid.
	CellUnclassified CellState = iota
	// CellValid carries a confirmed or likely target.
	CellValid
	// CellInvalid was flagged invalid by the validity mask.
	CellInvalid
	// CellOutOfRange reported a distance above the sensor maximum.
	CellOutOfRange
)

func (s CellState) String() string {
	switch s {
	case CellValid:
		return "valid"
	case CellInvalid:
		return "invalid"
	case CellOutOfRange:
		return "out_of_range"
	default:
		return "unclassified"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s CellState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Usable reports whether the cell takes part in threshold evaluation.
func (s CellState) Usable() bool { return s == CellValid || s == CellUnclassified }

func classifyCell(distance int, code ValidityCode, maxRange int) CellState {
	if distance > maxRange {
		return CellOutOfRange
	}
	switch code {
	case TargetInvalid:
		return CellInvalid
	case TargetConfirmed, TargetLikely:
		return CellValid
	default:
		return CellUnclassified
	}
}

// Config holds the construction parameters of an Engine.
type Config struct {
	Shape       Shape
	Orientation Orientation

	// MaxRangeMM defaults to DefaultMaxRangeMM when zero.
	MaxRangeMM        int
	GlobalThresholdMM int

	// ROICapacity defaults to DefaultROICapacity when zero.
	ROICapacity int
	// ROIThresholdsMM is indexed by ROI id; missing entries default to 0.
	ROIThresholdsMM []int
}

// DefaultConfig returns the configuration of an 8x8 sensor with no thresholds.
func DefaultConfig() Config {
	return Config{
		Shape:       Shape{Rows: 8, Cols: 8},
		MaxRangeMM:  DefaultMaxRangeMM,
		ROICapacity: DefaultROICapacity,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRangeMM == 0 {
		c.MaxRangeMM = DefaultMaxRangeMM
	}
	if c.ROICapacity == 0 {
		c.ROICapacity = DefaultROICapacity
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if !c.Shape.Valid() {
		return fmt.Errorf("%w: shape %s must have positive dimensions", ErrInvalidArgument, c.Shape)
	}
	if c.MaxRangeMM < 0 {
		return fmt.Errorf("%w: max range %d must be non-negative", ErrInvalidArgument, c.MaxRangeMM)
	}
	if c.ROICapacity < 0 {
		return fmt.Errorf("%w: roi capacity %d must be positive", ErrInvalidArgument, c.ROICapacity)
	}
	if c.GlobalThresholdMM < 0 || c.GlobalThresholdMM > c.MaxRangeMM {
		return fmt.Errorf("%w: global threshold %d outside [0, %d]", ErrInvalidArgument, c.GlobalThresholdMM, c.MaxRangeMM)
	}
	if len(c.ROIThresholdsMM) > c.ROICapacity {
		return fmt.Errorf("%w: %d roi thresholds exceed capacity %d", ErrInvalidArgument, len(c.ROIThresholdsMM), c.ROICapacity)
	}
	for id, v := range c.ROIThresholdsMM {
		if v < 0 || v > c.MaxRangeMM {
			return fmt.Errorf("%w: roi %d threshold %d outside [0, %d]", ErrInvalidArgument, id, v, c.MaxRangeMM)
		}
		if v > c.GlobalThresholdMM {
			return fmt.Errorf("%w: roi %d threshold %d above global threshold %d", ErrInvalidArgument, id, v, c.GlobalThresholdMM)
		}
	}
	return nil
}
