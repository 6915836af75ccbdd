package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/presence.report/internal/fsutil"
	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical presence defaults file.
const DefaultConfigPath = "config/presence.defaults.json"

const (
	defaultComponent        = "tof"
	defaultRows             = 8
	defaultCols             = 8
	defaultEvaluateInterval = 100 * time.Millisecond
	maxFileSize             = 1 * 1024 * 1024 // 1MB
)

// ROICell assigns one grid cell to a region of interest at startup.
type ROICell struct {
	ROI int `json:"roi"`
	Row int `json:"row"`
	Col int `json:"col"`
}

// PresenceConfig is the on-disk configuration of the presence service.
// Every field is optional; the Get* methods supply defaults for omitted
// fields so partial files are safe.
type PresenceConfig struct {
	// Device component that produces the heatmap, e.g. "tof" or "vl53l8cx_tof".
	Component *string `json:"component,omitempty"`

	// Grid geometry and orientation
	Rows     *int  `json:"rows,omitempty"`
	Cols     *int  `json:"cols,omitempty"`
	Rotation *int  `json:"rotation,omitempty"` // quarter turns
	FlipX    *bool `json:"flip_x,omitempty"`
	FlipY    *bool `json:"flip_y,omitempty"`

	// Thresholds, all in millimetres
	MaxRangeMM        *int  `json:"max_range_mm,omitempty"`
	GlobalThresholdMM *int  `json:"global_threshold_mm,omitempty"`
	ROICapacity       *int  `json:"roi_capacity,omitempty"`
	ROIThresholdsMM   []int `json:"roi_thresholds_mm,omitempty"`

	ROICells []ROICell `json:"roi_cells,omitempty"`

	EvaluateInterval *string `json:"evaluate_interval,omitempty"` // duration string like "100ms"

	Serial        *serialmux.PortOptions `json:"serial,omitempty"`
	StartCommands []string               `json:"start_commands,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// LoadPresenceConfig loads and validates a PresenceConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPresenceConfig(path string) (*PresenceConfig, error) {
	return LoadPresenceConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadPresenceConfigFS is LoadPresenceConfig reading through fsys.
func LoadPresenceConfigFS(fsys fsutil.FileSystem, path string) (*PresenceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PresenceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics when the file cannot be found and is
// intended for tests.
func MustLoadDefaultConfig() *PresenceConfig {
	for _, prefix := range []string{"", "../", "../../", "../../../"} {
		if cfg, err := LoadPresenceConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set. Unset fields are always valid.
func (c *PresenceConfig) Validate() error {
	rows, cols := c.GetRows(), c.GetCols()
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("rows and cols must be positive, got %dx%d", rows, cols)
	}
	maxRange := c.GetMaxRangeMM()
	if maxRange <= 0 {
		return fmt.Errorf("max_range_mm must be positive, got %d", maxRange)
	}
	global := c.GetGlobalThresholdMM()
	if global < 0 || global > maxRange {
		return fmt.Errorf("global_threshold_mm must be between 0 and %d, got %d", maxRange, global)
	}
	capacity := c.GetROICapacity()
	if capacity <= 0 {
		return fmt.Errorf("roi_capacity must be positive, got %d", capacity)
	}
	if len(c.ROIThresholdsMM) > capacity {
		return fmt.Errorf("roi_thresholds_mm has %d entries but roi_capacity is %d", len(c.ROIThresholdsMM), capacity)
	}
	for id, v := range c.ROIThresholdsMM {
		if v < 0 || v > global {
			return fmt.Errorf("roi_thresholds_mm[%d] must be between 0 and global_threshold_mm %d, got %d", id, global, v)
		}
	}

	seen := make(map[[2]int]int, len(c.ROICells))
	for i, rc := range c.ROICells {
		if rc.ROI < 0 || rc.ROI >= capacity {
			return fmt.Errorf("roi_cells[%d]: roi %d outside [0, %d)", i, rc.ROI, capacity)
		}
		if rc.Row < 0 || rc.Row >= rows || rc.Col < 0 || rc.Col >= cols {
			return fmt.Errorf("roi_cells[%d]: cell (%d,%d) outside %dx%d grid", i, rc.Row, rc.Col, rows, cols)
		}
		key := [2]int{rc.Row, rc.Col}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("roi_cells[%d]: cell (%d,%d) already listed at roi_cells[%d]", i, rc.Row, rc.Col, prev)
		}
		seen[key] = i
	}

	if c.EvaluateInterval != nil && *c.EvaluateInterval != "" {
		d, err := time.ParseDuration(*c.EvaluateInterval)
		if err != nil {
			return fmt.Errorf("invalid evaluate_interval '%s': %w", *c.EvaluateInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("evaluate_interval must be positive, got %s", d)
		}
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}
	return nil
}

// GetComponent returns the component name or "tof" if not set.
func (c *PresenceConfig) GetComponent() string {
	if c.Component == nil || *c.Component == "" {
		return defaultComponent
	}
	return *c.Component
}

// GetRows returns the grid row count or 8 if not set.
func (c *PresenceConfig) GetRows() int {
	if c.Rows == nil {
		return defaultRows
	}
	return *c.Rows
}

// GetCols returns the grid column count or 8 if not set.
func (c *PresenceConfig) GetCols() int {
	if c.Cols == nil {
		return defaultCols
	}
	return *c.Cols
}

// GetOrientation returns the configured orientation, zero if not set.
func (c *PresenceConfig) GetOrientation() heatmap.Orientation {
	var o heatmap.Orientation
	if c.Rotation != nil {
		o.Rotation = *c.Rotation
	}
	if c.FlipX != nil {
		o.FlipX = *c.FlipX
	}
	if c.FlipY != nil {
		o.FlipY = *c.FlipY
	}
	return o
}

// GetMaxRangeMM returns the sensor maximum range or 4000 if not set.
func (c *PresenceConfig) GetMaxRangeMM() int {
	if c.MaxRangeMM == nil {
		return heatmap.DefaultMaxRangeMM
	}
	return *c.MaxRangeMM
}

// GetGlobalThresholdMM returns the global threshold or 0 if not set.
func (c *PresenceConfig) GetGlobalThresholdMM() int {
	if c.GlobalThresholdMM == nil {
		return 0
	}
	return *c.GlobalThresholdMM
}

// GetROICapacity returns the number of ROIs or 5 if not set.
func (c *PresenceConfig) GetROICapacity() int {
	if c.ROICapacity == nil {
		return heatmap.DefaultROICapacity
	}
	return *c.ROICapacity
}

// GetEvaluateInterval returns the evaluation period or 100ms if not set.
func (c *PresenceConfig) GetEvaluateInterval() time.Duration {
	if c.EvaluateInterval == nil || *c.EvaluateInterval == "" {
		return defaultEvaluateInterval
	}
	d, err := time.ParseDuration(*c.EvaluateInterval)
	if err != nil || d <= 0 {
		return defaultEvaluateInterval
	}
	return d
}

// GetSerial returns the serial options, zero values when not set.
// PortOptions.Normalise fills in the device defaults.
func (c *PresenceConfig) GetSerial() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}

// EngineConfig converts the file into the engine's construction parameters.
func (c *PresenceConfig) EngineConfig() heatmap.Config {
	return heatmap.Config{
		Shape:             heatmap.Shape{Rows: c.GetRows(), Cols: c.GetCols()},
		Orientation:       c.GetOrientation(),
		MaxRangeMM:        c.GetMaxRangeMM(),
		GlobalThresholdMM: c.GetGlobalThresholdMM(),
		ROICapacity:       c.GetROICapacity(),
		ROIThresholdsMM:   append([]int(nil), c.ROIThresholdsMM...),
	}
}
