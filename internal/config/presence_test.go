package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/fsutil"
	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/serialmux"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	assert.Equal(t, "tof", cfg.GetComponent())
	assert.Equal(t, 8, cfg.GetRows())
	assert.Equal(t, 8, cfg.GetCols())
	assert.Equal(t, 4000, cfg.GetMaxRangeMM())
	assert.Equal(t, 1000, cfg.GetGlobalThresholdMM())
	assert.Equal(t, 100*time.Millisecond, cfg.GetEvaluateInterval())
	assert.Equal(t, 921600, cfg.GetSerial().BaudRate)
	assert.NotEmpty(t, cfg.StartCommands)

	_, err := heatmap.NewEngine(cfg.EngineConfig(), nil)
	require.NoError(t, err)
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := &PresenceConfig{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "tof", cfg.GetComponent())
	assert.Equal(t, heatmap.DefaultMaxRangeMM, cfg.GetMaxRangeMM())
	assert.Equal(t, heatmap.DefaultROICapacity, cfg.GetROICapacity())
	assert.Equal(t, 0, cfg.GetGlobalThresholdMM())
	assert.Equal(t, heatmap.Orientation{}, cfg.GetOrientation())
	assert.Equal(t, serialmux.PortOptions{}, cfg.GetSerial())
	assert.Equal(t, defaultEvaluateInterval, cfg.GetEvaluateInterval())
}

func TestLoadPresenceConfig(t *testing.T) {
	path := writeConfig(t, "presence.json", `{
  "component": "vl53l8cx_tof",
  "rows": 4,
  "cols": 4,
  "rotation": -1,
  "flip_y": true,
  "global_threshold_mm": 900,
  "roi_thresholds_mm": [300, 600],
  "roi_cells": [{"roi": 0, "row": 1, "col": 2}, {"roi": 1, "row": 3, "col": 3}],
  "evaluate_interval": "250ms"
}`)

	cfg, err := LoadPresenceConfig(path)
	require.NoError(t, err)

	ec := cfg.EngineConfig()
	assert.Equal(t, heatmap.Shape{Rows: 4, Cols: 4}, ec.Shape)
	assert.Equal(t, heatmap.Orientation{Rotation: -1, FlipY: true}, ec.Orientation)
	assert.Equal(t, 900, ec.GlobalThresholdMM)
	assert.Equal(t, []int{300, 600}, ec.ROIThresholdsMM)
	assert.Equal(t, 250*time.Millisecond, cfg.GetEvaluateInterval())
	assert.Len(t, cfg.ROICells, 2)
}

func TestLoadPresenceConfig_FileChecks(t *testing.T) {
	_, err := LoadPresenceConfig(writeConfig(t, "presence.yaml", `{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json extension")

	_, err = LoadPresenceConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadPresenceConfig(writeConfig(t, "bad.json", `{"rows": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")

	big := writeConfig(t, "big.json", `{"component": "`+strings.Repeat("x", maxFileSize)+`"}`)
	_, err = LoadPresenceConfig(big)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadPresenceConfigFS(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("etc/presence.json", []byte(`{"rows": 2, "cols": 3, "roi_cells": [{"roi": 4, "row": 1, "col": 2}]}`))

	cfg, err := LoadPresenceConfigFS(fsys, "etc/presence.json")
	require.NoError(t, err)
	assert.Equal(t, heatmap.Shape{Rows: 2, Cols: 3}, cfg.EngineConfig().Shape)
	assert.Equal(t, []ROICell{{ROI: 4, Row: 1, Col: 2}}, cfg.ROICells)

	_, err = LoadPresenceConfigFS(fsys, "etc/missing.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stat")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PresenceConfig
		wantErr string
	}{
		{"zero rows", PresenceConfig{Rows: ptrInt(0)}, "rows and cols"},
		{"negative max range", PresenceConfig{MaxRangeMM: ptrInt(-1)}, "max_range_mm"},
		{"global above range", PresenceConfig{GlobalThresholdMM: ptrInt(5000)}, "global_threshold_mm"},
		{"zero capacity", PresenceConfig{ROICapacity: ptrInt(0)}, "roi_capacity"},
		{"too many thresholds", PresenceConfig{ROICapacity: ptrInt(1), ROIThresholdsMM: []int{0, 0}}, "roi_thresholds_mm has"},
		{"roi above global", PresenceConfig{GlobalThresholdMM: ptrInt(100), ROIThresholdsMM: []int{200}}, "roi_thresholds_mm[0]"},
		{"roi id", PresenceConfig{ROICells: []ROICell{{ROI: 5}}}, "roi 5 outside"},
		{"cell outside grid", PresenceConfig{ROICells: []ROICell{{Row: 8}}}, "outside 8x8"},
		{"duplicate cell", PresenceConfig{ROICells: []ROICell{{ROI: 0, Row: 1, Col: 1}, {ROI: 1, Row: 1, Col: 1}}}, "already listed"},
		{"bad interval", PresenceConfig{EvaluateInterval: ptrString("soon")}, "evaluate_interval"},
		{"negative interval", PresenceConfig{EvaluateInterval: ptrString("-1s")}, "evaluate_interval"},
		{"bad parity", PresenceConfig{Serial: &serialmux.PortOptions{Parity: "X"}}, "serial"},
		{"valid", PresenceConfig{FlipX: ptrBool(true), Rows: ptrInt(2), Cols: ptrInt(2)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
