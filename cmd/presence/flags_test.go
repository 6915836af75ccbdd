package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/serialmux"
	"github.com/banshee-data/presence.report/internal/testutil"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, config.DefaultConfigPath, *configPath)
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, "presence.db", *dbPath)
	assert.Empty(t, *plotDir)
	assert.False(t, *devMode)
	assert.False(t, *disableSerial)
}

func TestCheckComponent(t *testing.T) {
	assert.NoError(t, checkComponent("tof"))
	assert.NoError(t, checkComponent("vl53l8cx_tof"))
	assert.Error(t, checkComponent("lsm6dsv16x_mlc"))
	assert.Error(t, checkComponent("iis2mdc_mag"))
}

func TestApplyConfigCells(t *testing.T) {
	e, err := heatmap.NewEngine(heatmap.DefaultConfig(), nil)
	require.NoError(t, err)
	cfg := &config.PresenceConfig{ROICells: []config.ROICell{
		{ROI: 0, Row: 0, Col: 0},
		{ROI: 1, Row: 0, Col: 0},
		{ROI: 2, Row: 9, Col: 9},
	}}
	assert.Equal(t, 2, applyConfigCells(e, cfg))
	owner, ok := e.CellOwner(0, 0)
	require.True(t, ok)
	assert.Equal(t, 0, owner)
}

func TestOpenSerial_Modes(t *testing.T) {
	cfg := &config.PresenceConfig{}

	*disableSerial = true
	m, err := openSerial(cfg)
	*disableSerial = false
	require.NoError(t, err)
	assert.IsType(t, &serialmux.DisabledSerialMux{}, m)

	*devMode = true
	*fixtures = testutil.FixturePath(t, "tof_frames.jsonl")
	defer func() { *devMode = false }()
	m, err = openSerial(cfg)
	require.NoError(t, err)
	defer m.Close()
	assert.IsType(t, &serialmux.SerialMux[*serialmux.MockSerialPort]{}, m)
}
