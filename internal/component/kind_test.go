package component

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want Kind
	}{
		{"tof by category", Descriptor{Name: "vl53l8cx", Category: "range"}, KindRanging},
		{"tof by name", Descriptor{Name: "vl53l8cx_tof"}, KindRanging},
		{"mlc wins over category", Descriptor{Name: "lsm6dsv16x_mlc", Category: "range"}, KindMLC},
		{"ambient light", Descriptor{Name: "veml6030_als"}, KindLight},
		{"presence", Descriptor{Name: "sths34pf80_tmos"}, KindPresence},
		{"power", Descriptor{Name: "stpm01", Category: "power"}, KindPower},
		{"imu", Descriptor{Name: "iis3dwb_acc"}, KindLines},
		{"fft", Descriptor{Name: "fft", Type: Algorithm, AlgorithmType: AlgorithmFFT}, KindFFT},
		{"anomaly", Descriptor{Name: "ad", Type: Algorithm, AlgorithmType: AlgorithmAnomalyDetector}, KindAnomalyDetector},
		{"classifier", Descriptor{Name: "nc", Type: Algorithm, AlgorithmType: AlgorithmClassifier}, KindClassifier},
		{"unknown algorithm", Descriptor{Name: "x", Type: Algorithm, AlgorithmType: 9}, KindNone},
		{"actuator", Descriptor{Name: "motor", Type: Actuator, Category: "range"}, KindNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.d))
		})
	}
}

func TestHasHeatmap(t *testing.T) {
	assert.True(t, Descriptor{Name: "tof"}.HasHeatmap())
	assert.False(t, Descriptor{Name: "veml6030_als"}.HasHeatmap())
	assert.False(t, Descriptor{Name: "tof", Type: Algorithm}.HasHeatmap())
}

func TestFromDeviceState(t *testing.T) {
	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"odr": 15,
		"components": [
			{"name": "vl53l8cx_tof", "type": "sensor", "enabled": true},
			{"name": "anomaly", "type": "algorithm", "algorithm_type": 1}
		]
	}`), &state))

	ds, err := FromDeviceState(state)
	require.NoError(t, err)
	require.Len(t, ds, 2)

	got := ClassifyAll(ds)
	assert.Equal(t, "anomaly", got[0].Name)
	assert.Equal(t, KindAnomalyDetector, got[0].Kind)
	assert.Equal(t, KindRanging, got[1].Kind)
	assert.True(t, got[1].Enabled)

	b, err := json.Marshal(got[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"vl53l8cx_tof","type":"sensor","enabled":true,"kind":"ranging"}`, string(b))

	ds, err = FromDeviceState(map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, ds)

	_, err = FromDeviceState(map[string]any{"components": []any{map[string]any{"type": "robot"}}})
	assert.Error(t, err)
}
