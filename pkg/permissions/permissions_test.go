package permissions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup map[string]string

func (f fakeLookup) get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func TestInterpretPermissionFlag(t *testing.T) {
	cases := map[string]struct {
		value    string
		expected Status
	}{
		"granted":     {"granted", StatusGranted},
		"denied":      {"denied", StatusDenied},
		"prompt":      {"prompt", StatusPromptRequired},
		"unsupported": {"unsupported", StatusNotRequired},
		"unknown":     {"", StatusUnknown},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, interpretPermissionFlag("test", tc.value).Status)
		})
	}
}

func TestProbeHonoursEnv(t *testing.T) {
	lookup := fakeLookup{"RECORDER_PERMISSION_SCREEN_RECORDING": "denied"}
	res := Probe(SurfaceScreenRecording, lookup.get)

	assert.Equal(t, SurfaceScreenRecording, res.Surface)
	assert.Equal(t, StatusDenied, res.Status)
	assert.Contains(t, res.Guidance, "RECORDER_PERMISSION_SCREEN_RECORDING")
}

func TestProbePlatformDefault(t *testing.T) {
	res := Probe(SurfaceAccessibility, fakeLookup{}.get)
	if runtime.GOOS == "darwin" {
		assert.Equal(t, StatusPromptRequired, res.Status)
		return
	}
	assert.Equal(t, StatusNotRequired, res.Status)
}

func TestDeniedAndStatusMap(t *testing.T) {
	lookup := fakeLookup{
		"RECORDER_PERMISSION_INPUT_MONITORING": "granted",
		"RECORDER_PERMISSION_SCREEN_RECORDING": "no",
	}
	results := ProbeAll(lookup.get, SurfaceInputMonitoring, SurfaceScreenRecording)
	require.Len(t, results, 2)

	err := Denied(results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screen_recording")
	assert.NotContains(t, err.Error(), "input_monitoring")

	assert.Equal(t, map[string]string{
		"input_monitoring": "granted",
		"screen_recording": "denied",
	}, StatusMap(results))

	assert.NoError(t, Denied(results[:1]))
}
