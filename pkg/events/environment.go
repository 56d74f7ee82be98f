package events

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Environment summarises the host facts sampled when a recording starts.
type Environment struct {
	Platform            string
	Provider            string
	Monitor             Monitor
	DoubleClickInterval time.Duration
	DoubleClickDistance float64
	Message             string
}

// HostDefaults supplies values used when the host cannot be queried.
type HostDefaults struct {
	Monitor             Monitor
	DoubleClickInterval time.Duration
	DoubleClickDistance float64
}

const (
	providerSynthetic = "synthetic"

	envDoubleClickInterval = "RECORDER_HOST_DOUBLE_CLICK_MS"
	envDoubleClickDistance = "RECORDER_HOST_DOUBLE_CLICK_PX"
)

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// DetectEnvironment samples host input settings. Without a native backend
// the double-click thresholds come from host-provided environment variables
// and fall back to defaults.
func DetectEnvironment(defaults HostDefaults, lookup LookupEnvFunc) Environment {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := Environment{
		Platform:            runtime.GOOS,
		Provider:            providerSynthetic,
		Monitor:             defaults.Monitor,
		DoubleClickInterval: defaults.DoubleClickInterval,
		DoubleClickDistance: defaults.DoubleClickDistance,
		Message:             "synthetic event sources; host thresholds from defaults",
	}

	if raw, ok := lookup(envDoubleClickInterval); ok {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			env.DoubleClickInterval = time.Duration(ms) * time.Millisecond
			env.Message = "host thresholds sampled from environment"
		}
	}
	if raw, ok := lookup(envDoubleClickDistance); ok {
		if px, err := strconv.ParseFloat(raw, 64); err == nil && px >= 0 {
			env.DoubleClickDistance = px
			env.Message = "host thresholds sampled from environment"
		}
	}
	return env
}
