package permissions

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Status enumerates coarse permission results for OS privacy prompts.
type Status string

const (
	// StatusUnknown indicates no explicit signal about permission state.
	StatusUnknown Status = "unknown"
	// StatusGranted signals that permission was previously granted.
	StatusGranted Status = "granted"
	// StatusDenied indicates the user has explicitly denied access.
	StatusDenied Status = "denied"
	// StatusPromptRequired means the platform will prompt at runtime.
	StatusPromptRequired Status = "prompt"
	// StatusNotRequired reports that the active backend does not need it.
	StatusNotRequired Status = "not_required"
)

// Surface names an OS capability the recorder depends on.
type Surface string

const (
	// SurfaceInputMonitoring gates observing pointer and keyboard events.
	SurfaceInputMonitoring Surface = "input_monitoring"
	// SurfaceScreenRecording gates periodic screen frames.
	SurfaceScreenRecording Surface = "screen_recording"
	// SurfaceAccessibility gates injecting input during replay.
	SurfaceAccessibility Surface = "accessibility"
)

// ProbeResult represents the coarse state for a permission surface.
type ProbeResult struct {
	Surface  Surface
	Status   Status
	Message  string
	Guidance string
}

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// EnvVar returns the override variable for a surface, e.g.
// RECORDER_PERMISSION_ACCESSIBILITY.
func EnvVar(surface Surface) string {
	return "RECORDER_PERMISSION_" + strings.ToUpper(string(surface))
}

// Probe inspects the execution environment for one surface. An explicit
// override wins; otherwise macOS reports a pending prompt and other
// platforms, served by the synthetic backend, need nothing.
func Probe(surface Surface, lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	name := strings.ReplaceAll(string(surface), "_", " ")
	if value, ok := lookup(EnvVar(surface)); ok {
		res := interpretPermissionFlag(name, value)
		res.Surface = surface
		if res.Status == StatusDenied {
			res.Guidance = fmt.Sprintf("grant %s in the system privacy settings or unset %s", name, EnvVar(surface))
		}
		return res
	}
	if runtime.GOOS == "darwin" {
		return ProbeResult{Surface: surface, Status: StatusPromptRequired, Message: name + " authorisation will prompt at runtime"}
	}
	return ProbeResult{Surface: surface, Status: StatusNotRequired, Message: name + " not required by the synthetic backend"}
}

// ProbeAll probes every surface in order.
func ProbeAll(lookup LookupEnvFunc, surfaces ...Surface) []ProbeResult {
	out := make([]ProbeResult, 0, len(surfaces))
	for _, s := range surfaces {
		out = append(out, Probe(s, lookup))
	}
	return out
}

// Denied returns an error naming every denied surface, or nil.
func Denied(results []ProbeResult) error {
	var denied []string
	for _, r := range results {
		if r.Status == StatusDenied {
			denied = append(denied, string(r.Surface))
		}
	}
	if len(denied) == 0 {
		return nil
	}
	sort.Strings(denied)
	return fmt.Errorf("permission denied: %s", strings.Join(denied, ", "))
}

// StatusMap flattens results for manifest integration.
func StatusMap(results []ProbeResult) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[string(r.Surface)] = r.StatusString()
	}
	return out
}

func interpretPermissionFlag(name, value string) ProbeResult {
	normalised := strings.ToLower(strings.TrimSpace(value))
	switch normalised {
	case "granted", "allow", "allowed", "yes", "true":
		return ProbeResult{Status: StatusGranted, Message: name + " permission pre-authorised via env override"}
	case "denied", "no", "false", "blocked":
		return ProbeResult{Status: StatusDenied, Message: name + " permission denied via env override"}
	case "prompt", "ask":
		return ProbeResult{Status: StatusPromptRequired, Message: name + " permission will prompt at runtime"}
	case "not_required", "unsupported", "unavailable":
		return ProbeResult{Status: StatusNotRequired, Message: name + " permission not required"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: name + " permission state unknown"}
	}
}

// StatusString returns the string representation for manifest integration.
func (p ProbeResult) StatusString() string {
	if p.Status == "" {
		return string(StatusUnknown)
	}
	return string(p.Status)
}
