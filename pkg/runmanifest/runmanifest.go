package runmanifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/offlinefirst/desktop-recorder/pkg/config"
	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// SchemaVersion captures the manifest version for compatibility checks.
const SchemaVersion = 1

// ErrNotFound is returned when no run directory holds the requested recording.
var ErrNotFound = errors.New("run not found")

// Layout represents the absolute filesystem locations for a run.
type Layout struct {
	Root           string
	ManifestPath   string
	CaptureLogPath string
	MergedPath     string
}

// Paths holds the relative locations stored in the manifest for portability.
type Paths struct {
	Root       string `json:"root"`
	Manifest   string `json:"manifest"`
	CaptureLog string `json:"capture_log"`
	Merged     string `json:"merged"`
	Database   string `json:"database"`
}

// CaptureSettings records the host facts and capture knobs in effect.
type CaptureSettings struct {
	Platform              string            `json:"platform"`
	Provider              string            `json:"provider,omitempty"`
	MonitorWidth          int               `json:"monitor_width"`
	MonitorHeight         int               `json:"monitor_height"`
	DoubleClickIntervalMS int64             `json:"double_click_interval_ms"`
	DoubleClickDistance   float64           `json:"double_click_distance"`
	StopSequences         [][]string        `json:"stop_sequences"`
	StopChord             []string          `json:"stop_chord,omitempty"`
	ScreenIntervalMS      int               `json:"screen_interval_ms"`
	Permissions           map[string]string `json:"permissions,omitempty"`
}

// Status summarises the lifecycle of a recording run.
type Status struct {
	State       string                    `json:"state"`
	Summary     string                    `json:"summary,omitempty"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	EndedAt     *time.Time                `json:"ended_at,omitempty"`
	DurationMS  int64                     `json:"duration_ms,omitempty"`
	Termination string                    `json:"termination,omitempty"`
	Controller  []ControllerTimelineEntry `json:"controller_timeline,omitempty"`
	Writers     []WriterStatus            `json:"writers,omitempty"`
}

// ControllerTimelineEntry records controller state transitions for diagnostics.
type ControllerTimelineEntry struct {
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WriterStatus captures the outcome of one storage writer.
type WriterStatus struct {
	Kind          string  `json:"kind"`
	State         string  `json:"state"`
	Persisted     int     `json:"persisted"`
	MeanLatencyMS float64 `json:"mean_latency_ms,omitempty"`
	MaxLatencyMS  float64 `json:"max_latency_ms,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// Run and writer states used in manifests for downstream tooling.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"

	WriterStateCompleted = "completed"
	WriterStateErrored   = "error"
)

// Manifest is the durable metadata describing a recording run.
type Manifest struct {
	SchemaVersion   int             `json:"schema_version"`
	RunID           string          `json:"run_id"`
	RecordingID     string          `json:"recording_id"`
	TaskDescription string          `json:"task_description"`
	CreatedAt       time.Time       `json:"created_at"`
	Hostname        string          `json:"hostname"`
	AppVersion      string          `json:"app_version"`
	ConfigSource    string          `json:"config_source"`
	Capture         CaptureSettings `json:"capture"`
	Paths           Paths           `json:"paths"`
	Status          Status          `json:"status"`
}

// Options captures the knobs for creating a new manifest.
type Options struct {
	RunID      string
	CreatedAt  time.Time
	Hostname   string
	AppVersion string
	Provider   string
	// Permissions maps probed surfaces to their status strings.
	Permissions map[string]string
	Config      config.Config
	Recording   events.Recording
	Layout      Layout
}

// New constructs a manifest using the supplied options.
func New(opts Options) Manifest {
	rec := opts.Recording
	paths := opts.Layout.RelativePaths()
	paths.Database = opts.Config.DatabasePath()
	return Manifest{
		SchemaVersion:   SchemaVersion,
		RunID:           opts.RunID,
		RecordingID:     rec.ID,
		TaskDescription: rec.TaskDescription,
		CreatedAt:       opts.CreatedAt.UTC(),
		Hostname:        opts.Hostname,
		AppVersion:      opts.AppVersion,
		ConfigSource:    opts.Config.Source,
		Capture: CaptureSettings{
			Platform:              rec.Platform,
			Provider:              opts.Provider,
			MonitorWidth:          rec.Monitor.Width,
			MonitorHeight:         rec.Monitor.Height,
			DoubleClickIntervalMS: rec.DoubleClickInterval.Milliseconds(),
			DoubleClickDistance:   rec.DoubleClickDistance,
			StopSequences:         opts.Config.Capture.StopSequences,
			StopChord:             opts.Config.Capture.StopChord,
			ScreenIntervalMS:      opts.Config.Capture.ScreenIntervalMS,
			Permissions:           opts.Permissions,
		},
		Paths:  paths,
		Status: Status{State: StatePending},
	}
}

// BuildLayout creates an absolute filesystem layout for a run.
func BuildLayout(runsDir, runID string) Layout {
	root := filepath.Join(runsDir, runID)
	return Layout{
		Root:           root,
		ManifestPath:   filepath.Join(root, "manifest.json"),
		CaptureLogPath: filepath.Join(root, "capture.log"),
		MergedPath:     filepath.Join(root, "merged.json"),
	}
}

// RelativePaths exposes the manifest-friendly relative paths for the layout.
func (l Layout) RelativePaths() Paths {
	return Paths{
		Root:       ".",
		Manifest:   filepath.Base(l.ManifestPath),
		CaptureLog: filepath.Base(l.CaptureLogPath),
		Merged:     filepath.Base(l.MergedPath),
	}
}

// EnsureFilesystem prepares the directory tree for a run layout.
func EnsureFilesystem(layout Layout) error {
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return fmt.Errorf("create run root: %w", err)
	}

	file, err := os.OpenFile(layout.CaptureLogPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("initialise capture log: %w", err)
	}
	defer file.Close()

	return nil
}

// Save writes the manifest JSON to disk with indentation for readability.
func Save(man Manifest, path string) error {
	return writeJSON(man, path, "manifest")
}

// SaveMerged writes an exported merged action tree next to the manifest.
func SaveMerged(tree any, path string) error {
	return writeJSON(tree, path, "merged tree")
}

func writeJSON(v any, path, what string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

// Load reads a manifest JSON file from disk.
func Load(path string) (Manifest, error) {
	var man Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return man, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return man, fmt.Errorf("decode manifest: %w", err)
	}
	return man, nil
}

// FindByRecording scans runsDir for the run that captured recordingID.
// Unreadable manifests are skipped.
func FindByRecording(runsDir, recordingID string) (Layout, Manifest, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Layout{}, Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, recordingID)
		}
		return Layout{}, Manifest{}, fmt.Errorf("list runs directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		layout := BuildLayout(runsDir, entry.Name())
		man, err := Load(layout.ManifestPath)
		if err != nil {
			continue
		}
		if man.RecordingID == recordingID {
			return layout, man, nil
		}
	}
	return Layout{}, Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, recordingID)
}

// ResolveRunID chooses a run identifier derived from the timestamp and avoids collisions.
func ResolveRunID(runsDir string, now time.Time) (string, error) {
	if strings.TrimSpace(runsDir) == "" {
		return "", errors.New("runs directory must not be empty")
	}

	base := now.UTC().Format("20060102_150405")
	candidate := base
	suffix := 1
	for {
		_, err := os.Stat(filepath.Join(runsDir, candidate))
		if err == nil {
			candidate = fmt.Sprintf("%s_%02d", base, suffix)
			suffix++
			continue
		}
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		return "", fmt.Errorf("inspect runs directory: %w", err)
	}
}
