package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
)

const (
	DefaultFileName = "config.yaml"
	// EnvPrefix namespaces environment overrides, e.g. RECORDER_CAPTURE_WRITE_RETRIES.
	EnvPrefix = "RECORDER_"
)

// Config captures the user-adjustable knobs for recording, merging and replay.
type Config struct {
	Paths   PathsConfig   `yaml:"paths" envPrefix:"PATHS_"`
	Capture CaptureConfig `yaml:"capture" envPrefix:"CAPTURE_"`
	Merge   MergeConfig   `yaml:"merge" envPrefix:"MERGE_"`
	Replay  ReplayConfig  `yaml:"replay" envPrefix:"REPLAY_"`
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOGGING_"`

	// Source indicates where the configuration originated (defaults or a file path).
	Source string `yaml:"-"`
}

// PathsConfig controls filesystem locations used by the CLI.
type PathsConfig struct {
	RunsDir string `yaml:"runs_dir" env:"RUNS_DIR"`
	// Database is the SQLite file shared by every recording.
	Database string `yaml:"database" env:"DATABASE"`
}

// CaptureConfig controls the capture pipeline.
type CaptureConfig struct {
	StopSequences [][]string `yaml:"stop_sequences"`
	StopChord     []string   `yaml:"stop_chord" env:"STOP_CHORD"`

	ScreenIntervalMS   int `yaml:"screen_interval_ms" env:"SCREEN_INTERVAL_MS"`
	ScreenMaxPerMinute int `yaml:"screen_max_per_minute" env:"SCREEN_MAX_PER_MINUTE"`
	ScreenWidth        int `yaml:"screen_width" env:"SCREEN_WIDTH"`
	ScreenHeight       int `yaml:"screen_height" env:"SCREEN_HEIGHT"`

	// Fallbacks used when the host cannot report its double-click settings.
	DoubleClickIntervalMS int     `yaml:"double_click_interval_ms" env:"DOUBLE_CLICK_INTERVAL_MS"`
	DoubleClickDistance   float64 `yaml:"double_click_distance" env:"DOUBLE_CLICK_DISTANCE"`

	WriteRetries    int `yaml:"write_retries" env:"WRITE_RETRIES"`
	RetryIntervalMS int `yaml:"retry_interval_ms" env:"RETRY_INTERVAL_MS"`

	// SyntheticStepMS paces the synthetic session used without a native event tap.
	SyntheticStepMS int `yaml:"synthetic_step_ms" env:"SYNTHETIC_STEP_MS"`

	RedactEmails   bool     `yaml:"redact_emails" env:"REDACT_EMAILS"`
	RedactPatterns []string `yaml:"redact_patterns" env:"REDACT_PATTERNS"`
}

// MergeConfig tunes the merging engine.
type MergeConfig struct {
	MaxIterations   int     `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	GroupNamedKeys  bool    `yaml:"group_named_keys" env:"GROUP_NAMED_KEYS"`
	DiffAware       bool    `yaml:"diff_aware" env:"DIFF_AWARE"`
	DiffThreshold   float64 `yaml:"diff_threshold" env:"DIFF_THRESHOLD"`
	DiffConsecutive int     `yaml:"diff_consecutive" env:"DIFF_CONSECUTIVE"`
}

// ReplayConfig selects the default replay behaviour.
type ReplayConfig struct {
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	Realtime bool   `yaml:"realtime" env:"REALTIME"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			RunsDir:  "runs",
			Database: "recordings.db",
		},
		Capture: CaptureConfig{
			StopSequences: [][]string{
				{"o", "a", ".", "s", "t", "o", "p"},
				{"ctrl", "ctrl", "ctrl"},
			},
			ScreenIntervalMS:      1000,
			ScreenMaxPerMinute:    120,
			ScreenWidth:           320,
			ScreenHeight:          200,
			DoubleClickIntervalMS: 500,
			DoubleClickDistance:   4,
			WriteRetries:          5,
			RetryIntervalMS:       50,
			SyntheticStepMS:       50,
			RedactEmails:          true,
		},
		Merge: MergeConfig{
			MaxIterations:   10,
			DiffThreshold:   32,
			DiffConsecutive: 3,
		},
		Replay: ReplayConfig{
			Strategy: "naive",
			Realtime: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, applies RECORDER_*
// environment overrides, and validates the result. When path is empty the
// loader attempts ./config.yaml but tolerates a missing file.
func Load(path string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	data, err := os.ReadFile(candidate)
	switch {
	case err == nil:
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %q: %w", candidate, err)
		}
		cfg.Source = candidate
	case errors.Is(err, os.ErrNotExist):
		if explicit {
			return cfg, fmt.Errorf("config file %q not found", candidate)
		}
	default:
		return cfg, fmt.Errorf("read config file %q: %w", candidate, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("apply environment overrides: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField())
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.RunsDir) == "" {
		return errors.New("paths.runs_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.Database) == "" {
		return errors.New("paths.database must not be empty")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}

	if len(c.Capture.StopSequences) == 0 {
		return errors.New("capture.stop_sequences must contain at least one sequence")
	}
	for i, seq := range c.Capture.StopSequences {
		if len(seq) == 0 {
			return fmt.Errorf("capture.stop_sequences[%d] must not be empty", i)
		}
	}
	if n := len(c.Capture.StopChord); n != 0 && n != 2 {
		return fmt.Errorf("capture.stop_chord must name a modifier and a key, got %d entries", n)
	}
	if c.Capture.ScreenIntervalMS <= 0 {
		return errors.New("capture.screen_interval_ms must be positive")
	}
	if c.Capture.ScreenMaxPerMinute <= 0 {
		return errors.New("capture.screen_max_per_minute must be positive")
	}
	if c.Capture.DoubleClickIntervalMS <= 0 {
		return errors.New("capture.double_click_interval_ms must be positive")
	}
	if c.Capture.DoubleClickDistance < 0 {
		return errors.New("capture.double_click_distance must not be negative")
	}
	if c.Capture.WriteRetries <= 0 {
		return errors.New("capture.write_retries must be positive")
	}

	if c.Merge.MaxIterations <= 0 {
		return errors.New("merge.max_iterations must be positive")
	}
	if c.Merge.DiffAware && c.Merge.DiffThreshold <= 0 {
		return errors.New("merge.diff_threshold must be positive when diff_aware is set")
	}
	if strings.TrimSpace(c.Replay.Strategy) == "" {
		return errors.New("replay.strategy must not be empty")
	}

	return nil
}

// Chord returns the configured modifier and key, if any.
func (c CaptureConfig) Chord() ([2]string, bool) {
	if len(c.StopChord) != 2 {
		return [2]string{}, false
	}
	return [2]string{c.StopChord[0], c.StopChord[1]}, true
}

// ScreenInterval is ScreenIntervalMS as a duration.
func (c CaptureConfig) ScreenInterval() time.Duration {
	return time.Duration(c.ScreenIntervalMS) * time.Millisecond
}

// DoubleClickInterval is the fallback interval as a duration.
func (c CaptureConfig) DoubleClickInterval() time.Duration {
	return time.Duration(c.DoubleClickIntervalMS) * time.Millisecond
}

// RetryInterval is RetryIntervalMS as a duration.
func (c CaptureConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMS) * time.Millisecond
}

// SyntheticStep is SyntheticStepMS as a duration.
func (c CaptureConfig) SyntheticStep() time.Duration {
	return time.Duration(c.SyntheticStepMS) * time.Millisecond
}

// DatabasePath resolves the database file against the runs directory when
// it is relative.
func (c Config) DatabasePath() string {
	if filepath.IsAbs(c.Paths.Database) {
		return c.Paths.Database
	}
	return filepath.Join(c.Paths.RunsDir, c.Paths.Database)
}

func (c *Config) normalize() {
	c.Paths.RunsDir = filepath.Clean(strings.TrimSpace(c.Paths.RunsDir))
	c.Paths.Database = strings.TrimSpace(c.Paths.Database)

	defaults := Default()

	if c.Paths.RunsDir == "." || c.Paths.RunsDir == "" {
		c.Paths.RunsDir = defaults.Paths.RunsDir
	}
	if c.Paths.Database == "" {
		c.Paths.Database = defaults.Paths.Database
	}
	if level, err := NormalizeLogLevel(c.Logging.Level); err == nil {
		c.Logging.Level = level
	}
	if format, err := NormalizeFormat(c.Logging.Format); err == nil {
		c.Logging.Format = format
	}

	if c.Capture.ScreenIntervalMS <= 0 {
		c.Capture.ScreenIntervalMS = defaults.Capture.ScreenIntervalMS
	}
	if c.Capture.ScreenMaxPerMinute <= 0 {
		c.Capture.ScreenMaxPerMinute = defaults.Capture.ScreenMaxPerMinute
	}
	if c.Capture.ScreenWidth <= 0 {
		c.Capture.ScreenWidth = defaults.Capture.ScreenWidth
	}
	if c.Capture.ScreenHeight <= 0 {
		c.Capture.ScreenHeight = defaults.Capture.ScreenHeight
	}
	if c.Capture.RetryIntervalMS <= 0 {
		c.Capture.RetryIntervalMS = defaults.Capture.RetryIntervalMS
	}
	if c.Capture.SyntheticStepMS <= 0 {
		c.Capture.SyntheticStepMS = defaults.Capture.SyntheticStepMS
	}
	if c.Merge.DiffConsecutive <= 0 {
		c.Merge.DiffConsecutive = defaults.Merge.DiffConsecutive
	}
	c.Replay.Strategy = strings.ToLower(strings.TrimSpace(c.Replay.Strategy))

	patterns := c.Capture.RedactPatterns[:0]
	for _, p := range c.Capture.RedactPatterns {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	c.Capture.RedactPatterns = patterns
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
// "auto" selects console output on a terminal and JSON otherwise.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto":
		return "auto", nil
	case "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
