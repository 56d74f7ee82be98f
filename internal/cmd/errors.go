package cmd

import (
	"fmt"

	"github.com/offlinefirst/desktop-recorder/pkg/config"
)

// UsageError marks failures caused by bad invocation rather than by the
// recorder itself. The binary exits with status 2 for these.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func applyLoggingOverrides(cfg *config.Config, opts globalOptions) error {
	if opts.logLevel != "" {
		lvl, err := config.NormalizeLogLevel(opts.logLevel)
		if err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		cfg.Logging.Level = lvl
	}
	if opts.logFormat != "" {
		format, err := config.NormalizeFormat(opts.logFormat)
		if err != nil {
			return fmt.Errorf("--log-format: %w", err)
		}
		cfg.Logging.Format = format
	}
	return nil
}
