package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/config"
	"github.com/offlinefirst/desktop-recorder/pkg/merge"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
	"github.com/offlinefirst/desktop-recorder/pkg/storage/sqlite"
)

// loadSession opens the configured database read side and loads the
// requested recording, or the most recent one when id is empty.
func loadSession(ctx context.Context, cfg config.Config, id string) (storage.Session, error) {
	dbPath := cfg.DatabasePath()
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.Session{}, fmt.Errorf("no recordings yet: database %q does not exist", dbPath)
		}
		return storage.Session{}, fmt.Errorf("inspect database: %w", err)
	}

	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return storage.Session{}, fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if id == "" {
		if id, err = store.LatestRecordingID(ctx); err != nil {
			return storage.Session{}, fmt.Errorf("find latest recording: %w", err)
		}
	}
	session, err := store.LoadSession(ctx, id)
	if err != nil {
		return storage.Session{}, fmt.Errorf("load recording %s: %w", id, err)
	}
	return session, nil
}

// mergeSession runs the merge pipeline with the recording's double-click
// thresholds and the configured pass options.
func mergeSession(cfg config.Config, session storage.Session, logger *zap.Logger) (merge.Result, error) {
	opts := merge.OptionsFor(session.Recording)
	opts.MaxIterations = cfg.Merge.MaxIterations
	opts.GroupNamedKeys = cfg.Merge.GroupNamedKeys
	opts.Logger = logger
	if cfg.Merge.DiffAware {
		opts.DiffAware = &merge.DiffOptions{
			Threshold:   cfg.Merge.DiffThreshold,
			Consecutive: cfg.Merge.DiffConsecutive,
		}
	}
	res, err := merge.New(opts).Merge(merge.InputFrom(session))
	if err != nil {
		return merge.Result{}, fmt.Errorf("merge recording %s: %w", session.Recording.ID, err)
	}
	return res, nil
}
