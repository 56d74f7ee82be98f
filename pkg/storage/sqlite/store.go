// Package sqlite implements the Storage Sink on a CGO-free SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

// Store persists recordings and their event streams. Each Store holds a
// single connection so a writer's sink is never shared.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ storage.Sink       = (*Store)(nil)
	_ storage.Recordings = (*Store)(nil)
)

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	// WAL + busy timeout lets one connection per writer append concurrently.
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := createTables(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Opener returns a storage.Opener that opens a new Store at path per call.
func Opener(path string) storage.Opener {
	return func(ctx context.Context) (storage.Sink, error) {
		store, err := Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS recordings(
	  id                       TEXT    PRIMARY KEY,
	  started_at               INTEGER NOT NULL,
	  monitor_width            INTEGER NOT NULL,
	  monitor_height           INTEGER NOT NULL,
	  platform                 TEXT    NOT NULL,
	  task_description         TEXT    NOT NULL,
	  double_click_interval_ns INTEGER NOT NULL,
	  double_click_distance    REAL    NOT NULL,
	  duration_ns              INTEGER
	);
	CREATE TABLE IF NOT EXISTS action_events(
	  id           INTEGER PRIMARY KEY,
	  recording_id TEXT    NOT NULL,
	  timestamp_ns INTEGER NOT NULL,
	  kind         TEXT    NOT NULL,
	  x            REAL    NOT NULL DEFAULT 0,
	  y            REAL    NOT NULL DEFAULT 0,
	  dx           REAL    NOT NULL DEFAULT 0,
	  dy           REAL    NOT NULL DEFAULT 0,
	  button       TEXT    NOT NULL DEFAULT '',
	  pressed      INTEGER NOT NULL DEFAULT 0,
	  key_json     TEXT,
	  window_ts_ns INTEGER NOT NULL,
	  screen_ts_ns INTEGER NOT NULL,
	  UNIQUE(recording_id, timestamp_ns, kind)
	);
	CREATE TABLE IF NOT EXISTS window_events(
	  recording_id TEXT    NOT NULL,
	  timestamp_ns INTEGER NOT NULL,
	  title        TEXT    NOT NULL,
	  left_px      INTEGER NOT NULL,
	  top_px       INTEGER NOT NULL,
	  width_px     INTEGER NOT NULL,
	  height_px    INTEGER NOT NULL,
	  state_json   TEXT    NOT NULL CHECK (json_valid(state_json)),
	  PRIMARY KEY(recording_id, timestamp_ns)
	);
	CREATE TABLE IF NOT EXISTS screen_frames(
	  recording_id TEXT    NOT NULL,
	  timestamp_ns INTEGER NOT NULL,
	  width_px     INTEGER NOT NULL,
	  height_px    INTEGER NOT NULL,
	  png          BLOB    NOT NULL,
	  PRIMARY KEY(recording_id, timestamp_ns)
	);
	CREATE TABLE IF NOT EXISTS performance_stats(
	  recording_id TEXT    NOT NULL,
	  event_kind   TEXT    NOT NULL,
	  start_ns     INTEGER NOT NULL,
	  end_ns       INTEGER NOT NULL,
	  PRIMARY KEY(recording_id, event_kind, start_ns, end_ns)
	);
	CREATE INDEX IF NOT EXISTS idx_action_events_recording ON action_events(recording_id, timestamp_ns);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append persists one record. Appends are idempotent per key so a retried
// write never duplicates a row.
func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if rec.RecordingID == "" {
		return fmt.Errorf("recording id is required")
	}
	switch fields := rec.Fields.(type) {
	case events.ActionEvent:
		return s.appendAction(ctx, rec.RecordingID, fields)
	case events.WindowEvent:
		return s.appendWindow(ctx, rec.RecordingID, fields)
	case events.ScreenFrame:
		return s.appendFrame(ctx, rec.RecordingID, fields)
	case storage.PerfStat:
		return s.appendPerf(ctx, rec.RecordingID, fields)
	default:
		return fmt.Errorf("unsupported record fields %T for kind %s", rec.Fields, rec.Kind)
	}
}

func (s *Store) appendAction(ctx context.Context, recordingID string, ev events.ActionEvent) error {
	var keyJSON sql.NullString
	if ev.Key != nil {
		data, err := json.Marshal(ev.Key)
		if err != nil {
			return fmt.Errorf("marshal key: %w", err)
		}
		keyJSON = sql.NullString{String: string(data), Valid: true}
	}
	// The correlator stamps actions strictly increasing per recording, so a
	// conflict on (recording_id, timestamp_ns, kind) is only ever a writer
	// retry of a row already stored.
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO action_events(
	recording_id, timestamp_ns, kind, x, y, dx, dy, button, pressed, key_json, window_ts_ns, screen_ts_ns
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordingID, int64(ev.Timestamp), string(ev.Kind), ev.X, ev.Y, ev.DX, ev.DY, ev.Button, ev.Pressed,
		keyJSON, int64(ev.WindowTimestamp), int64(ev.ScreenTimestamp),
	)
	if err != nil {
		return fmt.Errorf("insert action event: %w", err)
	}
	return nil
}

func (s *Store) appendWindow(ctx context.Context, recordingID string, ev events.WindowEvent) error {
	state := ev.State
	if state == nil {
		state = map[string]string{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal window state: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO window_events(
	recording_id, timestamp_ns, title, left_px, top_px, width_px, height_px, state_json
) VALUES (?, ?, ?, ?, ?, ?, ?, json(?))`,
		recordingID, int64(ev.At), ev.Title, ev.Left, ev.Top, ev.Width, ev.Height, string(data),
	)
	if err != nil {
		return fmt.Errorf("insert window event: %w", err)
	}
	return nil
}

func (s *Store) appendFrame(ctx context.Context, recordingID string, frame events.ScreenFrame) error {
	if len(frame.PNG) == 0 {
		return fmt.Errorf("screen frame at %s has no image data", frame.At)
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO screen_frames(recording_id, timestamp_ns, width_px, height_px, png)
VALUES (?, ?, ?, ?, ?)`,
		recordingID, int64(frame.At), frame.Width, frame.Height, frame.PNG,
	)
	if err != nil {
		return fmt.Errorf("insert screen frame: %w", err)
	}
	return nil
}

func (s *Store) appendPerf(ctx context.Context, recordingID string, stat storage.PerfStat) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO performance_stats(recording_id, event_kind, start_ns, end_ns)
VALUES (?, ?, ?, ?)`,
		recordingID, string(stat.EventKind), int64(stat.Start), int64(stat.End),
	)
	if err != nil {
		return fmt.Errorf("insert performance stat: %w", err)
	}
	return nil
}

// CreateRecording inserts the recording row.
func (s *Store) CreateRecording(ctx context.Context, rec events.Recording) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("recording id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO recordings(
	id, started_at, monitor_width, monitor_height, platform, task_description,
	double_click_interval_ns, double_click_distance, duration_ns
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		rec.ID, rec.StartedAt.UTC().UnixMilli(), rec.Monitor.Width, rec.Monitor.Height, rec.Platform,
		rec.TaskDescription, int64(rec.DoubleClickInterval), rec.DoubleClickDistance,
	)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

// FinalizeRecording stores the derived duration. It only updates a
// recording that has not been finalized yet.
func (s *Store) FinalizeRecording(ctx context.Context, rec events.Recording) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if !rec.Finalized {
		return fmt.Errorf("recording %s has no derived duration", rec.ID)
	}
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE recordings SET duration_ns = ? WHERE id = ? AND duration_ns IS NULL`, int64(rec.Duration), rec.ID)
	if err != nil {
		return fmt.Errorf("finalize recording: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize recording: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finalize recording %s: %w", rec.ID, events.ErrAlreadyFinalized)
	}
	return nil
}

// LatestRecordingID returns the most recently started recording.
func (s *Store) LatestRecordingID(ctx context.Context) (string, error) {
	var id string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM recordings ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest recording: %w", err)
	}
	return id, nil
}

// LoadSession reads a recording and all of its streams in timestamp order.
func (s *Store) LoadSession(ctx context.Context, recordingID string) (storage.Session, error) {
	var session storage.Session
	rec, err := s.loadRecording(ctx, recordingID)
	if err != nil {
		return session, err
	}
	session.Recording = rec
	if session.Actions, err = s.loadActions(ctx, recordingID); err != nil {
		return session, err
	}
	if session.Windows, err = s.loadWindows(ctx, recordingID); err != nil {
		return session, err
	}
	if session.Frames, err = s.loadFrames(ctx, recordingID); err != nil {
		return session, err
	}
	if session.Stats, err = s.loadStats(ctx, recordingID); err != nil {
		return session, err
	}
	return session, nil
}

func (s *Store) loadRecording(ctx context.Context, id string) (events.Recording, error) {
	var (
		rec       events.Recording
		startedAt int64
		interval  int64
		duration  sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, started_at, monitor_width, monitor_height, platform, task_description,
       double_click_interval_ns, double_click_distance, duration_ns
FROM recordings WHERE id = ?`, id).Scan(
		&rec.ID, &startedAt, &rec.Monitor.Width, &rec.Monitor.Height, &rec.Platform, &rec.TaskDescription,
		&interval, &rec.DoubleClickDistance, &duration,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("load recording: %w", err)
	}
	rec.StartedAt = time.UnixMilli(startedAt).UTC()
	rec.DoubleClickInterval = time.Duration(interval)
	if duration.Valid {
		rec.Duration = time.Duration(duration.Int64)
		rec.Finalized = true
	}
	return rec, nil
}

func (s *Store) loadActions(ctx context.Context, id string) ([]events.ActionEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT timestamp_ns, kind, x, y, dx, dy, button, pressed, key_json, window_ts_ns, screen_ts_ns
FROM action_events WHERE recording_id = ? ORDER BY timestamp_ns, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list action events: %w", err)
	}
	defer rows.Close()

	var out []events.ActionEvent
	for rows.Next() {
		var (
			ev                   events.ActionEvent
			ts, windowTS, screen int64
			kind                 string
			keyJSON              sql.NullString
		)
		if err := rows.Scan(&ts, &kind, &ev.X, &ev.Y, &ev.DX, &ev.DY, &ev.Button, &ev.Pressed, &keyJSON, &windowTS, &screen); err != nil {
			return nil, fmt.Errorf("scan action event: %w", err)
		}
		ev.Timestamp = time.Duration(ts)
		ev.Kind = events.Kind(kind)
		ev.WindowTimestamp = time.Duration(windowTS)
		ev.ScreenTimestamp = time.Duration(screen)
		if keyJSON.Valid {
			var key events.Key
			if err := json.Unmarshal([]byte(keyJSON.String), &key); err != nil {
				return nil, fmt.Errorf("decode key for event at %s: %w", ev.Timestamp, err)
			}
			ev.Key = &key
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action events: %w", err)
	}
	return out, nil
}

func (s *Store) loadWindows(ctx context.Context, id string) ([]events.WindowEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT timestamp_ns, title, left_px, top_px, width_px, height_px, state_json
FROM window_events WHERE recording_id = ? ORDER BY timestamp_ns`, id)
	if err != nil {
		return nil, fmt.Errorf("list window events: %w", err)
	}
	defer rows.Close()

	var out []events.WindowEvent
	for rows.Next() {
		var (
			ev        events.WindowEvent
			ts        int64
			stateJSON string
		)
		if err := rows.Scan(&ts, &ev.Title, &ev.Left, &ev.Top, &ev.Width, &ev.Height, &stateJSON); err != nil {
			return nil, fmt.Errorf("scan window event: %w", err)
		}
		ev.At = time.Duration(ts)
		if err := json.Unmarshal([]byte(stateJSON), &ev.State); err != nil {
			return nil, fmt.Errorf("decode window state at %s: %w", ev.At, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate window events: %w", err)
	}
	return out, nil
}

func (s *Store) loadFrames(ctx context.Context, id string) ([]events.ScreenFrame, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT timestamp_ns, width_px, height_px, png
FROM screen_frames WHERE recording_id = ? ORDER BY timestamp_ns`, id)
	if err != nil {
		return nil, fmt.Errorf("list screen frames: %w", err)
	}
	defer rows.Close()

	var out []events.ScreenFrame
	for rows.Next() {
		var (
			frame events.ScreenFrame
			ts    int64
		)
		if err := rows.Scan(&ts, &frame.Width, &frame.Height, &frame.PNG); err != nil {
			return nil, fmt.Errorf("scan screen frame: %w", err)
		}
		frame.At = time.Duration(ts)
		out = append(out, frame)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate screen frames: %w", err)
	}
	return out, nil
}

func (s *Store) loadStats(ctx context.Context, id string) ([]storage.PerfStat, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT event_kind, start_ns, end_ns
FROM performance_stats WHERE recording_id = ? ORDER BY start_ns, event_kind`, id)
	if err != nil {
		return nil, fmt.Errorf("list performance stats: %w", err)
	}
	defer rows.Close()

	var out []storage.PerfStat
	for rows.Next() {
		var (
			stat       storage.PerfStat
			kind       string
			start, end int64
		)
		if err := rows.Scan(&kind, &start, &end); err != nil {
			return nil, fmt.Errorf("scan performance stat: %w", err)
		}
		stat.EventKind = storage.Kind(kind)
		stat.Start = time.Duration(start)
		stat.End = time.Duration(end)
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate performance stats: %w", err)
	}
	return out, nil
}
