package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/offlinefirst/desktop-recorder/internal/buildinfo"
	"github.com/offlinefirst/desktop-recorder/pkg/capture"
	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/permissions"
	"github.com/offlinefirst/desktop-recorder/pkg/runmanifest"
	"github.com/offlinefirst/desktop-recorder/pkg/screenshots"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
	"github.com/offlinefirst/desktop-recorder/pkg/storage/sqlite"
)

func newRecordCommand() command {
	return command{
		name:        "record",
		usage:       "<task-description>",
		description: "Record an interaction session until a stop sequence, the stop chord, or an interrupt",
		configure: func(fs *flag.FlagSet) {
			fs.Duration("max-duration", 0, "Stop recording after this long (0 waits for a stop signal)")
		},
		run: runRecord,
	}
}

var (
	timeNow       = time.Now
	hostname      = os.Hostname
	manifestSave  = runmanifest.Save
	lookupEnv     = os.LookupEnv
	notifyContext = signal.NotifyContext
)

func runRecord(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" {
		return &UsageError{Msg: "record requires a task description"}
	}
	cfg := ctx.Config
	maxDuration := durationFlag(fs, "max-duration")

	dbPath := cfg.DatabasePath()
	for _, dir := range []string{cfg.Paths.RunsDir, filepath.Dir(dbPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %q: %w", dir, err)
		}
	}

	runID, err := runmanifest.ResolveRunID(cfg.Paths.RunsDir, timeNow())
	if err != nil {
		return fmt.Errorf("resolve run id: %w", err)
	}
	layout := runmanifest.BuildLayout(cfg.Paths.RunsDir, runID)
	if err := runmanifest.EnsureFilesystem(layout); err != nil {
		return fmt.Errorf("prepare run filesystem: %w", err)
	}

	logFile, err := os.OpenFile(layout.CaptureLogPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open capture log: %w", err)
	}
	defer logFile.Close()
	logger := teeLogger(ctx.Logger, logFile)
	defer func() { _ = logger.Sync() }()

	host, err := hostname()
	if err != nil {
		host = "unknown"
	}

	hostEnv := events.DetectEnvironment(events.HostDefaults{
		Monitor:             events.Monitor{Width: cfg.Capture.ScreenWidth, Height: cfg.Capture.ScreenHeight},
		DoubleClickInterval: cfg.Capture.DoubleClickInterval(),
		DoubleClickDistance: cfg.Capture.DoubleClickDistance,
	}, nil)
	screenEnv := screenshots.DetectEnvironment()
	logger.Info("host environment detected",
		zap.String("platform", hostEnv.Platform),
		zap.String("input_provider", hostEnv.Provider),
		zap.String("screen_provider", screenEnv.Provider),
		zap.Duration("double_click_interval", hostEnv.DoubleClickInterval),
		zap.Float64("double_click_distance", hostEnv.DoubleClickDistance),
		zap.String("message", hostEnv.Message),
	)

	probes := permissions.ProbeAll(lookupEnv, permissions.SurfaceInputMonitoring, permissions.SurfaceScreenRecording)
	logProbes(logger, probes)
	if err := permissions.Denied(probes); err != nil {
		return fmt.Errorf("record: %w", err)
	}

	rec, err := events.NewRecording(events.RecordingOptions{TaskDescription: task, Environment: hostEnv, Now: timeNow})
	if err != nil {
		return &UsageError{Msg: err.Error()}
	}

	manifest := runmanifest.New(runmanifest.Options{
		RunID:       runID,
		CreatedAt:   timeNow(),
		Hostname:    host,
		AppVersion:  buildinfo.Version(),
		Provider:    screenEnv.Provider,
		Permissions: permissions.StatusMap(probes),
		Config:      cfg,
		Recording:   rec,
		Layout:      layout,
	})
	if err := manifestSave(manifest, layout.ManifestPath); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	redactor, err := events.NewRedactor(cfg.Capture.RedactEmails, cfg.Capture.RedactPatterns)
	if err != nil {
		return fmt.Errorf("compile redaction patterns: %w", err)
	}

	store, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	clock := events.NewMonotonicClock(time.Now())
	session := events.NewSyntheticSession(events.SyntheticOptions{
		Step:         cfg.Capture.SyntheticStep(),
		Clock:        clock,
		StopSequence: cfg.Capture.StopSequences[0],
	})
	screens, err := screenshots.NewScheduler(screenshots.Options{
		Interval:     cfg.Capture.ScreenInterval(),
		MaxPerMinute: cfg.Capture.ScreenMaxPerMinute,
		Clock:        clock,
		Provider:     screenshots.DefaultProvider(cfg.Capture.ScreenWidth, cfg.Capture.ScreenHeight),
	})
	if err != nil {
		return fmt.Errorf("initialise screen source: %w", err)
	}

	runCtx, stop := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if maxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, maxDuration)
		defer cancel()
	}

	chord, _ := cfg.Capture.Chord()
	control := capture.NewController(timeNow)

	started := rec.StartedAt
	manifest.Status.State = runmanifest.StateRunning
	manifest.Status.Summary = "recording in progress"
	manifest.Status.StartedAt = &started
	if err := manifestSave(manifest, layout.ManifestPath); err != nil {
		return fmt.Errorf("update manifest status: %w", err)
	}

	fmt.Fprintf(stdout, "Recording %s (%s)\n", rec.ID, rec.TaskDescription)
	fmt.Fprintf(stdout, "Type %s to stop.\n", describeStops(cfg.Capture.StopSequences, chord))

	summary, runErr := capture.Run(runCtx, capture.Options{
		Recording:     rec,
		Recordings:    store,
		Open:          sqlite.Opener(dbPath),
		Sources:       []events.Source{session.Pointer, session.Keyboard, session.Window, screens},
		StopSequences: cfg.Capture.StopSequences,
		StopChord:     chord,
		Redactor:      &redactor,
		WriteRetries:  cfg.Capture.WriteRetries,
		RetryInterval: cfg.Capture.RetryInterval(),
		Clock:         clock,
		Control:       control,
		Logger:        logger,
	})

	fillStatus(&manifest, summary, control)
	if runErr != nil {
		manifest.Status.State = runmanifest.StateFailed
		manifest.Status.Summary = runErr.Error()
		if manifest.Status.Termination == "" {
			manifest.Status.Termination = capture.ReasonFailure
		}
		logger.Error("recording failed", zap.Error(runErr))
		if saveErr := manifestSave(manifest, layout.ManifestPath); saveErr != nil {
			return fmt.Errorf("record: %v (additionally failed to persist manifest: %w)", runErr, saveErr)
		}
		printRecordSummary(stdout, layout, dbPath, summary)
		return fmt.Errorf("record: %w", runErr)
	}

	manifest.Status.State = runmanifest.StateCompleted
	manifest.Status.Summary = fmt.Sprintf("recording finished (%s)", manifest.Status.Termination)
	if err := manifestSave(manifest, layout.ManifestPath); err != nil {
		return fmt.Errorf("finalise manifest: %w", err)
	}

	printRecordSummary(stdout, layout, dbPath, summary)
	return nil
}

func logProbes(logger *zap.Logger, probes []permissions.ProbeResult) {
	for _, p := range probes {
		fields := []zap.Field{
			zap.String("surface", string(p.Surface)),
			zap.String("status", p.StatusString()),
			zap.String("message", p.Message),
		}
		if p.Status == permissions.StatusDenied {
			logger.Error("permission denied", append(fields, zap.String("guidance", p.Guidance))...)
			continue
		}
		logger.Debug("permission probed", fields...)
	}
}

// teeLogger mirrors every entry into the run's capture log as JSON.
func teeLogger(base *zap.Logger, w io.Writer) *zap.Logger {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}

func fillStatus(manifest *runmanifest.Manifest, summary capture.Summary, control *capture.Controller) {
	for _, tr := range control.Timeline() {
		manifest.Status.Controller = append(manifest.Status.Controller, runmanifest.ControllerTimelineEntry{
			State:     tr.State,
			Reason:    tr.Reason,
			Timestamp: tr.At,
		})
	}
	manifest.Status.Termination = summary.Termination
	if !summary.Recording.Finalized {
		return
	}

	ended := summary.Recording.StartedAt.Add(summary.Recording.Duration).UTC()
	manifest.Status.EndedAt = &ended
	manifest.Status.DurationMS = summary.Recording.Duration.Milliseconds()

	failed := make(map[storage.Kind]string)
	for _, err := range summary.WriterErrors {
		var wf *capture.WriterFailedError
		if errors.As(err, &wf) {
			failed[wf.Kind] = wf.Error()
		}
	}
	for _, kind := range sortedKinds(summary.Persisted) {
		status := runmanifest.WriterStatus{
			Kind:      string(kind),
			State:     runmanifest.WriterStateCompleted,
			Persisted: summary.Persisted[kind],
		}
		if msg, ok := failed[kind]; ok {
			status.State = runmanifest.WriterStateErrored
			status.Message = msg
		}
		if lat, ok := summary.Latency[kind]; ok {
			status.MeanLatencyMS = float64(lat.Mean) / float64(time.Millisecond)
			status.MaxLatencyMS = float64(lat.Max) / float64(time.Millisecond)
		}
		manifest.Status.Writers = append(manifest.Status.Writers, status)
	}
}

func printRecordSummary(stdout io.Writer, layout runmanifest.Layout, dbPath string, summary capture.Summary) {
	fmt.Fprintf(stdout, "Run directory: %s\n", layout.Root)
	fmt.Fprintf(stdout, "Manifest: %s\n", layout.ManifestPath)
	fmt.Fprintf(stdout, "Capture log: %s\n", layout.CaptureLogPath)
	if info, err := os.Stat(dbPath); err == nil {
		fmt.Fprintf(stdout, "Database: %s (%s)\n", dbPath, humanize.Bytes(uint64(info.Size())))
	}
	if !summary.Recording.Finalized {
		return
	}

	fmt.Fprintf(stdout, "Termination: %s after %s\n", summary.Termination, summary.Recording.Duration.Round(time.Millisecond))
	fmt.Fprintf(stdout, "Persisted: %s actions, %s window snapshots, %s screen frames\n",
		humanize.Comma(int64(summary.Persisted[storage.KindAction])),
		humanize.Comma(int64(summary.Persisted[storage.KindWindow])),
		humanize.Comma(int64(summary.Persisted[storage.KindScreen])),
	)
	stats := summary.Correlator
	fmt.Fprintf(stdout, "Correlator: %s inputs, %d correlation gaps, %d chord events stripped, %d restamped\n",
		humanize.Comma(int64(stats.Inputs)), stats.Gaps, stats.Stripped, stats.Restamped)

	if len(summary.Latency) > 0 {
		fmt.Fprintln(stdout, "Write latency:")
		for _, kind := range sortedKinds(summary.Latency) {
			lat := summary.Latency[kind]
			fmt.Fprintf(stdout, "  - %s: %s writes, mean %s, max %s\n",
				kind, humanize.Comma(int64(lat.Count)), lat.Mean.Round(time.Microsecond), lat.Max.Round(time.Microsecond))
		}
	}
	for _, err := range summary.WriterErrors {
		fmt.Fprintf(stdout, "Writer error: %v\n", err)
	}
}

func describeStops(sequences [][]string, chord [2]string) string {
	parts := make([]string, 0, len(sequences)+1)
	for _, seq := range sequences {
		parts = append(parts, strings.Join(seq, " "))
	}
	if chord[0] != "" && chord[1] != "" {
		parts = append(parts, chord[0]+"+"+chord[1])
	}
	return strings.Join(parts, " or ")
}

func sortedKinds[V any](m map[storage.Kind]V) []storage.Kind {
	kinds := make([]storage.Kind, 0, len(m))
	for kind := range m {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func durationFlag(fs *flag.FlagSet, name string) time.Duration {
	f := fs.Lookup(name)
	if f == nil {
		return 0
	}
	getter, ok := f.Value.(flag.Getter)
	if !ok {
		return 0
	}
	d, _ := getter.Get().(time.Duration)
	return d
}
