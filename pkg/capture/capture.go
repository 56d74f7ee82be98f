package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/queue"
	"github.com/offlinefirst/desktop-recorder/pkg/stopseq"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

// Options controls capture orchestration.
type Options struct {
	Recording  events.Recording
	Recordings storage.Recordings
	Open       storage.Opener
	Sources    []events.Source

	StopSequences [][]string
	StopChord     [2]string // modifier, character
	Redactor      *events.Redactor

	WriteRetries  int
	RetryInterval time.Duration

	Clock   events.Clock
	Control *Controller
	Logger  *zap.Logger
}

// Summary reports the outcome of one capture run.
type Summary struct {
	Recording    events.Recording
	Termination  string
	Persisted    map[storage.Kind]int
	Correlator   CorrelatorStats
	WriterErrors []error
	Latency      map[storage.Kind]LatencySummary
}

// Run records until the terminate signal is raised, then shuts down in
// order: readers join, the correlator drains the bus, writers are told
// their backlog and drain to empty, the performance recorder drains, and
// the recording is finalized. Writer failures are returned joined with the
// summary; they never abort the other writers.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.Logger == nil {
		return Summary{}, errors.New("logger must be provided")
	}
	if opts.Recordings == nil || opts.Open == nil {
		return Summary{}, errors.New("storage must be provided")
	}
	if len(opts.Sources) == 0 {
		return Summary{}, errors.New("at least one event source must be provided")
	}
	clock := opts.Clock
	if clock == nil {
		clock = events.NewMonotonicClock(time.Now())
	}
	control := opts.Control
	if control == nil {
		control = NewController(nil)
	}
	logger := opts.Logger.With(zap.String("recording_id", opts.Recording.ID))
	rec := opts.Recording

	// Writers must outlive an interrupt so they can drain to empty.
	persistCtx := context.WithoutCancel(ctx)
	if err := opts.Recordings.CreateRecording(persistCtx, rec); err != nil {
		return Summary{}, fmt.Errorf("create recording: %w", err)
	}

	bus := queue.New[events.RawEvent]()
	sinks := map[storage.Kind]*queue.Queue[storage.Record]{
		storage.KindAction: queue.New[storage.Record](),
		storage.KindWindow: queue.New[storage.Record](),
		storage.KindScreen: queue.New[storage.Record](),
	}

	perf := NewPerfRecorder(rec.ID, opts.Open, logger)
	writers := make([]*Writer, 0, len(sinks))
	for _, kind := range []storage.Kind{storage.KindAction, storage.KindWindow, storage.KindScreen} {
		w, err := NewWriter(WriterOptions{
			Kind:          kind,
			Queue:         sinks[kind],
			Open:          opts.Open,
			Perf:          perf,
			Clock:         clock,
			Retries:       opts.WriteRetries,
			RetryInterval: opts.RetryInterval,
			Logger:        logger,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("initialise %s writer: %w", kind, err)
		}
		writers = append(writers, w)
	}

	correlator, err := NewCorrelator(CorrelatorOptions{
		RecordingID: rec.ID,
		Actions:     sinks[storage.KindAction],
		Windows:     sinks[storage.KindWindow],
		Screens:     sinks[storage.KindScreen],
		Detector:    stopseq.NewDetector(opts.StopSequences),
		Chord:       stopseq.NewChordDetector(opts.StopChord[0], opts.StopChord[1]),
		Redactor:    opts.Redactor,
		Control:     control,
		Logger:      logger,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("initialise correlator: %w", err)
	}

	var perfErr error
	perfDone := make(chan struct{})
	go func() {
		defer close(perfDone)
		perfErr = perf.Run(persistCtx)
	}()

	var (
		writerWG   sync.WaitGroup
		writerMu   sync.Mutex
		writerErrs []error
	)
	for _, w := range writers {
		writerWG.Add(1)
		go func(w *Writer) {
			defer writerWG.Done()
			if err := w.Run(persistCtx); err != nil {
				writerMu.Lock()
				writerErrs = append(writerErrs, err)
				writerMu.Unlock()
			}
		}(w)
	}

	correlatorDone := make(chan error, 1)
	go func() {
		correlatorDone <- correlator.Run(persistCtx, bus)
	}()

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		control.Wait(readCtx)
		cancelRead()
	}()

	logger.Info("capture started", zap.Int("sources", len(opts.Sources)))
	group, groupCtx := errgroup.WithContext(readCtx)
	for i, src := range opts.Sources {
		group.Go(func() error {
			return readSource(groupCtx, i, src, bus, control, logger)
		})
	}

	// (1) readers join after their current blocking read returns.
	readErr := group.Wait()
	if readErr != nil {
		logger.Error("event source failed", zap.Error(readErr))
		control.Stop(ReasonFailure)
	} else if ctx.Err() != nil {
		control.Stop(ReasonInterrupt)
	} else {
		control.Stop(ReasonSourcesClosed)
	}
	stoppedAt := clock()
	cancelRead()
	bus.Close()
	corrErr := <-correlatorDone
	control.Mark("readers_joined")
	if corrErr != nil {
		logger.Error("correlator failed", zap.Error(corrErr))
	}

	// (2) writers learn their backlog, (3) then drain to empty.
	for _, w := range writers {
		w.ReportBacklog(sinks[w.Kind()].Size())
	}
	for _, q := range sinks {
		q.Close()
	}
	writerWG.Wait()
	perf.Close()
	<-perfDone
	control.Mark("drained")
	if perfErr != nil {
		logger.Warn("performance recorder stopped early", zap.Error(perfErr))
	}

	// (4) finalize with the derived duration.
	if err := rec.Finalize(stoppedAt); err != nil {
		return Summary{}, fmt.Errorf("finalize recording: %w", err)
	}
	if err := opts.Recordings.FinalizeRecording(persistCtx, rec); err != nil {
		return Summary{}, fmt.Errorf("persist recording duration: %w", err)
	}
	control.Mark("finalized")

	summary := Summary{
		Recording:    rec,
		Termination:  control.Reason(),
		Persisted:    make(map[storage.Kind]int, len(writers)),
		Correlator:   correlator.Stats(),
		WriterErrors: writerErrs,
		Latency:      perf.Summary(),
	}
	for _, w := range writers {
		summary.Persisted[w.Kind()] = w.Written()
	}
	logger.Info("capture finished",
		zap.String("termination", summary.Termination),
		zap.Duration("duration", rec.Duration),
		zap.Int("actions", summary.Persisted[storage.KindAction]),
		zap.Int("correlation_gaps", summary.Correlator.Gaps),
	)

	errs := append([]error(nil), writerErrs...)
	if readErr != nil {
		errs = append(errs, fmt.Errorf("event source: %w", readErr))
	}
	if corrErr != nil {
		errs = append(errs, fmt.Errorf("correlator: %w", corrErr))
	}
	return summary, errors.Join(errs...)
}

// readSource pushes events from one source onto the bus until the source
// closes or the terminate signal is observed.
func readSource(ctx context.Context, index int, src events.Source, bus *queue.Queue[events.RawEvent], control *Controller, logger *zap.Logger) error {
	for {
		ev, err := src.Next(ctx)
		switch {
		case errors.Is(err, events.ErrSourceClosed):
			logger.Debug("event source closed", zap.Int("source", index))
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("source %d: %w", index, err)
		}
		if err := bus.Put(ev); err != nil {
			return fmt.Errorf("source %d: %w", index, err)
		}
		if control.Stopping() {
			return nil
		}
	}
}
