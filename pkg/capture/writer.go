package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/queue"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

const (
	defaultWriteRetries  = 5
	defaultRetryInterval = 50 * time.Millisecond
	progressEvery        = 100
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	Kind          storage.Kind
	Queue         *queue.Queue[storage.Record]
	Open          storage.Opener
	Perf          *PerfRecorder
	Clock         events.Clock
	Retries       int
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// Writer drains one kind's queue into a private Storage Sink.
type Writer struct {
	opts    WriterOptions
	backlog atomic.Int64
	written atomic.Int64
}

// NewWriter validates opts and returns a writer.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Kind == "" {
		return nil, errors.New("writer kind must be provided")
	}
	if opts.Queue == nil {
		return nil, errors.New("writer queue must be provided")
	}
	if opts.Open == nil {
		return nil, errors.New("storage opener must be provided")
	}
	if opts.Clock == nil {
		return nil, errors.New("clock must be provided")
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultWriteRetries
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Logger = opts.Logger.With(zap.String("writer", string(opts.Kind)))
	return &Writer{opts: opts}, nil
}

// Kind returns the event kind this writer persists.
func (w *Writer) Kind() storage.Kind { return w.opts.Kind }

// Written returns the number of records persisted so far.
func (w *Writer) Written() int { return int(w.written.Load()) }

// ReportBacklog tells the writer how many records remain at shutdown so it
// can log drain progress.
func (w *Writer) ReportBacklog(n int) {
	w.backlog.Store(int64(n))
	w.opts.Logger.Info("draining backlog", zap.Int("backlog", n))
}

// Run drains the queue until it is closed and empty. The sink is always
// closed before Run returns, including after a panic.
func (w *Writer) Run(ctx context.Context) (err error) {
	sink, err := w.opts.Open(ctx)
	if err != nil {
		return w.fail(fmt.Errorf("open sink: %w", err))
	}
	defer func() {
		if r := recover(); r != nil {
			err = w.fail(fmt.Errorf("panic: %v", r))
		}
		if cerr := sink.Close(); cerr != nil {
			w.opts.Logger.Warn("close sink", zap.Error(cerr))
		}
	}()

	drained := int64(0)
	for {
		rec, err := w.opts.Queue.Get(ctx)
		if errors.Is(err, queue.ErrClosed) {
			w.opts.Logger.Debug("writer drained", zap.Int("written", w.Written()))
			return nil
		}
		if err != nil {
			return w.fail(err)
		}
		if err := appendWithRetry(ctx, sink, rec, w.opts.Retries, w.opts.RetryInterval); err != nil {
			return w.fail(err)
		}
		w.written.Add(1)
		if w.opts.Perf != nil {
			w.opts.Perf.Record(storage.PerfStat{EventKind: w.opts.Kind, Start: rec.Timestamp, End: w.opts.Clock()})
		}
		if target := w.backlog.Load(); target > 0 {
			drained++
			if drained%progressEvery == 0 || drained == target {
				w.opts.Logger.Info("drain progress",
					zap.Int64("drained", drained),
					zap.Int64("backlog", target),
					zap.Int("remaining", w.opts.Queue.Size()),
				)
			}
		}
	}
}

func (w *Writer) fail(cause error) error {
	werr := &WriterFailedError{Kind: w.opts.Kind, Dropped: w.opts.Queue.Size(), Err: cause}
	w.opts.Logger.Error("writer failed", zap.Int("dropped", werr.Dropped), zap.Error(cause))
	return werr
}

// appendWithRetry retries transient sink failures with exponential backoff.
func appendWithRetry(ctx context.Context, sink storage.Sink, rec storage.Record, tries int, initial time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = 20 * initial

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, sink.Append(ctx, rec)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(tries)))
	if err != nil {
		return &TransientIOError{Kind: rec.Kind, Attempts: attempts, Err: err}
	}
	return nil
}
