package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/queue"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

// LatencySummary aggregates capture-to-persist latency for one kind.
type LatencySummary struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	Max   time.Duration `json:"max"`
	total time.Duration
}

// PerfRecorder collects PerfStats from every writer through one queue and
// persists them through its own sink.
type PerfRecorder struct {
	recordingID string
	queue       *queue.Queue[storage.PerfStat]
	open        storage.Opener
	retries     int
	interval    time.Duration
	logger      *zap.Logger

	mu         sync.Mutex
	aggregates map[storage.Kind]*LatencySummary
}

// NewPerfRecorder returns a recorder persisting through open. A nil open
// keeps aggregates in memory only.
func NewPerfRecorder(recordingID string, open storage.Opener, logger *zap.Logger) *PerfRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PerfRecorder{
		recordingID: recordingID,
		queue:       queue.New[storage.PerfStat](),
		open:        open,
		retries:     defaultWriteRetries,
		interval:    defaultRetryInterval,
		logger:      logger.With(zap.String("writer", string(storage.KindPerformance))),
		aggregates:  make(map[storage.Kind]*LatencySummary),
	}
}

// Record enqueues a stat. Safe for concurrent use by many writers.
func (p *PerfRecorder) Record(stat storage.PerfStat) {
	if err := p.queue.Put(stat); err != nil {
		p.logger.Warn("performance stat dropped", zap.String("kind", string(stat.EventKind)), zap.Error(err))
	}
}

// Close stops accepting stats; Run returns once the backlog is drained.
func (p *PerfRecorder) Close() {
	p.queue.Close()
}

// Backlog returns the number of stats waiting to be persisted.
func (p *PerfRecorder) Backlog() int {
	return p.queue.Size()
}

// Run drains stats until Close. Persistence failures are logged and the
// stat is still aggregated; performance data never fails a recording.
func (p *PerfRecorder) Run(ctx context.Context) (err error) {
	var sink storage.Sink
	if p.open != nil {
		sink, err = p.open(ctx)
		if err != nil {
			p.logger.Error("open performance sink", zap.Error(err))
			sink = nil
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("performance recorder panic: %v", r)
		}
		if sink != nil {
			_ = sink.Close()
		}
	}()

	for {
		stat, err := p.queue.Get(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		p.observe(stat)
		if sink == nil {
			continue
		}
		rec := storage.Record{Kind: storage.KindPerformance, RecordingID: p.recordingID, Timestamp: stat.Start, Fields: stat}
		if err := appendWithRetry(ctx, sink, rec, p.retries, p.interval); err != nil {
			p.logger.Warn("performance stat not persisted", zap.Error(err))
		}
	}
}

func (p *PerfRecorder) observe(stat storage.PerfStat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agg, ok := p.aggregates[stat.EventKind]
	if !ok {
		agg = &LatencySummary{}
		p.aggregates[stat.EventKind] = agg
	}
	latency := stat.Latency()
	agg.Count++
	agg.total += latency
	agg.Mean = agg.total / time.Duration(agg.Count)
	if latency > agg.Max {
		agg.Max = latency
	}
}

// Summary returns a copy of the per-kind aggregates.
func (p *PerfRecorder) Summary() map[storage.Kind]LatencySummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[storage.Kind]LatencySummary, len(p.aggregates))
	for kind, agg := range p.aggregates {
		out[kind] = *agg
	}
	return out
}
