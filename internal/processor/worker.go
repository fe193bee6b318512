package processor

import (
	"context"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"coursepulse.io/notifier/internal/pkg/logger"
	"coursepulse.io/notifier/internal/producer"
)

const (
	// DefaultQueuePurgeAttempts is how many failed processing attempts a
	// queue row survives before cleanup removes it.
	DefaultQueuePurgeAttempts = 5

	// DefaultQueuePurgeAge keeps failed rows around long enough to inspect.
	DefaultQueuePurgeAge = 7 * 24 * time.Hour
)

// ProcessArgs is the periodic queue drain tick.
type ProcessArgs struct{}

// Kind returns the job kind identifier for the drain tick.
func (ProcessArgs) Kind() string { return "notification_process" }

// InsertOpts ensures at most one drain tick runs per minute per queue.
func (ProcessArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// ProcessWorker drains the notifiable event queue.
type ProcessWorker struct {
	river.WorkerDefaults[ProcessArgs]
	processor *Processor
}

// NewProcessWorker creates the drain worker.
func NewProcessWorker(processor *Processor) *ProcessWorker {
	return &ProcessWorker{processor: processor}
}

// Work drains one batch of queued events.
func (w *ProcessWorker) Work(ctx context.Context, _ *river.Job[ProcessArgs]) error {
	processed, err := w.processor.ProcessTick(ctx)
	if err != nil {
		return err
	}
	if processed > 0 {
		logger.Info("event queue drained", zap.Int("processed", processed))
	}
	return nil
}

// ScanArgs is the periodic scheduled-notification scan tick.
type ScanArgs struct{}

// Kind returns the job kind identifier for the scan tick.
func (ScanArgs) Kind() string { return "notification_scan" }

// InsertOpts ensures overlapping scan ticks collapse into one.
func (ScanArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// ScanWorker runs the producer's scheduled window scan.
type ScanWorker struct {
	river.WorkerDefaults[ScanArgs]
	producer *producer.Producer
}

// NewScanWorker creates the scan worker.
func NewScanWorker(producer *producer.Producer) *ScanWorker {
	return &ScanWorker{producer: producer}
}

// Work scans every scheduled resolver once.
func (w *ScanWorker) Work(ctx context.Context, _ *river.Job[ScanArgs]) error {
	enqueued, err := w.producer.Scan(ctx)
	if err != nil {
		return err
	}
	if enqueued > 0 {
		logger.Info("scan tick enqueued events", zap.Int("enqueued", enqueued))
	}
	return nil
}

// CleanupArgs is the daily queue maintenance job.
type CleanupArgs struct{}

// Kind returns the job kind identifier for queue cleanup.
func (CleanupArgs) Kind() string { return "notification_queue_cleanup" }

// InsertOpts ensures at most one cleanup job is enqueued within the same day.
func (CleanupArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// CleanupWorker purges exhausted queue rows.
type CleanupWorker struct {
	river.WorkerDefaults[CleanupArgs]
	processor   *Processor
	maxAttempts int
	olderThan   time.Duration
}

// NewCleanupWorker creates a cleanup worker. Non-positive settings fall back
// to the defaults.
func NewCleanupWorker(processor *Processor, maxAttempts int, olderThan time.Duration) *CleanupWorker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultQueuePurgeAttempts
	}
	if olderThan <= 0 {
		olderThan = DefaultQueuePurgeAge
	}
	return &CleanupWorker{processor: processor, maxAttempts: maxAttempts, olderThan: olderThan}
}

// Work removes queue rows that exhausted their attempts.
func (w *CleanupWorker) Work(ctx context.Context, _ *river.Job[CleanupArgs]) error {
	_, err := w.processor.Cleanup(ctx, w.maxAttempts, w.olderThan)
	return err
}
