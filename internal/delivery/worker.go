package delivery

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"coursepulse.io/notifier/internal/infrastructure"
)

// DeliveryArgs carries only the message id; the worker loads the message
// from the outbox (claim-check pattern).
type DeliveryArgs struct {
	MessageID int64 `json:"message_id"`
}

// Kind returns the job kind identifier for message delivery.
func (DeliveryArgs) Kind() string { return "notification_delivery" }

// InsertOpts deduplicates delivery jobs per message.
func (DeliveryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
		},
	}
}

// Worker delivers one outbox message.
type Worker struct {
	river.WorkerDefaults[DeliveryArgs]
	dispatcher *Dispatcher
}

// NewWorker creates a delivery worker.
func NewWorker(dispatcher *Dispatcher) *Worker {
	return &Worker{dispatcher: dispatcher}
}

// Work dispatches the message. Errors surface to River, which retries with
// its backoff policy; DispatchMessage skips finalized messages so retries
// never double-send.
func (w *Worker) Work(ctx context.Context, job *river.Job[DeliveryArgs]) error {
	return w.dispatcher.DispatchMessage(ctx, job.Args.MessageID)
}

// SweepArgs is the periodic pending-message sweep. It catches outbox rows
// whose delivery job was lost, e.g. inserted right before a crash outside
// any transaction.
type SweepArgs struct{}

// Kind returns the job kind identifier for the delivery sweep.
func (SweepArgs) Kind() string { return "notification_delivery_sweep" }

// InsertOpts ensures overlapping sweeps collapse into one.
func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 5 * time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// SweepWorker redispatches stranded pending messages.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	dispatcher *Dispatcher
	batchSize  int
}

// NewSweepWorker creates the sweep worker.
func NewSweepWorker(dispatcher *Dispatcher, batchSize int) *SweepWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SweepWorker{dispatcher: dispatcher, batchSize: batchSize}
}

// Work sweeps one batch of pending messages.
func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	_, err := w.dispatcher.DispatchPending(ctx, w.batchSize)
	return err
}

// RiverEnqueuer enqueues delivery jobs, joining the caller's transaction
// when one is active so the job and the outbox row commit together.
type RiverEnqueuer struct {
	client *river.Client[pgx.Tx]
}

// NewRiverEnqueuer wraps a River client.
func NewRiverEnqueuer(client *river.Client[pgx.Tx]) *RiverEnqueuer {
	return &RiverEnqueuer{client: client}
}

// EnqueueDelivery schedules delivery of one outbox message.
func (e *RiverEnqueuer) EnqueueDelivery(ctx context.Context, messageID int64) error {
	args := DeliveryArgs{MessageID: messageID}
	if tx, ok := infrastructure.TxFrom(ctx); ok {
		_, err := e.client.InsertTx(ctx, tx, args, nil)
		return err
	}
	_, err := e.client.Insert(ctx, args, nil)
	return err
}
