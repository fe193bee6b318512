// Package app is the composition root: it wires stores, registries, the
// notification pipeline and the admin API together.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"coursepulse.io/notifier/internal/api/handlers"
	"coursepulse.io/notifier/internal/audit"
	"coursepulse.io/notifier/internal/config"
	"coursepulse.io/notifier/internal/delivery"
	"coursepulse.io/notifier/internal/domain"
	"coursepulse.io/notifier/internal/infrastructure"
	"coursepulse.io/notifier/internal/pkg/worker"
	"coursepulse.io/notifier/internal/placeholder"
	"coursepulse.io/notifier/internal/preference"
	"coursepulse.io/notifier/internal/processor"
	"coursepulse.io/notifier/internal/producer"
	"coursepulse.io/notifier/internal/queue"
	"coursepulse.io/notifier/internal/recipient"
	"coursepulse.io/notifier/internal/resolver"
)

// Application holds composed application dependencies.
type Application struct {
	Config *config.Config
	Router *gin.Engine
	DB     *infrastructure.DatabaseClients
	Pools  *worker.Pools
}

// lazyEnqueuer defers to the River-backed enqueuer once the client exists.
// The processor is constructed before the River client because the client
// needs the processor's worker registered first.
type lazyEnqueuer struct {
	inner processor.DeliveryEnqueuer
}

func (l *lazyEnqueuer) EnqueueDelivery(ctx context.Context, messageID int64) error {
	if l.inner == nil {
		return fmt.Errorf("delivery enqueuer not initialized")
	}
	return l.inner.EnqueueDelivery(ctx, messageID)
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:  cfg.Worker.GeneralPoolSize,
		DeliveryPoolSize: cfg.Worker.DeliveryPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	stores := domain.NewPostgresStores(db.Pool).Bundle()
	cache := placeholder.NewCache(cfg.Notification.PlaceholderCacheTTL)

	resolvers := resolver.NewRegistry()
	resolver.RegisterSeminarResolvers(resolvers, stores, cache)

	recipients := recipient.NewRegistry()
	recipient.RegisterBuiltIns(recipients, stores, cfg.Notification.NotifiableRoles())

	prefStore := preference.NewPostgresStore(db.Pool)
	builder := preference.NewBuilder(prefStore, resolvers, recipients)
	loader := preference.NewLoader(prefStore, resolvers)

	events := queue.NewPostgresEventStore(db.Pool)
	outbox := queue.NewPostgresOutboxStore(db.Pool)
	auditor := audit.NewLogger(audit.NewPostgresStore(db.Pool))

	channels := delivery.NewRegistry()
	channels.Register(delivery.NewEmailChannel(delivery.LogSender{}))
	channels.Register(delivery.NewPopupChannel(delivery.NewPostgresPopupStore(db.Pool)))
	channels.Register(delivery.LogChannel{})
	userChannels := delivery.NewPostgresUserChannelStore(db.Pool)

	dispatcher := delivery.NewDispatcher(outbox, channels, auditor, pools.Delivery)

	prod := producer.New(
		events, resolvers, loader, stores.Seminars,
		producer.NewPostgresCheckpointStore(db.Pool),
		cfg.Notification.AllowLegacy, cfg.Notification.ScanLookback,
	)

	enqueuer := &lazyEnqueuer{}
	proc := processor.New(
		infrastructure.NewRunner(db.Pool),
		events, outbox, resolvers, loader, recipients,
		channels, userChannels, auditor, enqueuer,
		cfg.Notification.QueueBatchSize,
	)

	workers := river.NewWorkers()
	river.AddWorker(workers, delivery.NewWorker(dispatcher))
	river.AddWorker(workers, delivery.NewSweepWorker(dispatcher, cfg.Notification.QueueBatchSize))
	river.AddWorker(workers, processor.NewProcessWorker(proc))
	river.AddWorker(workers, processor.NewScanWorker(prod))
	river.AddWorker(workers, processor.NewCleanupWorker(proc, 0, 0))

	if err := db.InitRiverClient(workers, periodicJobs(cfg), cfg.River); err != nil {
		pools.Release()
		db.Close()
		return nil, fmt.Errorf("init river client: %w", err)
	}
	enqueuer.inner = delivery.NewRiverEnqueuer(db.RiverClient)

	server := handlers.NewServer(builder, loader, prefStore, prefStore, resolvers, prod, events)

	return &Application{
		Config: cfg,
		Router: newRouter(server),
		DB:     db,
		Pools:  pools,
	}, nil
}

// periodicJobs declares the engine's recurring ticks: queue drain, the
// scheduled-event scan, the stranded-delivery sweep and daily cleanup.
func periodicJobs(cfg *config.Config) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.River.ProcessInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return processor.ProcessArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.River.ScanInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return processor.ScanArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(5*cfg.River.ProcessInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return delivery.SweepArgs{}, nil
			},
			nil,
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return processor.CleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
