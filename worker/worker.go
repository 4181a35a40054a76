package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	sdkmetrics "github.com/Layr-Labs/eigensdk-go/metrics"

	"github.com/AvaProtocol/chainflow/core/apqueue"
	"github.com/AvaProtocol/chainflow/core/backup"
	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/core/taskengine"
	"github.com/AvaProtocol/chainflow/core/taskengine/modules"
	"github.com/AvaProtocol/chainflow/core/taskengine/tokens"
	"github.com/AvaProtocol/chainflow/core/wallet"
	"github.com/AvaProtocol/chainflow/metrics"
	"github.com/AvaProtocol/chainflow/storage"
	"github.com/AvaProtocol/chainflow/version"
)

const AppName = "chainflow-worker"

// Worker owns every long lived resource of the process: the database, the
// queue connection, rpc clients and the http endpoints.
type Worker struct {
	config *config.Config
	logger sdklogging.Logger

	db       storage.Storage
	queue    *apqueue.Gateway
	registry *rpc.Registry
	cache    *rpc.Cache
	repo     *taskengine.StorageRepository
	executor *taskengine.Executor
	pool     *apqueue.Worker

	metricsReg *prometheus.Registry
	metrics    *metrics.WorkerMetrics

	scheduler  gocron.Scheduler
	httpServer *echo.Echo
}

func RunWithConfig(configPath string) error {
	c, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w\nMake sure %s exists and is a valid yaml file", err, configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := New(ctx, c)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Start(ctx)
}

// New wires the worker from config. Nothing is consumed until Start.
func New(ctx context.Context, c *config.Config) (*Worker, error) {
	logger := c.Logger
	w := &Worker{config: c, logger: logger}

	var err error
	if w.db, err = storage.NewWithPath(c.DbPath); err != nil {
		return nil, fmt.Errorf("cannot open database at %s: %w", c.DbPath, err)
	}

	w.metricsReg = prometheus.NewRegistry()
	eigenMetrics := sdkmetrics.NewEigenMetrics(AppName, c.MetricsListenAddr, w.metricsReg, logger)
	w.metrics = metrics.NewWorkerMetrics(eigenMetrics, w.metricsReg)

	if w.queue, err = OpenQueue(ctx, c, w.db, logger); err != nil {
		w.Close()
		return nil, err
	}
	w.metricsReg.MustRegister(metrics.NewQueueDepthCollector(queueDepths(w.queue), logger))

	w.registry = rpc.NewRegistry(c, &rpc.ClientOption{
		PollInterval: c.Wallet.ConfirmationPollInterval,
		OnRetry:      w.metrics.IncRPCRetry,
		Logger:       logger,
	})
	if w.cache, err = rpc.NewCache(ctx, c.Cache.DefaultTTL); err != nil {
		w.Close()
		return nil, fmt.Errorf("cannot create rpc cache: %w", err)
	}

	sessions := wallet.NewSessionClient(c.Wallet.SessionURL, []byte(c.Wallet.SigningSecret), c.Wallet.RequestTimeout)
	walletGateway := wallet.NewGateway(sessions, wallet.RegistryResolver(w.registry), &wallet.GatewayOption{
		ApprovalThreshold:       c.ApprovalThreshold().BigInt(),
		TokenApprovalThresholds: c.TokenApprovalThresholds(),
		PollInterval:            c.Wallet.ConfirmationPollInterval,
		Logger:                  logger,
	})

	handlers := NewHandlers(c, &Dependencies{
		Chains:  &taskengine.RegistryProvider{Registry: w.registry},
		Wallet:  walletGateway,
		Cache:   w.cache,
		Tokens:  tokens.NewService(logger),
		Modules: modules.NewDefaultRegistry(),
	}, logger)

	w.repo = taskengine.NewStorageRepository(w.db)
	w.executor = taskengine.NewExecutor(w.repo, handlers, &taskengine.ExecutorOption{
		JobTimeout: c.JobTimeout,
		Logger:     logger,
		Metrics:    w.metrics,
	})

	w.pool = apqueue.NewWorker(w.queue, c.Queue.Workers, c.Queue.Prefetch, logger)
	topo := w.queue.Topology()
	w.pool.RegisterProcessor(topo.Execution, w.executor)
	w.pool.RegisterProcessor(topo.Retry, w.executor)

	w.httpServer = newHttpServer(w.queue, w.repo)

	return w, nil
}

// Start consumes the execution and retry queues until ctx is done
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting worker", "version", version.Get(), "queue_driver", w.config.Queue.Driver,
		"workers", w.config.Queue.Workers, "prefetch", w.config.Queue.Prefetch)

	var err error
	w.scheduler, err = gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	_, err = w.scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() { w.reportQueues(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule queue report: %w", err)
	}
	_, err = w.scheduler.NewJob(
		gocron.DurationJob(w.config.DbVacuumInterval),
		gocron.NewTask(w.vacuum),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule db vacuum: %w", err)
	}
	if w.config.Backup.Enabled {
		backups := backup.NewService(w.logger, w.db, w.config.Backup.Dir, w.config.Backup.Keep)
		if err := backups.Schedule(w.scheduler, w.config.Backup.Interval); err != nil {
			return fmt.Errorf("failed to schedule backup: %w", err)
		}
	}
	w.scheduler.Start()

	metricsErrChan := w.metrics.Start(ctx, w.metricsReg)

	httpErrChan := make(chan error, 1)
	go func() {
		w.logger.Info("starting http server", "address", w.config.StatsListenAddr)
		if err := w.httpServer.Start(w.config.StatsListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrChan <- err
		}
	}()

	w.pool.MustStart(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		w.logger.Info("shutting down worker")
	case err := <-metricsErrChan:
		runErr = fmt.Errorf("metrics server failed: %w", err)
	case err := <-httpErrChan:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	// in-flight jobs finish before the broker goes away
	w.pool.Stop()
	return runErr
}

// reportQueues logs queue depths and warns while the dead letter queue is
// not empty
func (w *Worker) reportQueues(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats, err := w.queue.Stats(ctx)
	if err != nil {
		w.logger.Error("cannot read queue stats", "error", err)
		return
	}
	w.logger.Info("queue stats", "execution", stats.Execution, "retry", stats.Retry, "dlq", stats.DLQ, "delayed", stats.Delayed)
	if stats.DLQ > 0 {
		w.logger.Warn("dead letter queue is not empty, run redrive after fixing the cause", "dlq", stats.DLQ)
	}
}

// vacuum reclaims value log space left by acked queue messages and
// rewritten executions
func (w *Worker) vacuum() {
	start := time.Now()
	if err := w.db.Vacuum(); err != nil {
		w.logger.Warn("db vacuum failed", "error", err)
		return
	}
	w.logger.Debug("db vacuum completed", "duration_ms", time.Since(start).Milliseconds())
}

// Close releases resources in reverse order of acquisition. It is safe on a
// partially built worker.
func (w *Worker) Close() {
	if w.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.httpServer.Shutdown(ctx); err != nil {
			w.logger.Warn("http server shutdown failed", "error", err)
		}
		cancel()
	}
	if w.scheduler != nil {
		if err := w.scheduler.Shutdown(); err != nil {
			w.logger.Warn("scheduler shutdown failed", "error", err)
		}
	}
	if w.cache != nil {
		w.cache.Close()
	}
	if w.registry != nil {
		w.registry.Close()
	}
	if w.queue != nil {
		if err := w.queue.Close(); err != nil {
			w.logger.Warn("queue close failed", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.logger.Warn("database close failed", "error", err)
		}
	}
}
