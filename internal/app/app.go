package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"CreatorScanner/internal/config"
	"CreatorScanner/internal/diff"
	"CreatorScanner/internal/hasher"
	"CreatorScanner/internal/infrastructure/fetcher"
	"CreatorScanner/internal/infrastructure/parser"
	"CreatorScanner/internal/infrastructure/scheduler"
	"CreatorScanner/internal/infrastructure/storage"
	"CreatorScanner/internal/infrastructure/storage/memory"
	"CreatorScanner/internal/infrastructure/telegram"
	"CreatorScanner/internal/logging"
	"CreatorScanner/internal/media"
	"CreatorScanner/internal/metrics"
	"CreatorScanner/internal/ports"
	"CreatorScanner/internal/resolver"
	"CreatorScanner/internal/scanner"
	"CreatorScanner/internal/tracker"
	"CreatorScanner/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     ports.Store
	metrics   *metrics.Metrics
	resolver  *resolver.Resolver
	tracker   *tracker.Tracker
	media     *media.Store
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
}

// New opens the store and builds every component from cfg.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := OpenStore(ctx, cfg.Database, baseLogger.With("component", "storage"))
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, store, baseLogger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// OpenStore returns the configured persistence backend with migrations applied.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (ports.Store, error) {
	if cfg.Driver == config.DriverMemory {
		return memory.New(), nil
	}
	store, err := storage.Open(ctx, cfg.Driver, cfg.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

func build(cfg config.Config, store ports.Store, baseLogger *slog.Logger) (*Application, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	h, err := hasher.New(cfg.Media.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	mediaStore, err := media.New(cfg.Media.Root, h, store,
		media.WithMaxBytes(cfg.Media.MaxBytes),
		media.WithLogger(baseLogger),
		media.WithObserver(m.MediaStored),
	)
	if err != nil {
		return nil, err
	}

	track := tracker.New(store,
		tracker.WithPageSize(cfg.Scan.PendingPageSize),
		tracker.WithMaxAttempts(cfg.Scan.MaxAttempts),
		tracker.WithLogger(baseLogger),
	)
	res := resolver.New(store, resolver.WithLogger(baseLogger))

	client := fetcher.NewClient(cfg.HTTP.UserAgent, cfg.HTTP.Timeout)
	scanners := scanner.NewRegistry()
	scanners.Register(parser.NewHTMLScanner(client))
	targets := parser.NewStrategySource(scanners, cfg.Sources, baseLogger.With("component", "source"))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Targets:     targets,
		Resolver:    res,
		Tracker:     track,
		Diff:        diff.New(track, diff.WithFullScan(cfg.Scan.FullRescan)),
		Media:       mediaStore,
		Fetcher:     fetcher.NewHTTPFetcher(client, cfg.Media.MaxBytes),
		Notifier:    notifier,
		Metrics:     m,
		Logger:      baseLogger.With("component", "pipeline"),
		MaxPages:    cfg.Scan.MaxPages,
		Concurrency: cfg.Scan.Concurrency,
	})

	driver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(), baseLogger.With("component", "cron"))
	if err := driver.Validate(); err != nil {
		return nil, err
	}

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		metrics:   m,
		resolver:  res,
		tracker:   track,
		media:     mediaStore,
		pipeline:  pipeline,
		scheduler: usecase.NewScheduler(driver, pipeline, baseLogger.With("component", "scheduler")),
	}, nil
}

// Resolver returns the source resolver.
func (a *Application) Resolver() *resolver.Resolver { return a.resolver }

// Tracker returns the item state tracker.
func (a *Application) Tracker() *tracker.Tracker { return a.tracker }

// Media returns the deduplicating media store.
func (a *Application) Media() *media.Store { return a.media }

// Run performs a single pipeline execution over every configured source.
func (a *Application) Run(ctx context.Context) ([]usecase.Report, error) {
	return a.pipeline.Run(ctx)
}

// Schedule runs the pipeline on the cron schedule and serves /metrics when an
// address is configured. It blocks until ctx is cancelled.
func (a *Application) Schedule(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		a.logger.Info("metrics listening", slog.String("addr", a.cfg.Metrics.Addr))
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("metrics server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop scheduler: %w", err))
	}
	return runErr
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}
