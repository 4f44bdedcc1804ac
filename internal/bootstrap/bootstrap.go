package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avasilyev/contract-intel/internal/config"
	"github.com/avasilyev/contract-intel/internal/core/ports"
	"github.com/avasilyev/contract-intel/internal/core/usecase"
	"github.com/avasilyev/contract-intel/internal/infrastructure/cache/fscache"
	"github.com/avasilyev/contract-intel/internal/infrastructure/eventbus"
	"github.com/avasilyev/contract-intel/internal/infrastructure/export/excel"
	"github.com/avasilyev/contract-intel/internal/infrastructure/llm/visionai"
	"github.com/avasilyev/contract-intel/internal/infrastructure/progress/fsstore"
	natsqueue "github.com/avasilyev/contract-intel/internal/infrastructure/queue/nats"
	"github.com/avasilyev/contract-intel/internal/infrastructure/raster/poppler"
	"github.com/avasilyev/contract-intel/internal/infrastructure/repository/postgres"
	"github.com/avasilyev/contract-intel/internal/infrastructure/resilience"
	"github.com/avasilyev/contract-intel/internal/infrastructure/vector/qdrant"
	"github.com/avasilyev/contract-intel/internal/observability/logging"
	"github.com/avasilyev/contract-intel/internal/observability/metrics"
)

const serviceName = "contract-intel-worker"

type App struct {
	Config config.Config
	Logger *slog.Logger

	Bus       *eventbus.Bus
	Scheduler *usecase.Scheduler
	Queue     *natsqueue.Queue
	Metrics   *metrics.PipelineMetrics
	Export    *excel.Service

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	bus := eventbus.New(eventbus.WithLogger(logger))

	progress, err := fsstore.New(cfg.LogsDir, bus, logger)
	if err != nil {
		return nil, fmt.Errorf("init progress store: %w", err)
	}
	swept, err := progress.Sweep(cfg.OrphanThreshold)
	if err != nil {
		logger.Warn("orphan sweep failed", "error", err)
	} else if swept > 0 {
		logger.Info("orphan progress files removed", "count", swept)
	}

	cache, err := fscache.New(cfg.CacheDir, logger)
	if err != nil {
		return nil, fmt.Errorf("init ocr cache: %w", err)
	}

	client, err := visionai.New(visionai.Config{
		BaseURL:           cfg.ExtractionBaseURL,
		APIKey:            cfg.ExtractionAPIKey,
		OCRModel:          cfg.OCRModel,
		EmbedModel:        cfg.EmbedModel,
		FieldModel:        cfg.FieldModel,
		RequestsPerSecond: cfg.ExtractionRPS,
	})
	if err != nil {
		return nil, fmt.Errorf("init extraction client: %w", err)
	}
	ocr := visionai.NewOCR(client, cfg.OCRCallTimeout)
	embedder := visionai.NewEmbedder(client)

	raster := poppler.New(logger,
		poppler.WithBinary(cfg.PdftoppmPath),
		poppler.WithDPI(cfg.RasterDPI),
	)

	// Two sleeps of 2s then 4s between the three OCR attempts.
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 2 * time.Second,
		RetryMaxBackoff:     4 * time.Second,
		RetryMultiplier:     2,
		BreakerEnabled:      true,
	})

	vectors := qdrant.New(cfg.QdrantURL)

	var (
		fieldStore     ports.FieldStore
		fieldExtractor ports.FieldExtractor
		export         *excel.Service
		closeDB        func()
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewFieldRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		fieldStore = repo
		fieldExtractor = visionai.NewFieldExtractor(client, cfg.FieldCallTimeout)
		export = excel.NewService(repo, logger)
		closeDB = func() { _ = db.Close() }
	} else {
		logger.Info("postgres not configured, structured extraction disabled")
	}

	seedFields, err := config.LoadSeedFields(cfg.SeedFieldsPath)
	if err != nil {
		logger.Warn("seed field registry unavailable", "error", err)
	}

	pipeline := usecase.NewPipeline(
		usecase.NewOCRStage(raster, ocr, cache, executor, visionai.ClassifyError, bus, logger),
		usecase.NewEmbeddingStage(embedder, bus, cfg.EmbedBatchSize, logger),
		usecase.NewIngestionStage(vectors, cfg.QdrantCollection, bus, cfg.IngestBatchSize, logger),
		usecase.NewEnrichmentStage(fieldStore, fieldExtractor, seedFields, bus, logger),
		progress,
		bus,
		cfg.KnowledgeDir,
		cfg.GracePeriod,
		logger,
	)

	scheduler, err := usecase.NewScheduler(pipeline, progress, cfg.MaxConcurrentJobs, logger)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(serviceName)
	metricsServer := startMetricsServer(cfg.MetricsPort, pipelineMetrics, logger)
	metricsSub := bus.Subscribe()
	go relayMetrics(ctx, bus, metricsSub, pipelineMetrics)

	var queue *natsqueue.Queue
	if cfg.NATSURL != "" {
		queue, err = natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubmitSubject, cfg.NATSEventSubject, natsqueue.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		relaySub := bus.Subscribe()
		go queue.RelayEvents(ctx, relaySub)
	} else {
		logger.Info("nats not configured, inbound submissions disabled")
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Bus:       bus,
		Scheduler: scheduler,
		Queue:     queue,
		Metrics:   pipelineMetrics,
		Export:    export,

		closeFn: func() {
			scheduler.Close()
			if queue != nil {
				queue.Close()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
			if closeDB != nil {
				closeDB()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func startMetricsServer(port string, m *metrics.PipelineMetrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return server
}
