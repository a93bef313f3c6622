package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/assessment"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/database"
	"github.com/stemsi/exstem-screening/internal/grading"
	"github.com/stemsi/exstem-screening/internal/handler"
	"github.com/stemsi/exstem-screening/internal/logger"
	"github.com/stemsi/exstem-screening/internal/middleware"
	"github.com/stemsi/exstem-screening/internal/repository"
	"github.com/stemsi/exstem-screening/internal/router"
	"github.com/stemsi/exstem-screening/internal/service"
	"github.com/stemsi/exstem-screening/internal/validator"
	"github.com/stemsi/exstem-screening/internal/worker"
	"golang.org/x/sync/errgroup"
)

const recorderDepth = 4096

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet; fall back to the default one.
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting screening backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	assessmentRepo := repository.NewAssessmentRepository(pool)
	applicationRepo := repository.NewApplicationRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	catalogService := service.NewCatalogService(assessmentRepo, rdb, log)
	applicationService := service.NewApplicationService(applicationRepo, rdb, log)
	recorder := service.NewQueueRecorder(rdb, recorderDepth, cfg.LiveSessionTTL, log)
	grader := grading.NewClient(cfg.GraderURL, cfg.GraderTimeout, log)

	opts := assessment.DefaultOptions()
	opts.WarningThreshold = cfg.WarningThreshold
	opts.FullscreenRetryDelay = cfg.FullscreenRetry
	opts.CameraTimeout = cfg.CameraTimeout
	opts.SubmitTimeout = cfg.GraderTimeout

	proctorService := service.NewProctorService(service.ProctorDeps{
		Catalogs:     catalogService,
		Applications: applicationService,
		Completions:  applicationService,
		Grader:       grader,
		Recorder:     recorder,
	}, rdb, opts, cfg.LiveSessionTTL, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(proctorService, catalogService, applicationService, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(rdb, proctorService, map[string]handler.Pinger{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}, log),
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published catalogs into Redis BEFORE accepting traffic.
	if cfg.PrewarmCatalogs {
		if err := catalogService.PrewarmAll(ctx); err != nil {
			log.Warn().Err(err).Msg("Cache prewarm failed")
		}
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	// Ten connection attempts per minute per subject.
	wsLimiter := middleware.NewRateLimiter(10, time.Minute, middleware.SubjectOrIP)
	r := router.SetupRouter(authService, handlers, wsLimiter, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Run ───────────────────────────────────────────────────────────
	// The persistence pipeline outlives the HTTP server so the attempts of
	// sessions closed during shutdown still reach PostgreSQL.
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()

	batch := worker.BatchOptions{Size: cfg.WorkerBatchSize, FlushTimeout: cfg.WorkerFlushTimeout}
	violationWorker := worker.NewViolationWorker(pool, rdb, batch, log)
	answerWorker := worker.NewAnswerWorker(pool, rdb, batch, log)
	attemptWorker := worker.NewAttemptWorker(pool, rdb, batch, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recorder.Start(pipelineCtx) })
	g.Go(func() error { return violationWorker.Start(pipelineCtx) })
	g.Go(func() error { return answerWorker.Start(pipelineCtx) })
	g.Go(func() error { return attemptWorker.Start(pipelineCtx) })

	limiterStop := make(chan struct{})
	g.Go(func() error {
		wsLimiter.Run(limiterStop)
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		// 1. Stop accepting new HTTP requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// 2. Close live sessions; in-flight submissions settle first.
		proctorService.Shutdown()

		// 3. Drain the recorder and workers.
		close(limiterStop)
		stopPipeline()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
