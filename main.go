package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/posture-service/config"
	"github.com/Tutortoise/posture-service/detections"
	"github.com/Tutortoise/posture-service/logging"
	"github.com/Tutortoise/posture-service/models"
	"github.com/Tutortoise/posture-service/posture"
	"github.com/Tutortoise/posture-service/session"
	"github.com/Tutortoise/posture-service/storage"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type AppState struct {
	Config     *config.Config
	Registry   *session.Registry
	Pool       *detections.ModelSessionPool
	Estimator  *detections.Estimator
	Catalog    posture.Catalog
	Judge      *posture.Judge
	Comparator *posture.Comparator
	Logger     zerolog.Logger

	upgrader websocket.Upgrader
}

func newAppState(cfg *config.Config, logger zerolog.Logger, archive session.Archive) (*AppState, error) {
	opts, err := cfg.SessionOptions()
	if err != nil {
		return nil, err
	}
	catalog, err := posture.CatalogFor(cfg.Locale)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Options:      opts,
		TickInterval: cfg.Session.TickInterval,
		MaxSessions:  cfg.Server.MaxSessions,
		Archive:      archive,
	}, logger)

	return &AppState{
		Config:     cfg,
		Registry:   registry,
		Catalog:    catalog,
		Judge:      posture.NewJudge(opts.Margins),
		Comparator: posture.NewComparator(opts.Thresholds),
		Logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

func logTimings(logger zerolog.Logger, t *models.ProcessingTimings) {
	logger.Debug().
		Str("request_id", t.RequestID).
		Dur("image_decode", t.ImageDecode).
		Dur("resize", t.Resize).
		Dur("preprocess", t.Preprocess).
		Dur("inference", t.Inference).
		Dur("postprocess", t.Postprocess).
		Dur("classify", t.Classify).
		Dur("total", t.Total).
		Msg("processing times")
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logging.NewConsole(false)
		bootLog.Fatal().Err(err).Msg("loading config")
	}
	logger := logging.New(os.Stderr, cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archive session.Archive
	if cfg.Archive.Enabled {
		a, err := storage.NewReferenceArchive(ctx, storage.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Secure:    cfg.Archive.Secure,
			Prefix:    cfg.Archive.Prefix,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("connecting reference archive")
		}
		archive = a
		logger.Info().Str("endpoint", cfg.Archive.Endpoint).Str("bucket", cfg.Archive.Bucket).Msg("reference archive enabled")
	}

	state, err := newAppState(cfg, logger, archive)
	if err != nil {
		logger.Fatal().Err(err).Msg("building application state")
	}

	if cfg.Model.Enabled {
		if err := detections.InitRuntime(cfg.Model.LibraryPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize ONNX environment")
		}
		defer detections.DestroyRuntime()

		pool, err := detections.NewModelSessionPool(func() (*detections.ModelSession, error) {
			return detections.NewModelSession(cfg.Model.Path)
		}, cfg.Model.PoolSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create model session pool")
		}
		defer pool.Destroy()

		state.Pool = pool
		state.Estimator = detections.NewEstimator(pool, cfg.Model.PresenceThreshold)
		logger.Info().
			Str("model", cfg.Model.Path).
			Int("pool_size", pool.Size()).
			Str("preprocess", detections.NewPreprocessor().Strategy()).
			Msg("pose landmark model loaded")
	}
	defer state.Registry.StopAll()

	srv := &http.Server{
		Handler:      state.routes(),
		Addr:         cfg.Server.Addr,
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("mode", cfg.Posture.Mode).Msg("starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server stopped")
}
