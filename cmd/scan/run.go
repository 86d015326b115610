package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/media-forensics/internal/config"
	"github.com/romariotrain/media-forensics/internal/scan/classifier"
	"github.com/romariotrain/media-forensics/internal/scan/crop"
	"github.com/romariotrain/media-forensics/internal/scan/decode"
	"github.com/romariotrain/media-forensics/internal/scan/httpapi"
	"github.com/romariotrain/media-forensics/internal/scan/pipeline"
	"github.com/romariotrain/media-forensics/internal/scan/repository"
	"github.com/romariotrain/media-forensics/internal/scan/sampler"
	"github.com/romariotrain/media-forensics/internal/scan/scorer"
	"github.com/romariotrain/media-forensics/internal/scan/service"
	"github.com/romariotrain/media-forensics/internal/scan/spectral"
	"github.com/romariotrain/media-forensics/internal/scan/verdict"
	"github.com/romariotrain/media-forensics/internal/storage/blob"
	pg "github.com/romariotrain/media-forensics/internal/storage/postgres"
)

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	reports, closeReports, err := openReports(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeReports()

	blobs, err := blob.NewFS(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	store := repository.NewScanStore(reports, blobs)

	analyzer, err := newPipeline(cfg, blobs, logger)
	if err != nil {
		return err
	}

	mgr := service.New(store, analyzer, service.Config{
		Workers:          cfg.ScanWorkers,
		QueueSize:        cfg.ScanQueueSize,
		MaxUploadBytes:   cfg.MaxUploadBytes(),
		TimeoutBase:      cfg.ScanTimeoutBase,
		TimeoutPerFrame:  cfg.ScanTimeoutPerFrame,
		StaleAfter:       cfg.ScanStaleAfter,
		WatchdogInterval: cfg.WatchdogInterval,
		Logger:           logger,
	})

	h := httpapi.New(mgr, blobs, cfg.MaxUploadBytes(), logger)
	router := httpapi.NewRouter(h, httpapi.RouterConfig{
		AllowOrigins:    cfg.AllowOrigins,
		UploadRateLimit: cfg.UploadRateLimit,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := mgr.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scan manager: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openReports uses Postgres when DATABASE_URL is set and process memory
// otherwise.
func openReports(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repository.ReportRepository, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL is empty, scan reports are kept in memory")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pg.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg.NewScanRepo(db, pg.NewOutboxRepo(db)), func() { db.Close() }, nil
}

func newPipeline(cfg *config.Config, thumbs scorer.ThumbnailWriter, logger zerolog.Logger) (*pipeline.Pipeline, error) {
	stat, err := spectral.StatisticByName(cfg.SpectralStatistic)
	if err != nil {
		return nil, err
	}

	remote, err := classifier.NewHTTPScorer(classifier.HTTPConfig{
		BaseURL: cfg.ClassifierURL,
		Timeout: cfg.ClassifierTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	agg, err := verdict.NewAggregator(verdict.Thresholds{
		High: cfg.VerdictHighThreshold,
		Low:  cfg.VerdictLowThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("verdict thresholds: %w", err)
	}

	tmpDir := filepath.Join(cfg.StorageDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	decoder := decode.Mux{
		Video: decode.NewFFmpeg(decode.FFmpegConfig{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			TempDir:     tmpDir,
			Logger:      logger,
		}),
		Image: decode.Still{},
	}

	scCfg := scorer.Config{Workers: cfg.FrameWorkers, Logger: logger}
	if cfg.FaceCascadePath != "" {
		faces, err := crop.NewPigoDetector(crop.PigoConfig{CascadePath: cfg.FaceCascadePath})
		if err != nil {
			return nil, err
		}
		scCfg.Cropper = crop.New(faces, crop.WithPadding(cfg.FaceCropPadding), crop.WithLogger(logger))
		logger.Info().Str("cascade", cfg.FaceCascadePath).Msg("face cropping enabled")
	}

	sc := scorer.New(
		spectral.New(spectral.WithStatistic(stat)),
		classifier.Limit(remote, cfg.ClassifierConcurrency),
		thumbs,
		scCfg,
	)

	return pipeline.New(decoder, sampler.New(cfg.FrameBudget, cfg.FrameWorkers), sc, agg, logger), nil
}
