package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	config "github.com/voxkit/backend/config/speech"
	"github.com/voxkit/backend/pkg/logger"
	"github.com/voxkit/backend/services/speech/diagnose"
	"github.com/voxkit/backend/services/speech/engine"
	"github.com/voxkit/backend/services/speech/server"
	"github.com/voxkit/backend/services/speech/storage"
	"github.com/voxkit/backend/services/speech/upload"
	"github.com/voxkit/backend/services/speech/usecase"
)

const uploadMaxAge = 24 * time.Hour

func main() {
	log := logger.New(logger.Config{
		Level:      slog.LevelDebug,
		Output:     os.Stderr,
		AddSource:  true,
		JSONFormat: false,
	})

	cfg := config.MustLoad()

	ctx := logger.WithContext(context.Background(), log)

	rootCtx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("failed to run()", slog.String("error", err.Error()))
		return
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	stg, closeStorage, err := newStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize job store", slog.String("error", err.Error()))
		return err
	}
	defer closeStorage()

	recognizer := engine.NewWhisperCLI(engine.WhisperOptions{
		Bin:         cfg.RecognizerBin,
		Device:      cfg.WhisperDevice,
		ComputeType: cfg.WhisperComputeType,
	})
	var diarizer engine.Diarizer
	if cfg.EnableDiarization {
		diarizer = engine.NewPyannoteCLI(engine.PyannoteOptions{
			Bin:       cfg.DiarizerBin,
			AuthToken: cfg.PyannoteAuthToken,
		})
	}

	usc := usecase.New(usecase.Options{
		Storage:      stg,
		Recognizer:   recognizer,
		Diarizer:     diarizer,
		DefaultModel: cfg.WhisperModelSize,
		MaxJobs:      cfg.MaxConcurrentJobs,
		BaseCtx:      logger.WithContext(context.Background(), log),
	})

	upload.CleanupOld(cfg.UploadDir, uploadMaxAge, log)

	srv := server.New(server.Options{
		Usecase:      usc,
		Diagnostics:  diagnose.NewEngine(),
		UploadDir:    cfg.UploadDir,
		MaxSizeMB:    cfg.MaxUploadSizeMB,
		DefaultModel: cfg.WhisperModelSize,
	})

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	srv.Mount(router)

	address := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{Addr: address, Handler: router}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.ListenAndServe()
	}()
	log.Info("speech service started", slog.String("address", address))

	select {
	case err := <-serverErrors:
		return fmt.Errorf("http server has closed: %w", err)
	case <-ctx.Done():
		log.Info("start shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop http server", slog.String("error", err.Error()))
	}
	if err := usc.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to drain active jobs", slog.String("error", err.Error()))
		return err
	}
	log.Info("all active jobs drained")

	return nil
}

// newStorage selects postgres when DATABASE_URL is set and the in-memory
// store otherwise.
func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, func(), error) {
	if cfg.DatabaseURL == "" {
		return storage.NewMemory(), func() {}, nil
	}

	db, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}

	return storage.NewPostgres(db), func() { db.Close() }, nil
}
