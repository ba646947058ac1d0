// Package processor runs the thumbnail job service the scheduler posts to.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"image-store/internal/config"
	job_h "image-store/internal/http-server/handler/job"
	"image-store/internal/http-server/router"
	processor_uc "image-store/internal/usecase/processor"

	"github.com/wb-go/wbf/zlog"
)

type App struct {
	cfg    *config.Config
	server *http.Server
	logger *zlog.Zerolog
}

func NewApp(cfg *config.Config, logger *zlog.Zerolog) (*App, error) {
	imageProcessor, err := processor_uc.NewImageProcessor(cfg.Processor.OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create image processor: %w", err)
	}

	jobHandler := job_h.NewJobHandler(imageProcessor, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Processor.ListenAddr,
		Handler:      router.SetupProcessorRouter(cfg.Processor.JobPath, jobHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{cfg: cfg, server: server, logger: logger}, nil
}

func (a *App) Run() error {
	a.logger.Info().
		Str("addr", a.cfg.Processor.ListenAddr).
		Str("job_path", a.cfg.Processor.JobPath).
		Str("output_dir", a.cfg.Processor.OutputDir).
		Msg("Starting image processor")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		a.logger.Error().Err(err).Msg("Server error")
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down image processor")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// in-flight jobs finish inside Shutdown
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	a.logger.Info().Msg("Image processor stopped")
	return nil
}
