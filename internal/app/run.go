package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"social-oauth/internal/common/logging"
	"social-oauth/internal/config"
	"social-oauth/internal/server"
)

// Run is the main entry point for the service.
func Run() error {
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Prefix: "social-oauth",
	})
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", err)
		return err
	}

	app, err := New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Sweeper.Start(); err != nil {
		logger.Error("failed to start refresh sweeper", err)
		return err
	}

	srv := server.New(app.Router(), cfg.Port, logger)
	if err := srv.Start(); err != nil {
		logger.Error("server failed to start", err)
		return err
	}
	logger.Info("server started",
		logging.String("port", cfg.Port),
		logging.Int("platforms", len(app.Clients)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", err)
		return err
	}

	logger.Info("server exited")
	return nil
}
