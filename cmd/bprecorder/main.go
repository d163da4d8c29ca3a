package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roysummy-dev/BPRecorder/internal/config"
	"github.com/roysummy-dev/BPRecorder/internal/domain/labtest"
	"github.com/roysummy-dev/BPRecorder/internal/domain/vitals"
	"github.com/roysummy-dev/BPRecorder/internal/platform/filestore"
	"github.com/roysummy-dev/BPRecorder/internal/platform/logging"
	"github.com/roysummy-dev/BPRecorder/internal/platform/middleware"
	"github.com/roysummy-dev/BPRecorder/internal/platform/validation"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bprecorder",
		Short:         "Personal blood-test journal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(recordsCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(schemesCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(chartCmd())

	return rootCmd
}

// app holds what every command needs: configuration, a logger and the
// loaded record collection.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	labs   *labtest.Service
}

func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Options{
		Env:        cfg.Env,
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}, logOut)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if err := appFS.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store := filestore.NewAtomicFile(appFS, cfg.DataPath())
	repo := labtest.NewFileRepository(store, loc)
	labs := labtest.NewService(repo, logger,
		labtest.WithLocation(loc),
		labtest.WithStrictDates(cfg.StrictDates),
	)
	if err := labs.Refresh(ctx); err != nil {
		return nil, err
	}
	logger.Debug().
		Str("path", cfg.DataPath()).
		Int("records", len(labs.Records())).
		Msg("record collection loaded")

	return &app{cfg: cfg, logger: logger, labs: labs}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// newRouter builds the echo instance with global middleware and every
// domain handler registered under /api/v1.
func newRouter(a *app, vitalsSvc *vitals.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit, a.cfg.ImportLimit, "/api/v1/imports"))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	apiV1 := e.Group("/api/v1")
	labtest.NewHandler(a.labs).RegisterRoutes(apiV1)
	vitals.NewHandler(vitalsSvc).RegisterRoutes(apiV1)

	return e
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, os.Stdout)
	if err != nil {
		return err
	}
	logger := a.logger

	vitalsSvc := vitals.NewService(vitals.NewMemoryStore(), logger)
	e := newRouter(a, vitalsSvc)

	// Graceful shutdown
	go func() {
		addr := a.cfg.Addr()
		logger.Info().Str("addr", addr).Str("data", a.cfg.DataPath()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
