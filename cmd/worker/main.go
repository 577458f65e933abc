package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-api/internal/app"
	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	promHandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

func main() {
	var (
		configPath string
		healthAddr  string
	)

	cmd := &cobra.Command{
		Use:   "clinic-worker",
		Short: "Deliver outbox events to the broker and prune processed rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if configPath != "" {
				cfg, err = config.LoadConfig(configPath)
			} else {
				cfg, err = config.LoadConfig()
			}
			if err != nil {
				return err
			}
			return run(cfg, healthAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "directory containing config.yml")
	cmd.Flags().StringVar(&healthAddr, "health-addr", ":8081", "listen address for health and metrics")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, healthAddr string) error {
	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)
	m := metrics.NewMetrics(prometheus.DefaultRegisterer, "clinic")

	// the in-memory outbox lives inside the API process
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("worker requires storage.driver postgres, got %q", cfg.Storage.Driver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.NewInfra(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialise storage: %w", err)
	}
	defer infra.Close()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery())
	ops := engine.Group("")
	health.NewHandler(infra.Checks()).RegisterRoutes(ops)
	promHandler.New(prometheus.DefaultGatherer).RegisterRoutes(ops)

	srv := &http.Server{Addr: healthAddr, Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "health server failed")
		}
	}()

	log.Info("starting outbox worker", "health_addr", healthAddr)
	if err := app.RunOutbox(ctx, cfg.Outbox, infra, log, m); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "health server forced to shutdown")
	}

	log.Info("worker stopped")
	return nil
}
