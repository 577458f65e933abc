package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-api/internal/app"
	"github.com/jwalitptl/clinic-api/internal/config"
	appointmentHandler "github.com/jwalitptl/clinic-api/internal/handler/appointment"
	"github.com/jwalitptl/clinic-api/internal/handler/availability"
	chatHandler "github.com/jwalitptl/clinic-api/internal/handler/chat"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	promHandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/router"
	appointmentService "github.com/jwalitptl/clinic-api/internal/service/appointment"
	chatService "github.com/jwalitptl/clinic-api/internal/service/chat"
	eventService "github.com/jwalitptl/clinic-api/internal/service/event"
	slotService "github.com/jwalitptl/clinic-api/internal/service/slot"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)
	m := metrics.NewMetrics(prometheus.DefaultRegisterer, "clinic")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.NewInfra(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialise storage: %w", err)
	}
	defer infra.Close()

	if err := middleware.RegisterValidators(); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	// Services
	events := eventService.NewService(infra.Outbox, log)
	slots := slotService.NewService(infra.Slots, infra.Locker, log, m).WithEvents(events)
	appointments := appointmentService.NewService(infra.Appointments, slots, infra.Locker, events, log, m)
	coordinator := chatService.NewCoordinator(
		chatService.NewRegistry(),
		appointments,
		infra.Locker,
		chatService.NewHistory(infra.Messages, m),
		cfg.Chat.SendBuffer,
		log,
		m,
	)

	// Handlers
	tokens := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)
	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowOrigins) > 0 {
		cors.AllowOrigins = cfg.CORS.AllowOrigins
	}

	r := router.NewRouter(
		middleware.NewAuthMiddleware(tokens),
		m,
		[]router.Handler{
			health.NewHandler(infra.Checks()),
			promHandler.New(prometheus.DefaultGatherer),
		},
		[]router.Handler{
			availability.NewHandler(slots),
			appointmentHandler.NewHandler(appointments),
			chatHandler.NewHandler(coordinator, chatHandler.Config{
				WriteWait:      cfg.Chat.WriteWait,
				PongWait:       cfg.Chat.PongWait,
				MaxMessageSize: cfg.Chat.MaxMessageSize,
				CheckOrigin:    middleware.OriginAllowed(cors),
			}, log),
		},
		router.RouterConfig{
			Mode:           cfg.Server.Mode,
			RateLimit:      rate.Limit(cfg.RateLimit.Rate),
			RateBurst:      cfg.RateLimit.Burst,
			RateLimitOff:   !cfg.RateLimit.Enabled,
			RequestTimeout: cfg.Server.RequestTimeout,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			CORSConfig:     cors,
		},
	)
	r.Setup()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.WatchAppointments(ctx, infra.Broker, cfg.Outbox.ChannelPrefix, coordinator, log); err != nil {
			log.Error(err, "appointment watch stopped")
		}
	}()
	if cfg.Outbox.Inline {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.RunOutbox(ctx, cfg.Outbox, infra, log, m); err != nil {
				log.Error(err, "outbox workers stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "storage", cfg.Storage.Driver, "lock", cfg.Lock.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
	}
	wg.Wait()

	log.Info("server exited properly")
	return nil
}
