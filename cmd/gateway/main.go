package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tanmay/stackgate/internal/analytics"
	"github.com/tanmay/stackgate/internal/config"
	"github.com/tanmay/stackgate/internal/dashboard"
	"github.com/tanmay/stackgate/internal/gateway"
	"github.com/tanmay/stackgate/internal/health"
	"github.com/tanmay/stackgate/internal/logging"
	"github.com/tanmay/stackgate/internal/middleware"
	"github.com/tanmay/stackgate/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the gateway config file")
	flag.Parse()

	// .env is optional; it only seeds GATEWAY_ overrides and ${VAR} secrets.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, os.Stdout, logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := dashboard.NewLogStore(cfg.Dashboard.LogCapacity)
	broker := dashboard.NewBroker(logger)
	traffic := analytics.NewStore(cfg.Analytics.Retention)
	traffic.StartCleanup(ctx, 10*time.Minute)
	healthChecker := health.NewHealthChecker(nil, logger)
	healthChecker.OnStateChange = func(url string, healthy bool) {
		broker.Broadcast("health", map[string]any{"backend": url, "healthy": healthy})
	}

	builder := gateway.Builder{
		Middleware: middleware.NewRegistry(middleware.Deps{Logger: logger, LogStore: store, Traffic: traffic}),
		Handlers:   gateway.DefaultHandlers(gateway.Deps{Logger: logger, Health: healthChecker}),
		Logger:     logger,
	}
	s, err := builder.Build(cfg.Stack)
	if err != nil {
		log.Fatalf("failed to build stack: %v", err)
	}
	fmt.Print(s.String())

	// Proxy entries registered their backends while the stack was built.
	healthChecker.StartBackground(ctx, cfg.HealthCheck.Interval)

	admin := dashboard.NewAPI(s, store, broker, logger).WithTraffic(traffic)

	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: s},
		{Addr: fmt.Sprintf(":%d", cfg.Server.AdminPort), Handler: admin.Handler()},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
