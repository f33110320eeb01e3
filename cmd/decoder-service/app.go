package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"taiga/internal/config"
	"taiga/internal/constants"
	"taiga/internal/dedupe"
	"taiga/internal/logger"
	"taiga/internal/pipeline"
	"taiga/pkg/bootstrap"
	"taiga/pkg/health"
	"taiga/pkg/logging"
	"taiga/pkg/metrics"
	"taiga/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	service        *pipeline.Service
	snapshotStore  dedupe.SnapshotStore
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("decoder-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := a.InitBroker("decoder-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "decoder-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDecoderMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()

	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	return nil
}

func (a *App) initService(ctx context.Context) error {
	svc, err := pipeline.NewService(a.Config.Decoder, a.Config.Broker.Kafka, a.Producer, a.Logger)
	if err != nil {
		return err
	}
	a.service = svc

	if a.redis != nil && svc.Filter() != nil {
		store := dedupe.NewCircuitBreakerStore(dedupe.NewRedisStore(a.redis), a.Config.CircuitBreaker)
		a.snapshotStore = store

		if err := svc.Filter().Restore(ctx, store); err != nil {
			initCtx := logging.WithServiceName(ctx, "decoder-service")
			a.Logger.WarnwCtx(initCtx, "Failed to restore dedupe snapshots, starting cold",
				"error", err,
			)
		}
	}

	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	if a.snapshotStore != nil {
		interval := time.Duration(a.Config.Decoder.Dedupe.SnapshotIntervalSeconds) * time.Second
		g.Go(func() error {
			a.service.Filter().RunSnapshots(gCtx, a.snapshotStore, interval, a.Logger)
			return nil
		})
	}

	rawTopic := a.Config.Broker.Kafka.RawTopic
	if rawTopic == "" {
		rawTopic = constants.DefaultRawTopic
	}

	g.Go(func() error {
		return a.Consumer.Consume(gCtx, rawTopic, a.service.Handle)
	})

	runErr := g.Wait()

	if err := a.Shutdown(context.Background()); err != nil {
		a.Logger.Errorw("Shutdown finished with errors", "error", err)
	}

	return runErr
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "decoder-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down decoder service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.service != nil {
			if err := a.service.Close(); err != nil {
				errs = append(errs, fmt.Errorf("pipeline close error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(a.redis)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
