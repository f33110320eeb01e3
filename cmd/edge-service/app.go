package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taiga/internal/broker"
	"taiga/internal/config"
	"taiga/internal/constants"
	"taiga/internal/edge"
	"taiga/internal/logger"
	"taiga/internal/uri"
	"taiga/pkg/bootstrap"
	"taiga/pkg/logging"
	"taiga/pkg/metrics"
	"taiga/pkg/middleware"
	"taiga/pkg/ratelimit"
	"taiga/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("edge-service")
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	producer, err := broker.NewProducer(a.Config.Broker, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	a.Producer = producer

	tp, err := tracing.Init(a.Config.Tracing, "edge-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterEdgeMetrics()
	metrics.RegisterBrokerMetrics()

	a.initHTTPServer()

	return nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RecoveryMiddleware(a.Logger))
	engine.Use(middleware.LoggerMiddleware(a.Logger))
	engine.Use(middleware.RequestIDMiddleware())
	if a.Config.Tracing.Enabled {
		engine.Use(tracing.GinMiddleware("edge-service"))
	}

	if a.Config.Edge.RateLimit.Enabled {
		rlConfig := ratelimit.DefaultConfig()
		if a.Config.Edge.RateLimit.RPS > 0 {
			rlConfig.RPS = a.Config.Edge.RateLimit.RPS
		}
		if a.Config.Edge.RateLimit.Burst > 0 {
			rlConfig.Burst = a.Config.Edge.RateLimit.Burst
		}
		if a.Config.Edge.RateLimit.CleanupInterval > 0 {
			rlConfig.CleanupInterval = time.Duration(a.Config.Edge.RateLimit.CleanupInterval) * time.Second
		}
		if a.Config.Edge.RateLimit.MaxAge > 0 {
			rlConfig.MaxAge = time.Duration(a.Config.Edge.RateLimit.MaxAge) * time.Second
		}
		engine.Use(ratelimit.RateLimitMiddleware(rlConfig))
	}

	rawTopic := a.Config.Broker.Kafka.RawTopic
	if rawTopic == "" {
		rawTopic = constants.DefaultRawTopic
	}

	handler := edge.NewHandler(uri.NewRouter(a.Config.Decoder.Namespaces), a.Producer, rawTopic, a.Logger)
	handler.RegisterRoutes(engine)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      engine,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
	}
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return a.Shutdown(context.Background())
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "edge-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down edge service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
