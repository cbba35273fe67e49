package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	httpapi "github.com/vladislavdragonenkov/orders/internal/service/http"
	"github.com/vladislavdragonenkov/orders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

const healthWatchInterval = 10 * time.Second

// Run поднимает gRPC API, REST-шлюз, сервер метрик и фоновые воркеры
// и блокируется до отмены ctx или первой фатальной ошибки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	orchestrator := createOrchestrator(deps, cfg.KafkaEnabled(), metrics.NewOrderMetrics(), logger)

	kafkaRT, err := initKafka(cfg, orchestrator, logger)
	if err != nil {
		return err
	}
	if kafkaRT != nil {
		defer closeKafkaProducer(kafkaRT.producer, logger)
	}

	buildVersion, _, _ := version.Info()
	healthHandler := healthcheck.NewHandler(buildVersion)
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("catalog", deps.catalogChecker)

	grpcServer, healthServer := newGRPCServer(orchestrator, deps, logger)
	httpServer := newHTTPServer(cfg.HTTPAddr, orchestrator, deps, logger)
	metricsServer := newMetricsServer(cfg.MetricsAddr, healthHandler)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", grpcLis.Addr().String()).Info("gRPC server listening")
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return serveHTTP(httpServer, "http", logger) })
	g.Go(func() error { return serveHTTP(metricsServer, "metrics", logger) })
	g.Go(func() error {
		return healthHandler.Watch(gctx, healthServer, healthWatchInterval, grpcsvc.ServiceName)
	})

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	g.Go(func() error { return cleanup.Run(gctx) })

	if kafkaRT != nil {
		relay := outbox.NewWorker(deps.outboxRepo, kafkaRT.publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafkaRT.dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		g.Go(func() error { return relay.Run(gctx) })

		if err := kafkaRT.consumer.Start(gctx); err != nil {
			logger.WithError(err).Error("failed to start kafka consumer")
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()
		shutdownGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(httpServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsServer, cfg.ShutdownTimeout, logger)
		if kafkaRT != nil {
			if err := kafkaRT.consumer.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop kafka consumer")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newGRPCServer(orchestrator orders.Orchestrator, deps *runtimeDependencies, logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := registerServerMetrics(prometheus.DefaultRegisterer, logger)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		grpcsvc.LoggingInterceptor(logger.WithField("layer", "grpc")),
	))

	orderService := grpcsvc.NewOrderService(orchestrator, deps.timelineRepo, deps.idempotencyRepo, logger.WithField("layer", "grpc"))
	grpcsvc.RegisterOrdersServiceServer(server, orderService)

	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

func newHTTPServer(addr string, orchestrator orders.Orchestrator, deps *runtimeDependencies, logger *log.Entry) *http.Server {
	handler := httpapi.NewHandler(orchestrator, deps.timelineRepo, logger.WithField("layer", "http"))
	return &http.Server{
		Addr:              addr,
		Handler:           httpapi.API(handler, gin.ReleaseMode),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newMetricsServer отдаёт /metrics, /healthz, /readyz и /livez.
func newMetricsServer(addr string, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveHTTP(srv *http.Server, name string, logger *log.Entry) error {
	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", name, srv.Addr, err)
	}
	logger.WithFields(log.Fields{"server": name, "addr": lis.Addr().String()}).Info("http server listening")
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func shutdownGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop timed out, forcing grpc server stop")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
