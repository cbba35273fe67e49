package app

import (
	"context"
	"errors"
	"fmt"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders/internal/service/payment"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

// runtimeDependencies — хранилища и внешние клиенты, собранные по конфигурации.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	catalog  domain.CatalogClient
	payments domain.PaymentSessionInitiator

	storageChecker healthcheck.Checker
	catalogChecker healthcheck.Checker

	closers []func() error
}

// closeFn закрывает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) closeFn() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}
	if err := initStorage(ctx, cfg, deps, logger); err != nil {
		return nil, err
	}
	if err := initCatalog(cfg, deps, logger); err != nil {
		_ = deps.closeFn()
		return nil, err
	}
	initPayments(cfg, deps, logger)
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		deps.repo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.storageChecker = healthcheck.NewChecker("storage", func(context.Context) error { return nil })
		logger.Info("using in-memory storage")
		return nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres storage requires ORDERS_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("init postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.storageChecker = healthcheck.NewChecker("storage", store.Ping)
		deps.closers = append(deps.closers, store.Close)
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initCatalog(cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	catalogLogger := logger.WithField("component", "catalog-client")
	if cfg.CatalogAddr == "" {
		static := catalog.NewStatic(catalog.DevelopmentProducts()...)
		deps.catalog = static
		deps.catalogChecker = healthcheck.NewOptionalChecker("catalog", func(context.Context) error { return nil })
		catalogLogger.Warn("ORDERS_CATALOG_ADDR is empty, using built-in development catalog")
		return nil
	}

	clientMetrics := registerClientMetrics(prometheus.DefaultRegisterer)
	client, err := catalog.Dial(cfg.CatalogAddr, cfg.CatalogTimeout, catalogLogger,
		grpc.WithChainUnaryInterceptor(clientMetrics.UnaryClientInterceptor()),
	)
	if err != nil {
		return fmt.Errorf("dial catalog: %w", err)
	}
	deps.catalog = client
	deps.catalogChecker = healthcheck.NewOptionalChecker("catalog", func(ctx context.Context) error {
		_, err := client.ValidateProducts(ctx, []string{"healthcheck"})
		return err
	})
	deps.closers = append(deps.closers, client.Close)
	catalogLogger.WithFields(log.Fields{
		"addr":    cfg.CatalogAddr,
		"timeout": cfg.CatalogTimeout,
	}).Info("catalog client configured")
	return nil
}

func initPayments(cfg Config, deps *runtimeDependencies, logger *log.Entry) {
	paymentLogger := logger.WithField("component", "payments")
	if cfg.StripeSecretKey == "" {
		deps.payments = payment.NewMockInitiator()
		paymentLogger.Warn("ORDERS_STRIPE_SECRET_KEY is empty, payment sessions are mocked")
		return
	}
	deps.payments = payment.NewStripeInitiator(payment.StripeConfig{
		SecretKey:  cfg.StripeSecretKey,
		SuccessURL: cfg.StripeSuccessURL,
		CancelURL:  cfg.StripeCancelURL,
	}, paymentLogger)
}

func registerClientMetrics(registerer prometheus.Registerer) *promgrpc.ClientMetrics {
	clientMetrics := promgrpc.NewClientMetrics()
	if err := registerer.Register(clientMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ClientMetrics); ok {
				return existing
			}
		}
	}
	return clientMetrics
}

func registerServerMetrics(registerer prometheus.Registerer, logger *log.Entry) *promgrpc.ServerMetrics {
	serverMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(serverMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return serverMetrics
}
