package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
)

// StorageDriver определяет backend хранения.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// CatalogAddr пустой — используется встроенный каталог для разработки.
	CatalogAddr    string
	CatalogTimeout time.Duration

	// StripeSecretKey пустой — платёжные сессии создаёт mock.
	StripeSecretKey  string
	StripeSuccessURL string
	StripeCancelURL  string

	KafkaBrokers       []string
	PaymentsTopic      string
	ConsumerGroup      string
	ConsumerMaxRetries int
	ConsumerRetryDelay time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		CatalogTimeout: catalog.DefaultTimeout,

		PaymentsTopic:      kafka.TopicPaymentsSucceeded,
		ConsumerGroup:      "orders-service",
		ConsumerMaxRetries: 3,
		ConsumerRetryDelay: 200 * time.Millisecond,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfigFromEnv накладывает переменные окружения ORDERS_* и KAFKA_BROKERS на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	env := envReader{lookup: lookup}

	env.str("ORDERS_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("ORDERS_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("ORDERS_METRICS_ADDR", &cfg.MetricsAddr)

	var driver string
	env.str("ORDERS_STORAGE_DRIVER", &driver)
	if driver != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(driver))
	}
	env.str("ORDERS_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("ORDERS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	env.str("ORDERS_CATALOG_ADDR", &cfg.CatalogAddr)
	env.duration("ORDERS_CATALOG_TIMEOUT", &cfg.CatalogTimeout)

	env.str("ORDERS_STRIPE_SECRET_KEY", &cfg.StripeSecretKey)
	env.str("ORDERS_STRIPE_SUCCESS_URL", &cfg.StripeSuccessURL)
	env.str("ORDERS_STRIPE_CANCEL_URL", &cfg.StripeCancelURL)

	var brokers string
	env.str("KAFKA_BROKERS", &brokers)
	cfg.KafkaBrokers = splitList(brokers)
	env.str("ORDERS_PAYMENTS_TOPIC", &cfg.PaymentsTopic)
	env.str("ORDERS_CONSUMER_GROUP", &cfg.ConsumerGroup)
	env.integer("ORDERS_CONSUMER_MAX_RETRIES", &cfg.ConsumerMaxRetries)
	env.duration("ORDERS_CONSUMER_RETRY_DELAY", &cfg.ConsumerRetryDelay)

	env.duration("ORDERS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("ORDERS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("ORDERS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("ORDERS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	env.duration("ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.integer("ORDERS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	env.duration("ORDERS_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("ORDERS_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.CatalogTimeout <= 0 {
		errs = append(errs, errors.New("catalog timeout must be positive"))
	}
	if len(c.KafkaBrokers) > 0 && (c.PaymentsTopic == "" || c.ConsumerGroup == "") {
		errs = append(errs, errors.New("payments topic and consumer group are required with kafka"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled сообщает, настроены ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	raw, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.value(key); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.value(key); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.value(key); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
