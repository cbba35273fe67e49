package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics — метрики оркестратора заказов.
type OrderMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	inFlight          prometheus.Gauge

	ordersCreated      prometheus.Counter
	statusChanges      *prometheus.CounterVec
	paymentsApplied    prometheus.Counter
	paymentsDuplicated prometheus.Counter
	paymentSessions    *prometheus.CounterVec
	catalogMisses      prometheus.Counter

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в registry по умолчанию.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		operations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_operations_total",
			Help: "Orchestrator operations by name and outcome kind",
		}, []string{"operation", "outcome"})),
		operationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orders_operation_duration_seconds",
			Help:    "Duration of orchestrator operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orders_operations_in_flight",
			Help: "Number of orchestrator operations currently executing",
		})),
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders persisted",
		})),
		statusChanges: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_status_changes_total",
			Help: "Order status changes by target status",
		}, []string{"status"})),
		paymentsApplied: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_payments_applied_total",
			Help: "Payment confirmations that marked an order paid",
		})),
		paymentsDuplicated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_payments_duplicate_total",
			Help: "Payment confirmations ignored because the order was already paid",
		})),
		paymentSessions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_payment_sessions_total",
			Help: "Payment session initiations by result",
		}, []string{"result"})),
		catalogMisses: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_catalog_missing_products_total",
			Help: "Stored order items whose product is absent from the catalog",
		})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// ObserveOperation фиксирует завершение операции с классом результата (пустой — успех).
func (m *OrderMetrics) ObserveOperation(operation, kind string, duration time.Duration) {
	outcome := kind
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// OperationStarted увеличивает число выполняющихся операций.
func (m *OrderMetrics) OperationStarted() {
	m.inFlight.Inc()
}

// OperationFinished уменьшает число выполняющихся операций.
func (m *OrderMetrics) OperationFinished() {
	m.inFlight.Dec()
}

func (m *OrderMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

func (m *OrderMetrics) RecordStatusChange(status string) {
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordPayment учитывает подтверждение оплаты: применённое или дубликат.
func (m *OrderMetrics) RecordPayment(applied bool) {
	if applied {
		m.paymentsApplied.Inc()
		return
	}
	m.paymentsDuplicated.Inc()
}

func (m *OrderMetrics) RecordPaymentSession(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.paymentSessions.WithLabelValues(result).Inc()
}

func (m *OrderMetrics) RecordCatalogMiss(count int) {
	m.catalogMisses.Add(float64(count))
}

func (m *OrderMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

func (m *OrderMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
