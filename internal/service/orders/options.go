package orders

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

// TransitionPolicy решает, допустим ли переход статуса. nil-ошибка разрешает переход.
type TransitionPolicy func(from, to domain.OrderStatus) error

// AllowAllTransitions — политика по умолчанию: любой переход разрешён.
func AllowAllTransitions(domain.OrderStatus, domain.OrderStatus) error {
	return nil
}

// Option настраивает оркестратор.
type Option func(*orchestrator)

// WithLogger задаёт логгер оркестратора.
func WithLogger(logger *log.Entry) Option {
	return func(o *orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает метрики. Без опции метрики не пишутся.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(o *orchestrator) {
		o.metrics = m
	}
}

// WithOutbox включает запись событий в transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(o *orchestrator) {
		o.outbox = outbox
	}
}

// WithTimeline включает запись истории заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(o *orchestrator) {
		o.timeline = timeline
	}
}

// WithTransitionPolicy подключает ограничения на переходы статусов.
func WithTransitionPolicy(policy TransitionPolicy) Option {
	return func(o *orchestrator) {
		if policy != nil {
			o.policy = policy
		}
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
