package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// createOrchestrator собирает оркестратор заказов. Outbox подключается только
// вместе с Kafka: без брокера события некому доставлять.
func createOrchestrator(deps *runtimeDependencies, withOutbox bool, m *metrics.OrderMetrics, logger *log.Entry) orders.Orchestrator {
	opts := []orders.Option{
		orders.WithLogger(logger.WithField("component", "orders")),
		orders.WithTimeline(deps.timelineRepo),
	}
	if m != nil {
		opts = append(opts, orders.WithMetrics(m))
	}
	if withOutbox {
		opts = append(opts, orders.WithOutbox(deps.outboxRepo))
	}
	return orders.NewOrchestrator(deps.repo, deps.catalog, deps.payments, opts...)
}
