package orders

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const aggregateOrder = "order"

// emitEvent пишет событие в outbox и timeline. Ошибки только логируются:
// основная операция к этому моменту уже зафиксирована в хранилище.
func (o *orchestrator) emitEvent(order domain.Order, eventType, timelineType string, previous domain.OrderStatus, reason string) {
	occurred := o.now()
	fields := log.Fields{
		"order_id": order.ID,
		"event":    eventType,
	}

	if o.outbox != nil {
		payload, err := json.Marshal(domain.NewOrderEvent(order, previous, occurred))
		if err != nil {
			o.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else if _, err := o.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       payload,
		}); err != nil {
			o.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		} else if o.metrics != nil {
			o.metrics.RecordOutboxEvent()
		}
	}

	if o.timeline != nil {
		if err := o.timeline.Append(domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     timelineType,
			Reason:   reason,
			Occurred: occurred,
		}); err != nil {
			o.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else if o.metrics != nil {
			o.metrics.RecordTimelineEvent()
		}
	}
}
