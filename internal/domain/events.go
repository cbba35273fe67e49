package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Типы событий transactional outbox. Значения попадают в заголовок event_type сообщений Kafka.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderPaid          = "order.paid"
)

// OrderEvent — полезная нагрузка событий заказа в outbox.
type OrderEvent struct {
	OrderID        string          `json:"order_id"`
	Status         OrderStatus     `json:"status"`
	PreviousStatus OrderStatus     `json:"previous_status,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalItems     int32           `json:"total_items"`
	Paid           bool            `json:"paid"`
	StripeChargeID string          `json:"stripe_charge_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// NewOrderEvent снимает состояние заказа для публикации.
func NewOrderEvent(order Order, previous OrderStatus, occurred time.Time) OrderEvent {
	return OrderEvent{
		OrderID:        order.ID,
		Status:         order.Status,
		PreviousStatus: previous,
		TotalAmount:    order.TotalAmount,
		TotalItems:     order.TotalItems,
		Paid:           order.Paid,
		StripeChargeID: order.StripeChargeID,
		OccurredAt:     occurred.UTC(),
	}
}
