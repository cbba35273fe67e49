package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// PaymentConfirmer применяет подтверждение оплаты к заказу.
type PaymentConfirmer interface {
	OrderPaid(ctx context.Context, req orders.PaidOrderRequest) (domain.Order, error)
}

// NewPaymentSucceededHandler возвращает обработчик topic payments.succeeded.
// Неповторяемые ошибки (валидация, отсутствующий заказ) считаются постоянными.
func NewPaymentSucceededHandler(confirmer PaymentConfirmer, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payments-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParsePaymentSucceeded(message)
		if err != nil {
			return err
		}

		order, err := confirmer.OrderPaid(ctx, orders.PaidOrderRequest{
			StripeID:   event.StripeID,
			OrderID:    event.OrderID,
			ReceiptURL: event.ReceiptURL,
		})
		if err != nil {
			if !domain.IsRetryable(err) {
				return fmt.Errorf("%w: %w", ErrPermanent, err)
			}
			return err
		}

		logger.WithFields(log.Fields{
			"order_id":  order.ID,
			"charge_id": order.StripeChargeID,
		}).Info("payment confirmation applied")
		return nil
	}
}
