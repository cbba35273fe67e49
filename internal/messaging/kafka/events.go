package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	// TopicPaymentsSucceeded — подтверждения оплаты от платёжного сервиса.
	TopicPaymentsSucceeded = "payments.succeeded"
	// TopicOrderEvents — события заказа из transactional outbox.
	TopicOrderEvents = "orders.events"
	// TopicDeadLetterQueue — сообщения, которые не удалось обработать или опубликовать.
	TopicDeadLetterQueue = "orders.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "event_type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ErrPermanent помечает ошибку, которую бессмысленно повторять: сообщение сразу уходит в DLQ.
var ErrPermanent = errors.New("permanent message failure")

// PaymentSucceededEvent — событие payment.succeeded от платёжного сервиса.
type PaymentSucceededEvent struct {
	StripeID   string `json:"stripeId"`
	OrderID    string `json:"orderId"`
	ReceiptURL string `json:"receiptUrl"`
}

// Envelope — формат сообщений в topic событий заказа.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DLQMessage — исходное сообщение consumer'а с причиной отказа.
type DLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// ParsePaymentSucceeded разбирает подтверждение оплаты. Битый JSON — постоянная ошибка.
func ParsePaymentSucceeded(message *sarama.ConsumerMessage) (PaymentSucceededEvent, error) {
	var event PaymentSucceededEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return PaymentSucceededEvent{}, fmt.Errorf("%w: unmarshal payment event: %w", ErrPermanent, err)
	}
	return event, nil
}

// ParseEnvelope разбирает событие заказа из topic orders.events.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return envelope, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
