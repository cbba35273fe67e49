package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CatalogClient разрешает идентификаторы товаров в авторитетные записи каталога.
type CatalogClient interface {
	// ValidateProducts возвращает найденные товары. Отсутствие товара в ответе
	// означает "не найден"; ошибка означает сбой вызова (ErrUpstreamUnavailable).
	ValidateProducts(ctx context.Context, productIDs []string) ([]ProductSnapshot, error)
}

// PaymentSessionItem — позиция, передаваемая платёжному провайдеру.
type PaymentSessionItem struct {
	Name     string
	Price    decimal.Decimal
	Quantity int32
}

// PaymentSessionRequest — сводка заказа для открытия платёжной сессии.
type PaymentSessionRequest struct {
	OrderID  string
	Currency string
	Items    []PaymentSessionItem
}

// PaymentSession — дескриптор сессии, выданный провайдером. Для оркестратора непрозрачен.
type PaymentSession struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// PaymentSessionInitiator открывает платёжную сессию у внешнего провайдера.
type PaymentSessionInitiator interface {
	CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (PaymentSession, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит исходы CreateOrder по idempotency-key.
type IdempotencyRepository interface {
	// Claim занимает ключ. Если ключ занят, возвращает существующую запись
	// и ErrIdempotencyKeyAlreadyExists либо ErrIdempotencyHashMismatch.
	Claim(claim IdempotencyClaim) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	Complete(key, orderID string, response []byte) error
	Reject(key string, code int, response []byte) error
	// Delete освобождает ключ после временного сбоя, чтобы повтор выполнился заново.
	Delete(key string) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OrderOperation задаёт константы операций для метрик/логов.
type OrderOperation string

const (
	OperationCreate               OrderOperation = "create"
	OperationFindOne              OrderOperation = "find_one"
	OperationFindAll              OrderOperation = "find_all"
	OperationChangeStatus         OrderOperation = "change_status"
	OperationCreatePaymentSession OrderOperation = "create_payment_session"
	OperationOrderPaid            OrderOperation = "order_paid"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
