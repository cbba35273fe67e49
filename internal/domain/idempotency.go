package domain

import (
	"strings"
	"time"
)

// IdempotencyState — стадия обработки запроса, занявшего ключ.
type IdempotencyState string

const (
	// IdempotencyInFlight — первый запрос с ключом ещё выполняется.
	IdempotencyInFlight IdempotencyState = "in_flight"
	// IdempotencyCompleted — заказ оформлен, ответ сохранён.
	IdempotencyCompleted IdempotencyState = "completed"
	// IdempotencyRejected — запрос отклонён детерминированно, повтор получит тот же отказ.
	IdempotencyRejected IdempotencyState = "rejected"
)

// Valid проверяет, что стадия относится к поддерживаемым значениям.
func (s IdempotencyState) Valid() bool {
	switch s {
	case IdempotencyInFlight, IdempotencyCompleted, IdempotencyRejected:
		return true
	default:
		return false
	}
}

// IdempotencyClaim — заявка на ключ: какой метод и с каким телом запроса его занимает.
type IdempotencyClaim struct {
	Key         string
	Method      string
	RequestHash string
	ExpiresAt   time.Time
}

// Normalize обрезает пробелы и проверяет обязательные поля заявки.
// Пустой ExpiresAt заменяется на now+ttl.
func (c IdempotencyClaim) Normalize(now time.Time, ttl time.Duration) (IdempotencyClaim, error) {
	c.Key = strings.TrimSpace(c.Key)
	c.Method = strings.TrimSpace(c.Method)
	c.RequestHash = strings.TrimSpace(c.RequestHash)
	switch {
	case c.Key == "":
		return IdempotencyClaim{}, ErrIdempotencyKeyRequired
	case c.RequestHash == "":
		return IdempotencyClaim{}, ErrIdempotencyRequestHashRequired
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = now.Add(ttl)
	}
	return c, nil
}

// IdempotencyRecord фиксирует исход первого запроса с данным ключом.
type IdempotencyRecord struct {
	Key         string
	Method      string
	RequestHash string
	State       IdempotencyState
	// OrderID — заказ, созданный запросом. По нему повтор перечитывает актуальное состояние.
	OrderID string
	// Response — JSON успешного ответа либо описание отказа.
	Response []byte
	// Code — gRPC-код отказа, 0 для успешного исхода.
	Code      int
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conflict возвращает ошибку для повторной заявки на уже занятый ключ.
// Другой метод или другое тело запроса считаются переиспользованием ключа.
func (r IdempotencyRecord) Conflict(claim IdempotencyClaim) error {
	if r.Method != claim.Method || r.RequestHash != claim.RequestHash {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Expired сообщает, что срок хранения записи истёк к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
