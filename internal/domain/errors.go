package domain

import "errors"

// Классы ошибок оркестрации. Транспортный слой отображает их в коды ответа,
// логирование и метрики используют их как стабильные метки.
var (
	// ErrValidationFailed — некорректный или неразрешимый клиентский ввод.
	ErrValidationFailed = errors.New("validation failed")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUpstreamUnavailable — удалённый сервис недоступен или не ответил вовремя. Можно повторить.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrPersistenceFailed — ошибка транзакции хранилища.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrDataInconsistency — сохранённые данные расходятся с каталогом.
	ErrDataInconsistency = errors.New("data inconsistency")
)

var (
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total_amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total_amount does not match items sum")
	// Ошибка несоответствия количества товаров.
	ErrTotalItemsMismatch = errors.New("order total_items does not match items quantity")
	// Оплаченный заказ обязан ссылаться на платёж провайдера.
	ErrStripeChargeRequired = errors.New("paid order must have stripe charge id")
	// Неизвестное значение статуса.
	ErrOrderStatusInvalid = errors.New("order status is invalid")
	// ErrProductNotFound — запрошенного товара нет в ответе каталога.
	ErrProductNotFound = errors.New("product not found in catalog")
	// ErrStatusTransitionDenied — переход запрещён политикой статусов.
	ErrStatusTransitionDenied = errors.New("status transition denied")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var (
	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим запросом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — записи с таким ключом нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// ErrorKind — стабильная метка класса ошибки для логов и метрик.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindValidationFailed    ErrorKind = "validation_failed"
	KindNotFound            ErrorKind = "not_found"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindPersistenceFailed   ErrorKind = "persistence_failed"
	KindDataInconsistency   ErrorKind = "data_inconsistency"
	KindInternal            ErrorKind = "internal"
)

// KindOf классифицирует ошибку по таксономии оркестратора.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, ErrOrderNotFound):
		return KindNotFound
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrPersistenceFailed):
		return KindPersistenceFailed
	case errors.Is(err, ErrDataInconsistency):
		return KindDataInconsistency
	default:
		return KindInternal
	}
}

// IsRetryable сообщает, может ли повтор того же запроса завершиться иначе.
// Отказ валидации и отсутствующий заказ детерминированы, остальные классы временные.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNone, KindValidationFailed, KindNotFound:
		return false
	default:
		return true
	}
}

// PublicMessage возвращает текст ошибки для клиента. Детали сбоев хранилища
// и внутренних ошибок наружу не отдаются, они есть в логах.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindValidationFailed, KindNotFound:
		return err.Error()
	case KindUpstreamUnavailable:
		return "upstream service unavailable, retry later"
	case KindPersistenceFailed:
		return "failed to persist order, check logs"
	default:
		return "internal error, check logs"
	}
}
