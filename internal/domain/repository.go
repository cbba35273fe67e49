package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
// Реализации возвращают ErrOrderNotFound для отсутствующих заказов,
// прочие ошибки считаются сбоями хранилища.
type OrderRepository interface {
	// CreateWithItems атомарно сохраняет заказ вместе со всеми позициями.
	CreateWithItems(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ с позициями и чеком.
	Get(ctx context.Context, id string) (Order, error)
	// CountByStatus считает заказы, подходящие под фильтр.
	CountByStatus(ctx context.Context, filter OrderFilter) (int, error)
	// ListPage возвращает страницу заказов без позиций, от новых к старым.
	ListPage(ctx context.Context, filter OrderFilter, offset, limit int) ([]Order, error)
	// UpdateStatus меняет только статус заказа и возвращает обновлённый заказ.
	UpdateStatus(ctx context.Context, id string, status OrderStatus) (Order, error)
	// ApplyPayment атомарно отмечает заказ оплаченным и создаёт чек.
	// Если заказ уже оплачен, ничего не меняет и возвращает Applied=false.
	ApplyPayment(ctx context.Context, payment PaymentConfirmation) (PaymentOutcome, error)
}

// PaymentOutcome — результат применения подтверждения оплаты.
type PaymentOutcome struct {
	Order Order
	// Previous — статус заказа до применения оплаты, прочитанный под той же блокировкой.
	Previous OrderStatus
	Applied  bool
}

// PaymentConfirmation — подтверждение оплаты от платёжного провайдера.
type PaymentConfirmation struct {
	OrderID        string
	StripeChargeID string
	ReceiptURL     string
}
