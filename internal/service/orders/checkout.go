package orders

import (
	"context"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// PlacedOrder — результат оформления: заказ и, если удалось, платёжная сессия.
type PlacedOrder struct {
	Order          domain.Order
	PaymentSession *domain.PaymentSession
	// PaymentErr заполнен, если заказ сохранён, а сессию открыть не удалось.
	// Клиент может повторить открытие сессии по идентификатору заказа.
	PaymentErr error
}

// PlaceOrder создаёт заказ и сразу открывает для него платёжную сессию.
// Ошибка возвращается только если заказ не создан.
func PlaceOrder(ctx context.Context, o Orchestrator, req CreateOrderRequest) (PlacedOrder, error) {
	order, err := o.Create(ctx, req)
	if err != nil {
		return PlacedOrder{}, err
	}

	placed := PlacedOrder{Order: order}
	session, err := o.CreatePaymentSession(ctx, order)
	if err != nil {
		placed.PaymentErr = err
		return placed, nil
	}
	placed.PaymentSession = &session
	return placed, nil
}

// PlacedOrderView — ответ на оформление заказа.
type PlacedOrderView struct {
	Order               OrderView              `json:"order"`
	PaymentSession      *domain.PaymentSession `json:"paymentSession,omitempty"`
	PaymentSessionError string                 `json:"paymentSessionError,omitempty"`
}

// NewPlacedOrderView переводит результат оформления во внешнее представление.
func NewPlacedOrderView(placed PlacedOrder) PlacedOrderView {
	view := PlacedOrderView{
		Order:          NewOrderView(placed.Order),
		PaymentSession: placed.PaymentSession,
	}
	if placed.PaymentErr != nil {
		view.PaymentSessionError = domain.PublicMessage(placed.PaymentErr)
	}
	return view
}
