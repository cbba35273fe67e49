package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OrderItemView — позиция заказа во внешних ответах.
type OrderItemView struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int32           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// ReceiptView — чек оплаченного заказа.
type ReceiptView struct {
	ID         string    `json:"id"`
	ReceiptURL string    `json:"receiptUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OrderView — представление заказа для gRPC и HTTP.
type OrderView struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TotalItems     int32           `json:"totalItems"`
	Paid           bool            `json:"paid"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	StripeChargeID string          `json:"stripeChargeId,omitempty"`
	Items          []OrderItemView `json:"items,omitempty"`
	Receipt        *ReceiptView    `json:"receipt,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// PageMetaView — метаданные страницы. totalPages и lastPage совпадают и не зависят от page.
type PageMetaView struct {
	Total       int `json:"total"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"page"`
	LastPage    int `json:"lastPage"`
}

// OrderPageView — ответ постраничного списка.
type OrderPageView struct {
	Data []OrderView  `json:"data"`
	Meta PageMetaView `json:"meta"`
}

// TimelineEventView — событие истории заказа.
type TimelineEventView struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// NewOrderView переводит доменный заказ во внешнее представление.
func NewOrderView(order domain.Order) OrderView {
	view := OrderView{
		ID:             order.ID,
		Status:         string(order.Status),
		TotalAmount:    order.TotalAmount,
		TotalItems:     order.TotalItems,
		Paid:           order.Paid,
		PaidAt:         order.PaidAt,
		StripeChargeID: order.StripeChargeID,
		Version:        order.Version,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	if len(order.Items) > 0 {
		view.Items = make([]OrderItemView, 0, len(order.Items))
		for _, item := range order.Items {
			view.Items = append(view.Items, OrderItemView{
				ID:        item.ID,
				ProductID: item.ProductID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				Price:     item.Price,
			})
		}
	}
	if order.Receipt != nil {
		view.Receipt = &ReceiptView{
			ID:         order.Receipt.ID,
			ReceiptURL: order.Receipt.ReceiptURL,
			CreatedAt:  order.Receipt.CreatedAt,
		}
	}
	return view
}

// NewOrderPageView переводит страницу заказов во внешнее представление.
func NewOrderPageView(page domain.OrderPage) OrderPageView {
	data := make([]OrderView, 0, len(page.Data))
	for _, order := range page.Data {
		data = append(data, NewOrderView(order))
	}
	return OrderPageView{
		Data: data,
		Meta: PageMetaView{
			Total:       page.Meta.Total,
			TotalPages:  page.Meta.TotalPages,
			CurrentPage: page.Meta.CurrentPage,
			LastPage:    page.Meta.LastPage,
		},
	}
}

// NewTimelineView переводит события истории.
func NewTimelineView(events []domain.TimelineEvent) []TimelineEventView {
	result := make([]TimelineEventView, 0, len(events))
	for _, event := range events {
		result = append(result, TimelineEventView{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return result
}
