package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
// Значения констант являются внешним контрактом и передаются клиентам как есть.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid — оплата подтверждена платёжным провайдером.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — идентификатор товара в каталоге.
	ProductID string
	// Quantity — количество единиц товара.
	Quantity int32
	// Price — цена за единицу из каталога на момент создания заказа.
	Price decimal.Decimal
	// Name подтягивается из каталога при каждом чтении и не хранится в БД.
	Name string
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// MoneyScale — число знаков после запятой в денежных колонках хранилища.
const MoneyScale int32 = 2

// RoundMoney приводит сумму к MoneyScale. Округление половины от нуля, как у NUMERIC.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// Subtotal возвращает стоимость позиции: price * quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt32(i.Quantity))
}

// OrderReceipt хранит ссылку на чек, выданный платёжным провайдером.
type OrderReceipt struct {
	ID         string
	OrderID    string
	ReceiptURL string
	CreatedAt  time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	Status      OrderStatus
	TotalAmount decimal.Decimal
	TotalItems  int32
	Paid        bool
	PaidAt      *time.Time
	// StripeChargeID пустой, пока оплата не подтверждена.
	StripeChargeID string
	Items          []OrderItem
	Receipt        *OrderReceipt
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProductIDs возвращает уникальные идентификаторы товаров в порядке первого появления.
func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return UniqueIDs(ids)
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем итоги заказа с позициями: сумма price * quantity и сумма quantity.
	calcAmount := decimal.Zero
	var calcItems int32
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calcAmount = calcAmount.Add(item.Subtotal())
		calcItems += item.Quantity
	}
	if !calcAmount.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}
	if calcItems != o.TotalItems {
		errs = append(errs, ErrTotalItemsMismatch)
	}

	if o.Paid && o.StripeChargeID == "" {
		errs = append(errs, ErrStripeChargeRequired)
	}

	return errs
}

// ProductSnapshot — авторитетная запись каталога о товаре. В БД не хранится.
type ProductSnapshot struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// ProductIndex индексирует ответ каталога по идентификатору товара.
type ProductIndex map[string]ProductSnapshot

// NewProductIndex строит индекс; при дублях побеждает последняя запись.
func NewProductIndex(products []ProductSnapshot) ProductIndex {
	index := make(ProductIndex, len(products))
	for _, product := range products {
		index[product.ID] = product
	}
	return index
}

// Missing возвращает идентификаторы, которых нет в индексе.
func (idx ProductIndex) Missing(ids []string) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := idx[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// UniqueIDs схлопывает дубли, сохраняя порядок первого появления.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
