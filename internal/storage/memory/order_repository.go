package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
// Один мьютекс сериализует все записи, поэтому создание заказа и подтверждение
// оплаты видны конкурентным читателям только целиком.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	// receipts индексирует чеки по order_id (1:1 с заказом).
	receipts map[string]domain.OrderReceipt
	now      func() time.Time
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		orders:   make(map[string]domain.Order),
		receipts: make(map[string]domain.OrderReceipt),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateWithItems сохраняет заказ с позициями, если ID ещё не занят.
func (r *orderRepositoryInMemory) CreateWithItems(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if _, exists := r.orders[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	order.Items = cloneItems(order.Items)
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		if order.Items[i].CreatedAt.IsZero() {
			order.Items[i].CreatedAt = order.CreatedAt
		}
		// Имя товара не хранится вместе с позицией.
		order.Items[i].Name = ""
	}
	order.Receipt = nil

	r.orders[order.ID] = order
	return cloneOrder(order), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.getLocked(id)
}

func (r *orderRepositoryInMemory) getLocked(id string) (domain.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	result := cloneOrder(order)
	if receipt, ok := r.receipts[id]; ok {
		result.Receipt = &receipt
	}
	return result, nil
}

// CountByStatus считает заказы, подходящие под фильтр.
func (r *orderRepositoryInMemory) CountByStatus(ctx context.Context, filter domain.OrderFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, order := range r.orders {
		if matches(order, filter) {
			count++
		}
	}
	return count, nil
}

// ListPage возвращает страницу заказов от новых к старым, без позиций.
func (r *orderRepositoryInMemory) ListPage(ctx context.Context, filter domain.OrderFilter, offset, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if !matches(order, filter) {
			continue
		}
		row := order
		row.Items = nil
		result = append(result, row)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return []domain.Order{}, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// UpdateStatus меняет статус заказа и инкрементирует версию.
func (r *orderRepositoryInMemory) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Status = status
	order.Version++
	order.UpdatedAt = r.now()
	r.orders[id] = order

	return r.getLocked(id)
}

// ApplyPayment отмечает заказ оплаченным и создаёт чек; повторный вызов ничего не меняет.
func (r *orderRepositoryInMemory) ApplyPayment(ctx context.Context, payment domain.PaymentConfirmation) (domain.PaymentOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentOutcome{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[payment.OrderID]
	if !ok {
		return domain.PaymentOutcome{}, domain.ErrOrderNotFound
	}
	outcome := domain.PaymentOutcome{Previous: order.Status}
	if order.Paid {
		current, err := r.getLocked(order.ID)
		outcome.Order = current
		return outcome, err
	}

	now := r.now()
	order.Paid = true
	order.PaidAt = &now
	order.Status = domain.OrderStatusPaid
	order.StripeChargeID = payment.StripeChargeID
	order.Version++
	order.UpdatedAt = now
	r.orders[order.ID] = order
	r.receipts[order.ID] = domain.OrderReceipt{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		ReceiptURL: payment.ReceiptURL,
		CreatedAt:  now,
	}

	updated, err := r.getLocked(order.ID)
	outcome.Order = updated
	outcome.Applied = err == nil
	return outcome, err
}

// ReceiptCount возвращает количество чеков (используется в тестах).
func (r *orderRepositoryInMemory) ReceiptCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.receipts)
}

// OrderCount возвращает количество сохранённых заказов (используется в тестах).
func (r *orderRepositoryInMemory) OrderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

func matches(order domain.Order, filter domain.OrderFilter) bool {
	return filter.Status == nil || order.Status == *filter.Status
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = cloneItems(src.Items)
	if src.PaidAt != nil {
		paidAt := *src.PaidAt
		dst.PaidAt = &paidAt
	}
	return dst
}

func cloneItems(src []domain.OrderItem) []domain.OrderItem {
	if src == nil {
		return nil
	}
	dst := make([]domain.OrderItem, len(src))
	copy(dst, src)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
