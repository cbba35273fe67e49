// Package catalog содержит клиентов каталога товаров: gRPC-клиент для продакшена
// и статический каталог для локального запуска и тестов.
package catalog

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// Static — каталог в памяти. Отвечает так же, как удалённый сервис:
// найденные товары в ответе, отсутствующие пропущены.
type Static struct {
	mu       sync.RWMutex
	products map[string]domain.ProductSnapshot
	err      error
	calls    int
}

// NewStatic создаёт каталог с заданными товарами.
func NewStatic(products ...domain.ProductSnapshot) *Static {
	s := &Static{products: make(map[string]domain.ProductSnapshot, len(products))}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// DevelopmentProducts — набор товаров для запуска без внешнего каталога.
func DevelopmentProducts() []domain.ProductSnapshot {
	return []domain.ProductSnapshot{
		{ID: "1", Name: "Keyboard", Price: decimal.RequireFromString("75.99")},
		{ID: "2", Name: "Mouse", Price: decimal.RequireFromString("25.50")},
		{ID: "3", Name: "Monitor", Price: decimal.RequireFromString("199.00")},
		{ID: "4", Name: "USB-C Cable", Price: decimal.RequireFromString("9.99")},
		{ID: "5", Name: "Headphones", Price: decimal.RequireFromString("120.00")},
	}
}

// Put добавляет или заменяет товар.
func (s *Static) Put(product domain.ProductSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// Remove удаляет товар из каталога.
func (s *Static) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// SetError заставляет все последующие вызовы завершаться ошибкой. nil снимает сбой.
func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls возвращает число вызовов ValidateProducts.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// ValidateProducts возвращает найденные товары в порядке запроса.
func (s *Static) ValidateProducts(ctx context.Context, productIDs []string) ([]domain.ProductSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	result := make([]domain.ProductSnapshot, 0, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.products[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

var _ domain.CatalogClient = (*Static)(nil)
