package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// MockInitiator — конфигурируемая заглушка платёжного провайдера для локального запуска и тестов.
type MockInitiator struct {
	mu       sync.Mutex
	session  domain.PaymentSession
	err      error
	requests []domain.PaymentSessionRequest
}

// NewMockInitiator возвращает mock с успешным сценарием по умолчанию.
func NewMockInitiator() *MockInitiator {
	return &MockInitiator{}
}

// SetSession фиксирует ответ, иначе URL строится из идентификатора заказа.
func (m *MockInitiator) SetSession(session domain.PaymentSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session
}

// SetError заставляет последующие вызовы завершаться ошибкой.
func (m *MockInitiator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests возвращает копию принятых запросов.
func (m *MockInitiator) Requests() []domain.PaymentSessionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.PaymentSessionRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// CreatePaymentSession запоминает запрос и возвращает настроенный результат.
func (m *MockInitiator) CreatePaymentSession(ctx context.Context, req domain.PaymentSessionRequest) (domain.PaymentSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentSession{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return domain.PaymentSession{}, m.err
	}
	if m.session.ID != "" {
		return m.session, nil
	}
	return domain.PaymentSession{
		ID:         "cs_mock_" + req.OrderID,
		URL:        "https://checkout.mock.local/pay/" + req.OrderID,
		SuccessURL: defaultSuccessURL,
		CancelURL:  defaultCancelURL,
	}, nil
}

var _ domain.PaymentSessionInitiator = (*MockInitiator)(nil)
