package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/rpc"
)

const (
	// ServiceName — полное имя gRPC-сервиса каталога.
	ServiceName = "products.v1.ProductService"
	// MethodValidateProducts — пакетная проверка товаров.
	MethodValidateProducts = "/" + ServiceName + "/ValidateProducts"
	// DefaultTimeout ограничивает одну попытку вызова каталога.
	DefaultTimeout = 3 * time.Second
)

// Повторы выполняет сам gRPC-клиент и только для UNAVAILABLE:
// таймаут и бизнес-ошибки каталога не повторяются.
const retryServiceConfig = `{
  "methodConfig": [{
    "name": [{"service": "products.v1.ProductService"}],
    "retryPolicy": {
      "maxAttempts": 3,
      "initialBackoff": "0.1s",
      "maxBackoff": "1s",
      "backoffMultiplier": 2.0,
      "retryableStatusCodes": ["UNAVAILABLE"]
    }
  }]
}`

// Product — запись каталога в ответе ValidateProducts.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ValidateProductsRequest — набор идентификаторов товаров.
type ValidateProductsRequest struct {
	IDs []string `json:"ids"`
}

// ValidateProductsResponse содержит только найденные товары.
type ValidateProductsResponse struct {
	Products []Product `json:"products"`
}

// Client вызывает каталог по gRPC и реализует domain.CatalogClient.
type Client struct {
	conn    grpc.ClientConnInterface
	closeFn func() error
	timeout time.Duration
	logger  *log.Entry
}

// Dial открывает соединение с каталогом. Дополнительные опции добавляются к базовым
// (insecure-транспорт, политика повторов, JSON-кодек).
func Dial(addr string, timeout time.Duration, logger *log.Entry, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(retryServiceConfig),
		grpc.WithDefaultCallOptions(rpc.CallOption()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial catalog %s: %w", addr, err)
	}

	client := NewClient(conn, timeout, logger)
	client.closeFn = conn.Close
	return client, nil
}

// NewClient оборачивает готовое соединение.
func NewClient(conn grpc.ClientConnInterface, timeout time.Duration, logger *log.Entry) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "catalog-client")
	}
	return &Client{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
	}
}

// ValidateProducts запрашивает товары одним вызовом. Любой сбой вызова,
// включая таймаут, возвращается как ErrUpstreamUnavailable.
func (c *Client) ValidateProducts(ctx context.Context, productIDs []string) ([]domain.ProductSnapshot, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp ValidateProductsResponse
	err := c.conn.Invoke(callCtx, MethodValidateProducts, &ValidateProductsRequest{IDs: productIDs}, &resp, rpc.CallOption())
	if err != nil {
		st := status.Convert(err)
		c.logger.WithError(err).WithFields(log.Fields{
			"code":     st.Code().String(),
			"products": len(productIDs),
		}).Warn("catalog call failed")
		return nil, fmt.Errorf("%w: catalog %s: %s", domain.ErrUpstreamUnavailable, st.Code(), st.Message())
	}

	result := make([]domain.ProductSnapshot, 0, len(resp.Products))
	for _, p := range resp.Products {
		result = append(result, domain.ProductSnapshot{ID: p.ID, Name: p.Name, Price: p.Price})
	}
	return result, nil
}

// Close закрывает соединение, если клиент сам его открыл.
func (c *Client) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

var _ domain.CatalogClient = (*Client)(nil)
