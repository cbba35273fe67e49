package httpapi_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	httpapi "github.com/vladislavdragonenkov/orders/internal/service/http"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/payment"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

type apiEnv struct {
	router   *gin.Engine
	catalog  *catalog.Static
	payments *payment.MockInitiator
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := logger.WithField("component", "http-test")

	env := &apiEnv{
		catalog: catalog.NewStatic(
			domain.ProductSnapshot{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(10)},
			domain.ProductSnapshot{ID: "p2", Name: "Pen", Price: decimal.NewFromInt(5)},
		),
		payments: payment.NewMockInitiator(),
	}
	timeline := memory.NewTimelineRepository()
	orchestrator := orders.NewOrchestrator(memory.NewOrderRepository(), env.catalog, env.payments,
		orders.WithLogger(entry),
		orders.WithTimeline(timeline),
	)
	env.router = httpapi.API(httpapi.NewHandler(orchestrator, timeline, entry), gin.TestMode)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createOrder(t *testing.T, env *apiEnv) orders.PlacedOrderView {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"items": []map[string]any{
			{"productId": "p1", "quantity": 2},
			{"productId": "p2", "quantity": 1},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[orders.PlacedOrderView](t, rec)
}

func TestPing(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"pong"}`, rec.Body.String())
}

func TestCreateOrder(t *testing.T) {
	env := newAPIEnv(t)

	placed := createOrder(t, env)
	assert.True(t, placed.Order.TotalAmount.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, int32(3), placed.Order.TotalItems)
	assert.Equal(t, "PENDING", placed.Order.Status)
	require.NotNil(t, placed.PaymentSession)
	assert.NotEmpty(t, placed.PaymentSession.URL)
}

func TestCreateOrderErrors(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name   string
		body   any
		status int
		setup  func()
	}{
		{name: "malformed json", body: "{", status: http.StatusBadRequest},
		{name: "empty items", body: map[string]any{"items": []any{}}, status: http.StatusBadRequest},
		{name: "zero quantity", body: map[string]any{"items": []map[string]any{{"productId": "p1", "quantity": 0}}}, status: http.StatusBadRequest},
		{name: "unknown product", body: map[string]any{"items": []map[string]any{{"productId": "p9", "quantity": 1}}}, status: http.StatusBadRequest},
		{
			name:   "catalog down",
			body:   map[string]any{"items": []map[string]any{{"productId": "p1", "quantity": 1}}},
			status: http.StatusServiceUnavailable,
			setup:  func() { env.catalog.SetError(errors.New("timeout")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := env.do(t, http.MethodPost, "/api/v1/orders", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[map[string]any](t, rec)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestFindAllOrders(t *testing.T) {
	env := newAPIEnv(t)
	for i := 0; i < 25; i++ {
		createOrder(t, env)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/orders?page=3&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[orders.OrderPageView](t, rec)
	assert.Len(t, page.Data, 5)
	assert.Equal(t, orders.PageMetaView{Total: 25, TotalPages: 3, CurrentPage: 3, LastPage: 3}, page.Meta)

	rec = env.do(t, http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[orders.OrderPageView](t, rec)
	assert.Len(t, page.Data, 10)

	rec = env.do(t, http.MethodGet, "/api/v1/orders?status=DELIVERED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[orders.OrderPageView](t, rec)
	assert.Empty(t, page.Data)

	rec = env.do(t, http.MethodGet, "/api/v1/orders?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/orders?status=LOST", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFindOneOrder(t *testing.T) {
	env := newAPIEnv(t)
	placed := createOrder(t, env)

	rec := env.do(t, http.MethodGet, "/api/v1/orders/"+placed.Order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[httpapi.OrderDetails](t, rec)
	assert.Equal(t, placed.Order.ID, details.ID)
	require.Len(t, details.Items, 2)
	assert.Equal(t, "Mug", details.Items[0].Name)
	require.Len(t, details.Timeline, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChangeOrderStatus(t *testing.T) {
	env := newAPIEnv(t)
	placed := createOrder(t, env)
	path := "/api/v1/orders/" + placed.Order.ID

	rec := env.do(t, http.MethodPatch, path, map[string]string{"status": "CANCELLED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[orders.OrderView](t, rec).Status)

	rec = env.do(t, http.MethodPatch, path, map[string]string{"status": "CANCELLED"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, path, map[string]string{"status": "UNKNOWN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.payments.SetError(errors.New("stripe down"))
	placed := createOrder(t, env)
	assert.Nil(t, placed.PaymentSession)
	assert.NotEmpty(t, placed.PaymentSessionError)

	env.payments.SetError(nil)
	sessionPath := fmt.Sprintf("/api/v1/orders/%s/payment-session", placed.Order.ID)
	rec := env.do(t, http.MethodPost, sessionPath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cs_mock_"+placed.Order.ID, decode[domain.PaymentSession](t, rec).ID)

	paid := map[string]string{
		"stripeId":   "ch_123",
		"orderId":    placed.Order.ID,
		"receiptUrl": "https://pay.stripe.com/receipts/123",
	}
	rec = env.do(t, http.MethodPost, "/api/v1/payments/succeeded", paid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[orders.OrderView](t, rec)
	assert.True(t, view.Paid)
	assert.Equal(t, "PAID", view.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/payments/succeeded", paid)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, sessionPath, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	paid["receiptUrl"] = "not a url"
	rec = env.do(t, http.MethodPost, "/api/v1/payments/succeeded", paid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentSucceeded_ValidationNamesWireFields(t *testing.T) {
	env := newAPIEnv(t)
	placed := createOrder(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/payments/succeeded", map[string]string{
		"stripePaymentId": "ch_123",
		"orderId":         placed.Order.ID,
		"receiptUrl":      "ftp//broken",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "validation failed: stripeId value missing; receiptUrl must be a valid URL", body["error"])
	assert.Equal(t, "validation_failed", body["kind"])

	rec = env.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"items": []map[string]any{{"productId": "p1", "quantity": 0}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "validation failed: items[0].quantity must be greater than 0", body["error"])
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, httpapi.StatusCode(nil))
	assert.Equal(t, http.StatusBadRequest, httpapi.StatusCode(domain.ErrValidationFailed))
	assert.Equal(t, http.StatusNotFound, httpapi.StatusCode(domain.ErrOrderNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, httpapi.StatusCode(domain.ErrUpstreamUnavailable))
	assert.Equal(t, http.StatusInternalServerError, httpapi.StatusCode(domain.ErrPersistenceFailed))
	assert.Equal(t, http.StatusInternalServerError, httpapi.StatusCode(errors.New("boom")))
}
