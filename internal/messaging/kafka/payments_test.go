package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

type fakeConfirmer struct {
	requests []orders.PaidOrderRequest
	err      error
}

func (f *fakeConfirmer) OrderPaid(_ context.Context, req orders.PaidOrderRequest) (domain.Order, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.Order{}, f.err
	}
	return domain.Order{ID: req.OrderID, Paid: true, StripeChargeID: req.StripeID}, nil
}

func paymentMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicPaymentsSucceeded, Key: []byte("o-1"), Value: []byte(value)}
}

func TestPaymentSucceededHandler(t *testing.T) {
	confirmer := &fakeConfirmer{}
	handler := NewPaymentSucceededHandler(confirmer, quietLogger())

	err := handler(context.Background(), paymentMessage(
		`{"stripeId":"ch_1","orderId":"o-1","receiptUrl":"https://pay.stripe.com/r/1"}`))
	require.NoError(t, err)
	require.Len(t, confirmer.requests, 1)
	assert.Equal(t, orders.PaidOrderRequest{
		StripeID:   "ch_1",
		OrderID:    "o-1",
		ReceiptURL: "https://pay.stripe.com/r/1",
	}, confirmer.requests[0])
}

func TestPaymentSucceededHandler_LegacyFieldNameLeavesChargeEmpty(t *testing.T) {
	confirmer := &fakeConfirmer{}
	handler := NewPaymentSucceededHandler(confirmer, quietLogger())

	require.NoError(t, handler(context.Background(), paymentMessage(
		`{"stripePaymentId":"ch_1","orderId":"o-1","receiptUrl":"https://pay.stripe.com/r/1"}`)))
	require.Len(t, confirmer.requests, 1)
	assert.Empty(t, confirmer.requests[0].StripeID)
}

func TestPaymentSucceededHandlerErrors(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		err       error
		permanent bool
		called    bool
	}{
		{name: "malformed json", value: "{", permanent: true},
		{name: "validation", value: `{"orderId":"o-1"}`, err: fmt.Errorf("%w: receiptUrl", domain.ErrValidationFailed), permanent: true, called: true},
		{name: "not found", value: `{"orderId":"o-1"}`, err: domain.ErrOrderNotFound, permanent: true, called: true},
		{name: "storage", value: `{"orderId":"o-1"}`, err: domain.ErrPersistenceFailed, called: true},
		{name: "catalog outage", value: `{"orderId":"o-1"}`, err: fmt.Errorf("%w: catalog", domain.ErrUpstreamUnavailable), called: true},
		{name: "inconsistency", value: `{"orderId":"o-1"}`, err: domain.ErrDataInconsistency, called: true},
		{name: "unknown", value: `{"orderId":"o-1"}`, err: errors.New("boom"), called: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confirmer := &fakeConfirmer{err: tt.err}
			handler := NewPaymentSucceededHandler(confirmer, nil)

			err := handler(context.Background(), paymentMessage(tt.value))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, ErrPermanent))
			assert.Equal(t, tt.called, len(confirmer.requests) == 1)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	envelope, err := ParseEnvelope(&sarama.ConsumerMessage{
		Value: []byte(`{"id":"m-1","aggregate_type":"order","aggregate_id":"o-1","event_type":"order.paid","payload":{"status":"PAID"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", envelope.AggregateID)
	assert.JSONEq(t, `{"status":"PAID"}`, string(envelope.Payload))

	_, err = ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("{")})
	assert.Error(t, err)
}
