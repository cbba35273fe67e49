// Package payment открывает платёжные сессии у провайдера.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// MetadataOrderID — ключ метаданных сессии, по которому платёжный сервис
// сопоставляет событие оплаты с заказом.
const MetadataOrderID = "orderId"

const (
	defaultSuccessURL = "http://localhost:3003/payments/success"
	defaultCancelURL  = "http://localhost:3003/payments/cancel"
	fallbackItemName  = "Order item"
)

var minorUnits = decimal.NewFromInt(100)

// StripeConfig задаёт параметры Stripe Checkout.
type StripeConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeInitiator создаёт Checkout Session в Stripe.
type StripeInitiator struct {
	sessions   sessionCreator
	successURL string
	cancelURL  string
	logger     *log.Entry
}

// NewStripeInitiator создаёт инициатор с собственным клиентом Stripe (без глобального stripe.Key).
func NewStripeInitiator(cfg StripeConfig, logger *log.Entry) *StripeInitiator {
	client := session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey}
	return newStripeInitiator(client, cfg, logger)
}

func newStripeInitiator(sessions sessionCreator, cfg StripeConfig, logger *log.Entry) *StripeInitiator {
	if logger == nil {
		logger = log.New().WithField("component", "stripe")
	}
	if cfg.SuccessURL == "" {
		cfg.SuccessURL = defaultSuccessURL
	}
	if cfg.CancelURL == "" {
		cfg.CancelURL = defaultCancelURL
	}
	return &StripeInitiator{
		sessions:   sessions,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger,
	}
}

// CreatePaymentSession открывает сессию оплаты на сумму позиций заказа.
func (s *StripeInitiator) CreatePaymentSession(ctx context.Context, req domain.PaymentSessionRequest) (domain.PaymentSession, error) {
	params, err := s.buildParams(req)
	if err != nil {
		return domain.PaymentSession{}, err
	}
	params.Context = ctx

	created, err := s.sessions.New(params)
	if err != nil {
		entry := s.logger.WithError(err).WithField("order_id", req.OrderID)
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			entry = entry.WithFields(log.Fields{
				"stripe_status": stripeErr.HTTPStatusCode,
				"stripe_type":   stripeErr.Type,
			})
		}
		entry.Warn("stripe checkout session failed")
		return domain.PaymentSession{}, fmt.Errorf("%w: stripe checkout session: %w", domain.ErrUpstreamUnavailable, err)
	}

	s.logger.WithFields(log.Fields{
		"order_id":   req.OrderID,
		"session_id": created.ID,
	}).Info("stripe checkout session created")

	return domain.PaymentSession{
		ID:         created.ID,
		URL:        created.URL,
		SuccessURL: created.SuccessURL,
		CancelURL:  created.CancelURL,
	}, nil
}

func (s *StripeInitiator) buildParams(req domain.PaymentSessionRequest) (*stripe.CheckoutSessionParams, error) {
	if req.OrderID == "" || len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidationFailed, domain.ErrItemsRequired)
	}
	currency := strings.ToLower(req.Currency)

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		amount, err := ToMinorUnits(item.Price)
		if err != nil {
			return nil, err
		}
		name := item.Name
		if name == "" {
			name = fallbackItemName
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
				UnitAmount: stripe.Int64(amount),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  lineItems,
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{MetadataOrderID: req.OrderID},
		},
	}
	params.AddMetadata(MetadataOrderID, req.OrderID)
	return params, nil
}

// ToMinorUnits переводит цену в центы с округлением до целого.
func ToMinorUnits(price decimal.Decimal) (int64, error) {
	if price.IsNegative() {
		return 0, fmt.Errorf("%w: %w", domain.ErrValidationFailed, domain.ErrItemPriceInvalid)
	}
	return price.Mul(minorUnits).Round(0).IntPart(), nil
}

var _ domain.PaymentSessionInitiator = (*StripeInitiator)(nil)
