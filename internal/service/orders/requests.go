package orders

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	// DefaultPage и DefaultLimit применяются, если клиент не передал пагинацию.
	DefaultPage  = 1
	DefaultLimit = 10
)

// ItemRequest — позиция входящего запроса на создание заказа.
// Цена от клиента не принимается: она всегда берётся из каталога.
type ItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int32  `json:"quantity" validate:"gt=0"`
}

// CreateOrderRequest — входящий запрос на создание заказа.
type CreateOrderRequest struct {
	Items []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

// PaginationRequest — параметры выборки списка заказов.
type PaginationRequest struct {
	Status string `json:"status" form:"status" validate:"omitempty,oneof=PENDING PAID DELIVERED CANCELLED"`
	Page   int    `json:"page" form:"page" validate:"gte=1"`
	Limit  int    `json:"limit" form:"limit" validate:"gte=1"`
}

// WithDefaults подставляет page=1 и limit=10 для незаданных значений.
func (r PaginationRequest) WithDefaults() PaginationRequest {
	if r.Page == 0 {
		r.Page = DefaultPage
	}
	if r.Limit == 0 {
		r.Limit = DefaultLimit
	}
	return r
}

// ChangeStatusRequest — смена статуса заказа.
type ChangeStatusRequest struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=PENDING PAID DELIVERED CANCELLED"`
}

// PaidOrderRequest — подтверждение оплаты от платёжного сервиса.
type PaidOrderRequest struct {
	StripeID   string `json:"stripeId" validate:"required"`
	OrderID    string `json:"orderId" validate:"required,uuid"`
	ReceiptURL string `json:"receiptUrl" validate:"required,url"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// В сообщениях об ошибках поля называются так же, как в JSON запроса.
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	default:
		return name
	}
}

// validateRequest проверяет DTO и сводит ошибки валидатора к ErrValidationFailed.
func validateRequest(req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}

	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}

	msgs := make([]string, 0, len(vErrs))
	for _, vErr := range vErrs {
		msgs = append(msgs, describeFieldError(vErr))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidationFailed, strings.Join(msgs, "; "))
}

func describeFieldError(vErr validator.FieldError) string {
	field := vErr.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}

	switch vErr.Tag() {
	case "required":
		return field + " value missing"
	case "min":
		return field + " must contain at least " + vErr.Param() + " element(s)"
	case "gt":
		return field + " must be greater than " + vErr.Param()
	case "gte":
		return field + " must be at least " + vErr.Param()
	case "oneof":
		return field + " must be one of [" + vErr.Param() + "]"
	case "uuid":
		return field + " must be a valid UUID"
	case "url":
		return field + " must be a valid URL"
	default:
		return field + " is invalid"
	}
}
