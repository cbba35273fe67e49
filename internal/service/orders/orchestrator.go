package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

// PaymentCurrency — валюта платёжных сессий.
const PaymentCurrency = "usd"

// Orchestrator управляет жизненным циклом заказа: создание со сверкой цен по каталогу,
// чтение, смена статуса, открытие платёжной сессии и подтверждение оплаты.
type Orchestrator interface {
	Create(ctx context.Context, req CreateOrderRequest) (domain.Order, error)
	FindAll(ctx context.Context, req PaginationRequest) (domain.OrderPage, error)
	FindOne(ctx context.Context, id string) (domain.Order, error)
	ChangeStatus(ctx context.Context, req ChangeStatusRequest) (domain.Order, error)
	CreatePaymentSession(ctx context.Context, order domain.Order) (domain.PaymentSession, error)
	OrderPaid(ctx context.Context, req PaidOrderRequest) (domain.Order, error)
}

// orchestrator не хранит изменяемого состояния между запросами,
// вся согласованность обеспечивается хранилищем.
type orchestrator struct {
	store    domain.OrderRepository
	catalog  domain.CatalogClient
	payments domain.PaymentSessionInitiator
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	policy   TransitionPolicy
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	now      func() time.Time
}

// NewOrchestrator создаёт оркестратор заказов.
func NewOrchestrator(
	store domain.OrderRepository,
	catalog domain.CatalogClient,
	payments domain.PaymentSessionInitiator,
	opts ...Option,
) Orchestrator {
	o := &orchestrator{
		store:    store,
		catalog:  catalog,
		payments: payments,
		policy:   AllowAllTransitions,
		logger:   log.New().WithField("component", "orders"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create сверяет товары с каталогом, считает итоги по каталожным ценам
// и атомарно сохраняет заказ вместе с позициями.
func (o *orchestrator) Create(ctx context.Context, req CreateOrderRequest) (order domain.Order, err error) {
	defer o.observe(domain.OperationCreate, o.begin(), &err)

	if err := validateRequest(req); err != nil {
		return domain.Order{}, err
	}

	requested := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		requested = append(requested, item.ProductID)
	}
	ids := domain.UniqueIDs(requested)

	index, err := o.resolveProducts(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}
	if missing := index.Missing(ids); len(missing) > 0 {
		return domain.Order{}, fmt.Errorf("%w: %w: %s", domain.ErrValidationFailed, domain.ErrProductNotFound, strings.Join(missing, ", "))
	}

	now := o.now()
	order = domain.Order{
		ID:        uuid.NewString(),
		Status:    domain.OrderStatusPending,
		Items:     make([]domain.OrderItem, 0, len(req.Items)),
		CreatedAt: now,
	}

	total := decimal.Zero
	var quantity int64
	for _, item := range req.Items {
		product := index[item.ProductID]
		line := domain.OrderItem{
			ID:        uuid.NewString(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     domain.RoundMoney(product.Price),
			CreatedAt: now,
		}
		total = total.Add(line.Subtotal())
		quantity += int64(item.Quantity)
		order.Items = append(order.Items, line)
	}
	if quantity > math.MaxInt32 {
		return domain.Order{}, fmt.Errorf("%w: total quantity %d exceeds limit", domain.ErrValidationFailed, quantity)
	}
	order.TotalAmount = total
	order.TotalItems = int32(quantity)

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("order invariants violated: %w", errors.Join(errs...))
	}

	saved, err := o.store.CreateWithItems(ctx, order)
	if err != nil {
		return domain.Order{}, persistenceError("create order", err)
	}
	applyNames(saved.Items, index)

	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
	}
	o.emitEvent(saved, domain.EventOrderCreated, domain.TimelineOrderCreated, "", "order created")

	o.logger.WithFields(log.Fields{
		"order_id":     saved.ID,
		"total_amount": saved.TotalAmount.String(),
		"total_items":  saved.TotalItems,
	}).Info("order created")

	return saved, nil
}

// FindAll возвращает страницу заказов, отсортированных от новых к старым.
func (o *orchestrator) FindAll(ctx context.Context, req PaginationRequest) (page domain.OrderPage, err error) {
	defer o.observe(domain.OperationFindAll, o.begin(), &err)

	req = req.WithDefaults()
	if err := validateRequest(req); err != nil {
		return domain.OrderPage{}, err
	}

	var filter domain.OrderFilter
	if req.Status != "" {
		status := domain.OrderStatus(req.Status)
		filter.Status = &status
	}

	total, err := o.store.CountByStatus(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, persistenceError("count orders", err)
	}

	rows, err := o.store.ListPage(ctx, filter, domain.Offset(req.Page, req.Limit), req.Limit)
	if err != nil {
		return domain.OrderPage{}, persistenceError("list orders", err)
	}
	if rows == nil {
		rows = []domain.Order{}
	}

	return domain.OrderPage{
		Data: rows,
		Meta: domain.NewPageMeta(total, req.Page, req.Limit),
	}, nil
}

// FindOne загружает заказ и заново подтягивает имена товаров из каталога.
func (o *orchestrator) FindOne(ctx context.Context, id string) (order domain.Order, err error) {
	defer o.observe(domain.OperationFindOne, o.begin(), &err)
	return o.findOne(ctx, id)
}

func (o *orchestrator) findOne(ctx context.Context, id string) (domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Order{}, fmt.Errorf("%w: id value missing", domain.ErrValidationFailed)
	}

	order, err := o.store.Get(ctx, id)
	if err != nil {
		return domain.Order{}, persistenceError("get order", err)
	}

	ids := order.ProductIDs()
	if len(ids) == 0 {
		return order, nil
	}

	index, err := o.resolveProducts(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}
	if missing := index.Missing(ids); len(missing) > 0 {
		// Заказ всё равно отдаём: у позиции просто не будет имени.
		o.logger.WithError(domain.ErrDataInconsistency).WithFields(log.Fields{
			"order_id":    order.ID,
			"product_ids": missing,
			"error_kind":  domain.KindDataInconsistency,
		}).Error("stored order references products missing from catalog")
		if o.metrics != nil {
			o.metrics.RecordCatalogMiss(len(missing))
		}
	}
	applyNames(order.Items, index)

	return order, nil
}

// ChangeStatus меняет статус заказа. Повтор текущего статуса ничего не меняет.
func (o *orchestrator) ChangeStatus(ctx context.Context, req ChangeStatusRequest) (order domain.Order, err error) {
	defer o.observe(domain.OperationChangeStatus, o.begin(), &err)

	if err := validateRequest(req); err != nil {
		return domain.Order{}, err
	}
	target := domain.OrderStatus(req.Status)

	current, err := o.findOne(ctx, req.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.Status == target {
		return current, nil
	}

	if err := o.policy(current.Status, target); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrValidationFailed, err)
	}

	updated, err := o.store.UpdateStatus(ctx, current.ID, target)
	if err != nil {
		return domain.Order{}, persistenceError("update order status", err)
	}
	copyNames(updated.Items, current.Items)

	if o.metrics != nil {
		o.metrics.RecordStatusChange(string(target))
	}
	o.emitEvent(updated, domain.EventOrderStatusChanged, domain.TimelineOrderStatusChanged, current.Status,
		fmt.Sprintf("%s -> %s", current.Status, target))

	o.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"from":     current.Status,
		"to":       target,
	}).Info("order status changed")

	return updated, nil
}

// CreatePaymentSession передаёт сводку заказа платёжному сервису и возвращает его ответ как есть.
func (o *orchestrator) CreatePaymentSession(ctx context.Context, order domain.Order) (session domain.PaymentSession, err error) {
	defer o.observe(domain.OperationCreatePaymentSession, o.begin(), &err)

	if order.ID == "" || len(order.Items) == 0 {
		return domain.PaymentSession{}, fmt.Errorf("%w: %w", domain.ErrValidationFailed, domain.ErrItemsRequired)
	}

	req := domain.PaymentSessionRequest{
		OrderID:  order.ID,
		Currency: PaymentCurrency,
		Items:    make([]domain.PaymentSessionItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, domain.PaymentSessionItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	session, err = o.payments.CreatePaymentSession(ctx, req)
	if o.metrics != nil {
		o.metrics.RecordPaymentSession(err == nil)
	}
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			err = fmt.Errorf("%w: create payment session: %w", domain.ErrUpstreamUnavailable, err)
		}
		return domain.PaymentSession{}, err
	}

	return session, nil
}

// OrderPaid применяет подтверждение оплаты. Повторное подтверждение — no-op.
func (o *orchestrator) OrderPaid(ctx context.Context, req PaidOrderRequest) (order domain.Order, err error) {
	defer o.observe(domain.OperationOrderPaid, o.begin(), &err)

	if err := validateRequest(req); err != nil {
		return domain.Order{}, err
	}

	outcome, err := o.store.ApplyPayment(ctx, domain.PaymentConfirmation{
		OrderID:        req.OrderID,
		StripeChargeID: req.StripeID,
		ReceiptURL:     req.ReceiptURL,
	})
	if err != nil {
		return domain.Order{}, persistenceError("apply payment", err)
	}
	order = outcome.Order
	if o.metrics != nil {
		o.metrics.RecordPayment(outcome.Applied)
	}

	entry := o.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"stripe_id": order.StripeChargeID,
	})
	if !outcome.Applied {
		entry.Debug("order already paid, confirmation ignored")
		return order, nil
	}

	o.emitEvent(order, domain.EventOrderPaid, domain.TimelineOrderPaid, outcome.Previous, "payment confirmed")
	entry.Info("order paid")

	return order, nil
}

// resolveProducts делает один пакетный запрос в каталог.
func (o *orchestrator) resolveProducts(ctx context.Context, ids []string) (domain.ProductIndex, error) {
	products, err := o.catalog.ValidateProducts(ctx, ids)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: validate products: %w", domain.ErrUpstreamUnavailable, err)
	}
	return domain.NewProductIndex(products), nil
}

func (o *orchestrator) begin() time.Time {
	if o.metrics != nil {
		o.metrics.OperationStarted()
	}
	return time.Now()
}

// observe пишет метрики и лог по результату операции.
func (o *orchestrator) observe(op domain.OrderOperation, started time.Time, errp *error) {
	kind := domain.KindOf(*errp)
	if o.metrics != nil {
		o.metrics.OperationFinished()
		o.metrics.ObserveOperation(string(op), string(kind), time.Since(started))
	}
	if *errp == nil {
		return
	}

	entry := o.logger.WithError(*errp).WithFields(log.Fields{
		"operation":  op,
		"error_kind": kind,
	})
	switch kind {
	case domain.KindValidationFailed, domain.KindNotFound:
		entry.Info("order operation rejected")
	case domain.KindUpstreamUnavailable:
		entry.Warn("order operation failed: upstream unavailable")
	default:
		entry.Error("order operation failed")
	}
}

// persistenceError пропускает ErrOrderNotFound и классифицирует прочие сбои хранилища.
func persistenceError(op string, err error) error {
	if errors.Is(err, domain.ErrOrderNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistenceFailed, op, err)
}

func applyNames(items []domain.OrderItem, index domain.ProductIndex) {
	for i := range items {
		if product, ok := index[items[i].ProductID]; ok {
			items[i].Name = product.Name
		}
	}
}

func copyNames(dst, src []domain.OrderItem) {
	names := make(map[string]string, len(src))
	for _, item := range src {
		names[item.ProductID] = item.Name
	}
	for i := range dst {
		dst[i].Name = names[dst[i].ProductID]
	}
}

var _ Orchestrator = (*orchestrator)(nil)
