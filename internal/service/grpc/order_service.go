package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// OrderService реализует gRPC API поверх оркестратора заказов.
type OrderService struct {
	orders   orders.Orchestrator
	timeline domain.TimelineRepository
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

// NewOrderService конструирует сервис с зависимостями. timeline и idemRepo могут быть nil.
func NewOrderService(
	orchestrator orders.Orchestrator,
	timeline domain.TimelineRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "orders-grpc")
	}
	return &OrderService{
		orders:   orchestrator,
		timeline: timeline,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateOrder создаёт заказ и сразу открывает платёжную сессию.
// Поддерживает повтор по metadata idempotency-key.
func (s *OrderService) CreateOrder(ctx context.Context, req *orders.CreateOrderRequest) (*orders.PlacedOrderView, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return s.placeOnce(ctx, req, func(ctx context.Context) (orders.PlacedOrderView, error) {
		placed, err := orders.PlaceOrder(ctx, s.orders, *req)
		if err != nil {
			return orders.PlacedOrderView{}, err
		}
		if placed.PaymentErr != nil {
			s.logger.WithError(placed.PaymentErr).WithField("order_id", placed.Order.ID).
				Warn("order created without payment session")
		}
		return orders.NewPlacedOrderView(placed), nil
	})
}

// FindAllOrders возвращает страницу заказов.
func (s *OrderService) FindAllOrders(ctx context.Context, req *orders.PaginationRequest) (*orders.OrderPageView, error) {
	if req == nil {
		req = &orders.PaginationRequest{}
	}
	page, err := s.orders.FindAll(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	view := orders.NewOrderPageView(page)
	return &view, nil
}

// FindOneOrder возвращает заказ с позициями и историей событий.
func (s *OrderService) FindOneOrder(ctx context.Context, req *FindOneOrderRequest) (*FindOneOrderResponse, error) {
	if req == nil || req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	order, err := s.orders.FindOne(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FindOneOrderResponse{
		Order:    orders.NewOrderView(order),
		Timeline: s.buildTimeline(order.ID),
	}, nil
}

// ChangeOrderStatus меняет статус заказа.
func (s *OrderService) ChangeOrderStatus(ctx context.Context, req *orders.ChangeStatusRequest) (*orders.OrderView, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	order, err := s.orders.ChangeStatus(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	view := orders.NewOrderView(order)
	return &view, nil
}

// CreatePaymentSession открывает платёжную сессию для неоплаченного заказа.
func (s *OrderService) CreatePaymentSession(ctx context.Context, req *CreatePaymentSessionRequest) (*domain.PaymentSession, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "orderId is required")
	}
	order, err := s.orders.FindOne(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	if order.Paid {
		return nil, status.Error(codes.FailedPrecondition, "order is already paid")
	}
	session, err := s.orders.CreatePaymentSession(ctx, order)
	if err != nil {
		return nil, toStatus(err)
	}
	return &session, nil
}

// OrderPaid применяет подтверждение оплаты. Повтор возвращает тот же заказ.
func (s *OrderService) OrderPaid(ctx context.Context, req *orders.PaidOrderRequest) (*orders.OrderView, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	order, err := s.orders.OrderPaid(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	view := orders.NewOrderView(order)
	return &view, nil
}

func (s *OrderService) buildTimeline(orderID string) []orders.TimelineEventView {
	if s.timeline == nil {
		return []orders.TimelineEventView{}
	}
	events, err := s.timeline.List(orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		return []orders.TimelineEventView{}
	}
	return orders.NewTimelineView(events)
}

// toStatus переводит ошибку оркестратора в gRPC-статус по её классу.
// Подробности серверных сбоев уже записаны в лог оркестратором.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) && domain.KindOf(err) == domain.KindInternal:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled) && domain.KindOf(err) == domain.KindInternal:
		return status.Error(codes.Canceled, err.Error())
	}

	msg := domain.PublicMessage(err)
	switch domain.KindOf(err) {
	case domain.KindValidationFailed:
		return status.Error(codes.InvalidArgument, msg)
	case domain.KindNotFound:
		return status.Error(codes.NotFound, msg)
	case domain.KindUpstreamUnavailable:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

var _ OrdersServiceServer = (*OrderService)(nil)
