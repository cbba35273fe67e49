package grpcsvc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/rpc"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// ServiceName — полное имя gRPC-сервиса заказов.
const ServiceName = "orders.v1.OrdersService"

const (
	MethodCreateOrder          = "/" + ServiceName + "/CreateOrder"
	MethodFindAllOrders        = "/" + ServiceName + "/FindAllOrders"
	MethodFindOneOrder         = "/" + ServiceName + "/FindOneOrder"
	MethodChangeOrderStatus    = "/" + ServiceName + "/ChangeOrderStatus"
	MethodCreatePaymentSession = "/" + ServiceName + "/CreatePaymentSession"
	MethodOrderPaid            = "/" + ServiceName + "/OrderPaid"
)

// FindOneOrderRequest запрашивает заказ по идентификатору.
type FindOneOrderRequest struct {
	ID string `json:"id"`
}

// FindOneOrderResponse — заказ с позициями и историей.
type FindOneOrderResponse struct {
	Order    orders.OrderView           `json:"order"`
	Timeline []orders.TimelineEventView `json:"timeline"`
}

// CreatePaymentSessionRequest повторно открывает платёжную сессию для заказа.
type CreatePaymentSessionRequest struct {
	OrderID string `json:"orderId"`
}

// OrdersServiceServer — серверная сторона API заказов. Сообщения передаются JSON-кодеком.
type OrdersServiceServer interface {
	CreateOrder(ctx context.Context, req *orders.CreateOrderRequest) (*orders.PlacedOrderView, error)
	FindAllOrders(ctx context.Context, req *orders.PaginationRequest) (*orders.OrderPageView, error)
	FindOneOrder(ctx context.Context, req *FindOneOrderRequest) (*FindOneOrderResponse, error)
	ChangeOrderStatus(ctx context.Context, req *orders.ChangeStatusRequest) (*orders.OrderView, error)
	CreatePaymentSession(ctx context.Context, req *CreatePaymentSessionRequest) (*domain.PaymentSession, error)
	OrderPaid(ctx context.Context, req *orders.PaidOrderRequest) (*orders.OrderView, error)
}

// ServiceDesc описывает API заказов для grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrdersServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler(MethodCreateOrder, OrdersServiceServer.CreateOrder)},
		{MethodName: "FindAllOrders", Handler: unaryHandler(MethodFindAllOrders, OrdersServiceServer.FindAllOrders)},
		{MethodName: "FindOneOrder", Handler: unaryHandler(MethodFindOneOrder, OrdersServiceServer.FindOneOrder)},
		{MethodName: "ChangeOrderStatus", Handler: unaryHandler(MethodChangeOrderStatus, OrdersServiceServer.ChangeOrderStatus)},
		{MethodName: "CreatePaymentSession", Handler: unaryHandler(MethodCreatePaymentSession, OrdersServiceServer.CreatePaymentSession)},
		{MethodName: "OrderPaid", Handler: unaryHandler(MethodOrderPaid, OrdersServiceServer.OrderPaid)},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterOrdersServiceServer регистрирует реализацию API заказов.
func RegisterOrdersServiceServer(s grpc.ServiceRegistrar, srv OrdersServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(OrdersServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(OrdersServiceServer)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client — типизированный клиент API заказов.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient оборачивает соединение. JSON-кодек выбирается на каждый вызов.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, req *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{rpc.CallOption()}, opts...)
	if err := c.conn.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder создаёт заказ и открывает платёжную сессию.
func (c *Client) CreateOrder(ctx context.Context, req *orders.CreateOrderRequest, opts ...grpc.CallOption) (*orders.PlacedOrderView, error) {
	return invoke[orders.CreateOrderRequest, orders.PlacedOrderView](ctx, c, MethodCreateOrder, req, opts)
}

// FindAllOrders возвращает страницу заказов.
func (c *Client) FindAllOrders(ctx context.Context, req *orders.PaginationRequest, opts ...grpc.CallOption) (*orders.OrderPageView, error) {
	return invoke[orders.PaginationRequest, orders.OrderPageView](ctx, c, MethodFindAllOrders, req, opts)
}

// FindOneOrder возвращает заказ с историей.
func (c *Client) FindOneOrder(ctx context.Context, req *FindOneOrderRequest, opts ...grpc.CallOption) (*FindOneOrderResponse, error) {
	return invoke[FindOneOrderRequest, FindOneOrderResponse](ctx, c, MethodFindOneOrder, req, opts)
}

// ChangeOrderStatus меняет статус заказа.
func (c *Client) ChangeOrderStatus(ctx context.Context, req *orders.ChangeStatusRequest, opts ...grpc.CallOption) (*orders.OrderView, error) {
	return invoke[orders.ChangeStatusRequest, orders.OrderView](ctx, c, MethodChangeOrderStatus, req, opts)
}

// CreatePaymentSession открывает платёжную сессию для существующего заказа.
func (c *Client) CreatePaymentSession(ctx context.Context, req *CreatePaymentSessionRequest, opts ...grpc.CallOption) (*domain.PaymentSession, error) {
	return invoke[CreatePaymentSessionRequest, domain.PaymentSession](ctx, c, MethodCreatePaymentSession, req, opts)
}

// OrderPaid передаёт подтверждение оплаты.
func (c *Client) OrderPaid(ctx context.Context, req *orders.PaidOrderRequest, opts ...grpc.CallOption) (*orders.OrderView, error) {
	return invoke[orders.PaidOrderRequest, orders.OrderView](ctx, c, MethodOrderPaid, req, opts)
}
