package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders/internal/service/payment"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

// OrderLifecycleTestSuite прогоняет заказ через gRPC API, consumer оплат и outbox relay.
type OrderLifecycleTestSuite struct {
	suite.Suite

	client    *grpcsvc.Client
	payments  *payment.MockInitiator
	outbox    domain.OutboxRepository
	producer  *mocks.SyncProducer
	relay     *outbox.Worker
	onPayment kafka.MessageHandler

	server *grpc.Server
	conn   *grpc.ClientConn
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	repo := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()
	s.outbox = memory.NewOutboxRepository()
	s.payments = payment.NewMockInitiator()

	orchestrator := orders.NewOrchestrator(repo, catalog.NewStatic(catalog.DevelopmentProducts()...), s.payments,
		orders.WithLogger(logger),
		orders.WithTimeline(timeline),
		orders.WithOutbox(s.outbox),
	)

	listener := bufconn.Listen(1024 * 1024)
	s.server = grpc.NewServer(grpc.ChainUnaryInterceptor(grpcsvc.LoggingInterceptor(logger)))
	grpcsvc.RegisterOrdersServiceServer(s.server, grpcsvc.NewOrderService(orchestrator, timeline, memory.NewIdempotencyRepository(), logger))
	go func() { _ = s.server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)
	s.conn = conn
	s.client = grpcsvc.NewClient(conn)

	s.onPayment = kafka.NewPaymentSucceededHandler(orchestrator, logger)

	s.producer = mocks.NewSyncProducer(s.T(), nil)
	s.relay = outbox.NewWorker(s.outbox,
		kafka.NewOutboxPublisher(kafka.NewProducerFrom(s.producer, logger), kafka.TopicOrderEvents),
		outbox.WithLogger(logger),
		outbox.WithMaxAttempts(1),
		outbox.WithRegisterer(prometheus.NewRegistry()),
	)
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	_ = s.conn.Close()
	s.server.Stop()
	_ = s.producer.Close()
}

func (s *OrderLifecycleTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *OrderLifecycleTestSuite) createOrder() orders.PlacedOrderView {
	placed, err := s.client.CreateOrder(s.ctx(), &orders.CreateOrderRequest{Items: []orders.ItemRequest{
		{ProductID: "1", Quantity: 1},
		{ProductID: "2", Quantity: 2},
	}})
	s.Require().NoError(err)
	return *placed
}

func (s *OrderLifecycleTestSuite) deliverPayment(orderID, chargeID string) error {
	value, err := json.Marshal(kafka.PaymentSucceededEvent{
		StripeID:   chargeID,
		OrderID:    orderID,
		ReceiptURL: "https://pay.stripe.com/receipts/" + chargeID,
	})
	s.Require().NoError(err)
	return s.onPayment(s.ctx(), &sarama.ConsumerMessage{
		Topic: kafka.TopicPaymentsSucceeded,
		Key:   []byte(orderID),
		Value: value,
	})
}

// expectEvents ожидает публикацию событий заказа в указанном порядке.
func (s *OrderLifecycleTestSuite) expectEvents(orderID string, eventTypes ...string) {
	for _, eventType := range eventTypes {
		s.producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			key, _ := msg.Key.Encode()
			if string(key) != orderID {
				return fmt.Errorf("unexpected key %q", key)
			}
			for _, header := range msg.Headers {
				if string(header.Key) == kafka.HeaderEventType && string(header.Value) == eventType {
					return nil
				}
			}
			return fmt.Errorf("event %s not found in headers %+v", eventType, msg.Headers)
		})
	}
}

func (s *OrderLifecycleTestSuite) TestPaidOrderLifecycle() {
	placed := s.createOrder()
	orderID := placed.Order.ID

	s.Equal(string(domain.OrderStatusPending), placed.Order.Status)
	s.Equal("126.99", placed.Order.TotalAmount.StringFixed(2))
	s.Equal(int32(3), placed.Order.TotalItems)
	s.Require().NotNil(placed.PaymentSession)
	s.Len(s.payments.Requests(), 1)

	s.Require().NoError(s.deliverPayment(orderID, "ch_1"))

	found, err := s.client.FindOneOrder(s.ctx(), &grpcsvc.FindOneOrderRequest{ID: orderID})
	s.Require().NoError(err)
	s.Equal(string(domain.OrderStatusPaid), found.Order.Status)
	s.True(found.Order.Paid)
	s.Equal("ch_1", found.Order.StripeChargeID)
	s.Require().NotNil(found.Order.Receipt)
	s.Equal("https://pay.stripe.com/receipts/ch_1", found.Order.Receipt.ReceiptURL)
	s.Len(found.Timeline, 2)

	delivered, err := s.client.ChangeOrderStatus(s.ctx(), &orders.ChangeStatusRequest{
		ID:     orderID,
		Status: string(domain.OrderStatusDelivered),
	})
	s.Require().NoError(err)
	s.Equal(string(domain.OrderStatusDelivered), delivered.Status)

	s.expectEvents(orderID, domain.EventOrderCreated, domain.EventOrderPaid, domain.EventOrderStatusChanged)
	result := s.relay.ProcessOnce(s.ctx())
	s.Equal(outbox.Result{Sent: 3}, result)

	pending, err := s.outbox.PullPending(10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *OrderLifecycleTestSuite) TestDuplicatePaymentIsIgnored() {
	orderID := s.createOrder().Order.ID

	s.Require().NoError(s.deliverPayment(orderID, "ch_1"))
	s.Require().NoError(s.deliverPayment(orderID, "ch_2"))

	found, err := s.client.FindOneOrder(s.ctx(), &grpcsvc.FindOneOrderRequest{ID: orderID})
	s.Require().NoError(err)
	s.Equal("ch_1", found.Order.StripeChargeID)
	s.Len(found.Timeline, 2)

	s.expectEvents(orderID, domain.EventOrderCreated, domain.EventOrderPaid)
	s.Equal(outbox.Result{Sent: 2}, s.relay.ProcessOnce(s.ctx()))
}

func (s *OrderLifecycleTestSuite) TestPaymentForUnknownOrderIsPermanent() {
	err := s.deliverPayment("7f1c7d1e-3c1a-4b8e-9d2a-0c4b5e6f7a8b", "ch_1")
	s.Require().ErrorIs(err, kafka.ErrPermanent)

	err = s.onPayment(s.ctx(), &sarama.ConsumerMessage{Value: []byte("{broken")})
	s.Require().ErrorIs(err, kafka.ErrPermanent)
}

func (s *OrderLifecycleTestSuite) TestUnknownProductRejected() {
	_, err := s.client.CreateOrder(s.ctx(), &orders.CreateOrderRequest{Items: []orders.ItemRequest{
		{ProductID: "404", Quantity: 1},
	}})
	s.Require().Error(err)
	s.Equal(codes.InvalidArgument, status.Code(err))

	page, err := s.client.FindAllOrders(s.ctx(), &orders.PaginationRequest{})
	s.Require().NoError(err)
	s.Zero(page.Meta.Total)
}

func (s *OrderLifecycleTestSuite) TestCancelAndPaginate() {
	first := s.createOrder().Order.ID
	s.createOrder()

	_, err := s.client.ChangeOrderStatus(s.ctx(), &orders.ChangeStatusRequest{
		ID:     first,
		Status: string(domain.OrderStatusCancelled),
	})
	s.Require().NoError(err)

	page, err := s.client.FindAllOrders(s.ctx(), &orders.PaginationRequest{
		Status: string(domain.OrderStatusCancelled),
	})
	s.Require().NoError(err)
	s.Equal(1, page.Meta.Total)
	s.Require().Len(page.Data, 1)
	s.Equal(first, page.Data[0].ID)
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
