package catalog_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
)

const bufSize = 1024 * 1024

func startCatalog(t *testing.T, srv catalog.ProductServiceServer, timeout time.Duration) *catalog.Client {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	catalog.RegisterProductServiceServer(server, srv)
	go func() {
		_ = server.Serve(listener)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
	client, err := catalog.Dial("passthrough:///bufnet", timeout, loggerForTests(), grpc.WithContextDialer(dialer))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		server.Stop()
	})
	return client
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

type failingServer struct {
	code  codes.Code
	calls atomic.Int32
}

func (s *failingServer) ValidateProducts(context.Context, *catalog.ValidateProductsRequest) (*catalog.ValidateProductsResponse, error) {
	s.calls.Add(1)
	return nil, status.Error(s.code, "catalog is down")
}

type blockingServer struct{}

func (blockingServer) ValidateProducts(ctx context.Context, _ *catalog.ValidateProductsRequest) (*catalog.ValidateProductsResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClientReturnsFoundProductsOnly(t *testing.T) {
	static := catalog.NewStatic(
		domain.ProductSnapshot{ID: "p1", Name: "Keyboard", Price: decimal.RequireFromString("10.50")},
		domain.ProductSnapshot{ID: "p2", Name: "Mouse", Price: decimal.NewFromInt(5)},
	)
	client := startCatalog(t, catalog.NewServer(static), time.Second)

	products, err := client.ValidateProducts(context.Background(), []string{"p1", "missing"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "p1", products[0].ID)
	assert.Equal(t, "Keyboard", products[0].Name)
	assert.True(t, products[0].Price.Equal(decimal.RequireFromString("10.5")))

	index := domain.NewProductIndex(products)
	assert.Equal(t, []string{"missing"}, index.Missing([]string{"p1", "missing"}))
}

func TestClientEmptyRequestSkipsCall(t *testing.T) {
	static := catalog.NewStatic()
	client := startCatalog(t, catalog.NewServer(static), time.Second)

	products, err := client.ValidateProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Zero(t, static.Calls())
}

func TestClientMapsFailuresToUpstreamUnavailable(t *testing.T) {
	srv := &failingServer{code: codes.Internal}
	client := startCatalog(t, srv, time.Second)

	_, err := client.ValidateProducts(context.Background(), []string{"p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int32(1), srv.calls.Load(), "non-retryable codes are not retried")
}

func TestClientRetriesUnavailable(t *testing.T) {
	srv := &failingServer{code: codes.Unavailable}
	client := startCatalog(t, srv, 5*time.Second)

	_, err := client.ValidateProducts(context.Background(), []string{"p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int32(3), srv.calls.Load())
}

func TestClientTimeout(t *testing.T) {
	client := startCatalog(t, blockingServer{}, 50*time.Millisecond)

	started := time.Now()
	_, err := client.ValidateProducts(context.Background(), []string{"p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestServerPropagatesSourceError(t *testing.T) {
	static := catalog.NewStatic()
	static.SetError(assert.AnError)
	client := startCatalog(t, catalog.NewServer(static), time.Second)

	_, err := client.ValidateProducts(context.Background(), []string{"p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}
