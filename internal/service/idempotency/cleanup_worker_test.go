package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

var _ domain.IdempotencyRepository = (*stubCleanupRepo)(nil)

type stubCleanupRepo struct {
	domain.IdempotencyRepository

	mu            sync.Mutex
	deleteResults []int
	deleteErrors  []error
	callCount     int
}

func (s *stubCleanupRepo) DeleteExpired(_ time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func newTestWorker(repo domain.IdempotencyRepository, opts ...CleanupOption) *CleanupWorker {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	base := []CleanupOption{
		WithLogger(logger.WithField("test", "cleanup")),
		WithRegisterer(prometheus.NewRegistry()),
	}
	return NewCleanupWorker(repo, append(base, opts...)...)
}

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 1}}
	deleted, err := newTestWorker(repo, WithBatchSize(2)).DeleteExpired(context.Background(), time.Now().UTC())

	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	assert.Equal(t, 3, repo.calls())
}

func TestCleanupWorker_DeleteExpired_ErrorKeepsPartialCount(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{
		deleteResults: []int{10},
		deleteErrors:  []error{nil, errors.New("boom")},
	}
	deleted, err := newTestWorker(repo, WithBatchSize(10)).DeleteExpired(context.Background(), time.Time{})

	require.Error(t, err)
	assert.Equal(t, 10, deleted)
}

func TestCleanupWorker_DeleteExpired_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &stubCleanupRepo{}
	_, err := newTestWorker(repo).DeleteExpired(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.calls())
}

func TestCleanupWorker_DeleteExpired_MemoryRepository(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	_, err := repo.Claim(domain.IdempotencyClaim{Key: "expired", Method: "/orders.v1.OrdersService/CreateOrder", RequestHash: "hash", ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = repo.Claim(domain.IdempotencyClaim{Key: "alive", Method: "/orders.v1.OrdersService/CreateOrder", RequestHash: "hash", ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	deleted, err := newTestWorker(repo, WithBatchSize(1)).DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.Get("expired")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("alive")
	assert.NoError(t, err)
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{}
	worker := newTestWorker(repo, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
