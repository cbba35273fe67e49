package outbox

import (
	"context"
	"encoding/json"
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

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
	callCount      int
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, event)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func newTestWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	base := []Option{
		WithLogger(logger.WithField("test", "outbox")),
		WithRegisterer(prometheus.NewRegistry()),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	}
	return NewWorker(repo, publisher, append(base, opts...)...)
}

func enqueue(t *testing.T, repo domain.OutboxRepository, orderID string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     domain.EventOrderStatusChanged,
		Payload:       []byte(`{"status":"CANCELLED"}`),
	})
	require.NoError(t, err)
	return msg
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, "order-1")
	publisher := &stubPublisher{}

	result := newTestWorker(repo, publisher).ProcessOnce(context.Background())

	assert.Equal(t, Result{Sent: 1}, result)
	assert.Equal(t, 1, publisher.calls())
	require.Len(t, publisher.published, 1)
	assert.Equal(t, msg.ID, publisher.published[0].ID)
	assert.Empty(t, repo.AllPending())
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, "order-2")
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubPublisher{}

	result := newTestWorker(repo, publisher, WithDLQPublisher(dlq)).ProcessOnce(context.Background())

	assert.Equal(t, Result{Failed: 1}, result)
	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.AllPending())

	require.Len(t, dlq.published, 1)
	var dead DeadLetter
	require.NoError(t, json.Unmarshal(dlq.published[0].Payload, &dead))
	assert.Equal(t, msg.ID, dead.OutboxID)
	assert.Equal(t, "order-2", dead.AggregateID)
	assert.Equal(t, 3, dead.Attempts)
	assert.Contains(t, dead.PublishError, "broker down")
	assert.JSONEq(t, `{"status":"CANCELLED"}`, string(dead.Payload))
}

func TestWorker_ProcessOnce_DLQFailureStillMarksFailed(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-3")
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubPublisher{err: errors.New("dlq down")}

	result := newTestWorker(repo, publisher, WithDLQPublisher(dlq), WithMaxAttempts(1)).ProcessOnce(context.Background())

	assert.Equal(t, Result{Failed: 1}, result)
	assert.Equal(t, 1, dlq.calls())
	assert.Empty(t, repo.AllPending())
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-4")
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	result := newTestWorker(repo, publisher, WithRetryBaseDelay(time.Millisecond)).ProcessOnce(context.Background())

	assert.Equal(t, Result{Sent: 1}, result)
	assert.Equal(t, 3, publisher.calls())
}

func TestWorker_ProcessOnce_BatchSize(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	for i := 0; i < 5; i++ {
		enqueue(t, repo, "order-batch")
	}
	publisher := &stubPublisher{}
	worker := newTestWorker(repo, publisher, WithBatchSize(2))

	assert.Equal(t, Result{Sent: 2}, worker.ProcessOnce(context.Background()))
	assert.Len(t, repo.AllPending(), 3)
}

func TestWorker_ProcessOnce_CancelledContext(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-5")
	publisher := &stubPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, Result{}, newTestWorker(repo, publisher).ProcessOnce(ctx))
	assert.Zero(t, publisher.calls())
	assert.Len(t, repo.AllPending(), 1)
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-6")
	publisher := &stubPublisher{}
	worker := newTestWorker(repo, publisher, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, func() bool { return publisher.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(memory.NewOutboxRepository(), nil)
	assert.NoError(t, worker.Run(context.Background()))
}

func TestNextDelay(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, nextDelay(50*time.Millisecond))
	assert.Equal(t, 30*time.Second, nextDelay(20*time.Second))
}
