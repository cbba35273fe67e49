package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
)

func consumerDLQValue(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(kafka.DLQMessage{
		OriginalTopic: kafka.TopicPaymentsSucceeded,
		OriginalKey:   "order-1",
		OriginalValue: `{"orderId":"order-1"}`,
		ErrorMessage:  "catalog unavailable",
		RetryCount:    3,
	})
	require.NoError(t, err)
	return raw
}

func outboxDLQValue(t *testing.T, payload json.RawMessage) []byte {
	t.Helper()
	dead, err := json.Marshal(outbox.DeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "order.paid",
		Payload:       payload,
		PublishError:  "timeout",
		Attempts:      3,
	})
	require.NoError(t, err)
	raw, err := json.Marshal(kafka.Envelope{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "order.paid",
		Payload:       dead,
	})
	require.NoError(t, err)
	return raw
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	assert.Empty(t, parseBrokers(" , "))
}

func TestReadConfig(t *testing.T) {
	getenv := func(key string) string {
		if key == "KAFKA_BROKERS" {
			return "env-broker:9092"
		}
		return ""
	}

	cfg, err := readConfig([]string{"-execute", "-limit=5", "-from-newest"}, getenv)
	require.NoError(t, err)
	assert.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	assert.Equal(t, 5, cfg.limit)
	assert.True(t, cfg.execute)
	assert.True(t, cfg.fromNewest)

	cfg, err = readConfig([]string{"-brokers=flag-broker:9092"}, getenv)
	require.NoError(t, err)
	assert.Equal(t, []string{"flag-broker:9092"}, cfg.brokers)
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	noEnv := func(string) string { return "" }

	_, err := readConfig(nil, noEnv)
	require.ErrorContains(t, err, "kafka brokers are required")

	_, err = readConfig([]string{"-brokers=b:9092", "-limit=0", "-idle-timeout=0s", "-source-topic="}, noEnv)
	require.Error(t, err)
	assert.ErrorContains(t, err, "limit must be > 0")
	assert.ErrorContains(t, err, "idle-timeout must be > 0")
	assert.ErrorContains(t, err, "source-topic is required")

	_, err = readConfig([]string{"-unknown"}, noEnv)
	require.Error(t, err)
}

func TestExtractReplayMessage(t *testing.T) {
	t.Run("consumer dlq", func(t *testing.T) {
		got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: consumerDLQValue(t)}, kafka.TopicOrderEvents)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, kafka.TopicPaymentsSucceeded, got.topic)
		assert.Equal(t, "order-1", got.key)
		assert.JSONEq(t, `{"orderId":"order-1"}`, string(got.value))
		assert.Empty(t, got.eventType)
	})

	t.Run("outbox dead letter", func(t *testing.T) {
		value := outboxDLQValue(t, json.RawMessage(`{"status":"PAID"}`))
		got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: value}, kafka.TopicOrderEvents)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, kafka.TopicOrderEvents, got.topic)
		assert.Equal(t, "order-1", got.key)
		assert.Equal(t, "order.paid", got.eventType)

		var envelope kafka.Envelope
		require.NoError(t, json.Unmarshal(got.value, &envelope))
		assert.Equal(t, "outbox-1", envelope.ID)
		assert.JSONEq(t, `{"status":"PAID"}`, string(envelope.Payload))
	})

	t.Run("dead letter without payload", func(t *testing.T) {
		_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: outboxDLQValue(t, nil)}, kafka.TopicOrderEvents)
		require.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown payload", func(t *testing.T) {
		_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, kafka.TopicOrderEvents)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPublishReplay(t *testing.T) {
	require.Error(t, publishReplay(nil, replayMessage{}))

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicOrderEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "order.paid" {
			return fmt.Errorf("unexpected headers %+v", msg.Headers)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(errors.New("send failed"))

	require.NoError(t, publishReplay(producer, replayMessage{topic: kafka.TopicOrderEvents, key: "order-1", eventType: "order.paid", value: []byte(`{}`)}))
	require.Error(t, publishReplay(producer, replayMessage{topic: kafka.TopicOrderEvents, value: []byte(`{}`)}))
	require.NoError(t, producer.Close())
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Offset: 0, Value: consumerDLQValue(t)},
			{Offset: 1, Value: []byte(`not json`)},
		}),
	}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
	assert.Equal(t, []consumeCall{{partition: 0, offset: 0}}, consumer.calls)
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: outboxDLQValue(t, json.RawMessage(`{}`))}}),
	}}
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.replayed)
	require.NoError(t, producer.Close())
}

func TestProcessPartition_FromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(nil),
	}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, fromNewest: true, idleTimeout: 20 * time.Millisecond}

	_, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), consumer.calls[0].offset)
}

func TestProcessPartition_Errors(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, execute: true, idleTimeout: 20 * time.Millisecond}

	_, err := processPartition(context.Background(), &stubPartitionConsumerSource{},
		&stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}, nil, cfg, 0, 1)
	require.ErrorContains(t, err, "offset")

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	_, err = processPartition(context.Background(), &stubPartitionConsumerSource{consumeErr: errors.New("consume")}, client, nil, cfg, 0, 1)
	require.ErrorContains(t, err, "consume")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: consumerDLQValue(t)}}),
	}}
	_, err = processPartition(context.Background(), consumer, client, producer, cfg, 0, 1)
	require.ErrorContains(t, err, "publish replay message")
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}
	open := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: open}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, idleTimeout: 10 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 5)
	require.NoError(t, err)
	assert.Zero(t, stats.processed)
	assert.True(t, open.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Minute
	_, err = processPartition(ctx, consumer, client, nil, cfg, 0, 5)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunReplay(t *testing.T) {
	_, err := runReplay(context.Background(), config{}, nil, nil, nil)
	require.Error(t, err)

	_, err = runReplay(context.Background(), config{execute: true}, &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil)
	require.ErrorContains(t, err, "producer is required")

	_, err = runReplay(context.Background(), config{}, &stubOffsetClient{partitionsErr: errors.New("metadata")}, &stubPartitionConsumerSource{}, nil)
	require.ErrorContains(t, err, "metadata")

	client := &stubOffsetClient{
		partitions: []int32{1, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 1},
			1: {oldest: 0, newest: 1},
		},
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: consumerDLQValue(t)}}),
		1: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: consumerDLQValue(t)}}),
	}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, limit: 1, idleTimeout: 20 * time.Millisecond}

	stats, err := runReplay(context.Background(), cfg, client, consumer, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.processed)
	require.Len(t, consumer.calls, 1)
	assert.Equal(t, int32(0), consumer.calls[0].partition)
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	client := &stubOffsetClient{}
	consumer := &stubPartitionConsumerSource{}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, nil, nil
	}
	require.NoError(t, run(context.Background(), config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, idleTimeout: time.Millisecond}))
	assert.True(t, client.closed)
	assert.True(t, consumer.closed)

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("dial")
	}
	require.ErrorContains(t, run(context.Background(), config{}), "dial")
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.NotZero(t, exitErr.ExitCode())
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}
