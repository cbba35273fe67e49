package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

// kafkaRuntime — producer для outbox и DLQ и consumer подтверждений оплаты.
type kafkaRuntime struct {
	producer     *kafka.Producer
	consumer     *kafka.Consumer
	publisher    *kafka.OutboxTopicPublisher
	dlqPublisher *kafka.OutboxTopicPublisher
}

// initKafka возвращает nil, nil, если брокеры не заданы.
func initKafka(cfg Config, confirmer kafka.PaymentConfirmer, logger *log.Entry) (*kafkaRuntime, error) {
	if !cfg.KafkaEnabled() {
		logger.Info("KAFKA_BROKERS is empty, kafka is disabled")
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}

	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.ConsumerGroup,
		[]string{cfg.PaymentsTopic},
		kafka.NewPaymentSucceededHandler(confirmer, logger.WithField("component", "payments-consumer")),
		kafka.WithDLQ(producer),
		kafka.WithMaxRetries(cfg.ConsumerMaxRetries),
		kafka.WithRetryDelay(cfg.ConsumerRetryDelay),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		closeKafkaProducer(producer, logger)
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}

	logger.WithFields(log.Fields{
		"brokers":        cfg.KafkaBrokers,
		"payments_topic": cfg.PaymentsTopic,
		"group":          cfg.ConsumerGroup,
	}).Info("kafka initialized")

	return &kafkaRuntime{
		producer:     producer,
		consumer:     consumer,
		publisher:    kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		dlqPublisher: kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}, nil
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
