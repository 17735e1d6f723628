// Package notification publishes booking status changes for the notification service.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/seaport-ferry/service-booking/internal/application"
)

// ProducerConfig configures the sarama producer behind KafkaNotifier.
type ProducerConfig struct {
	Brokers  []string
	Topic    string
	RetryMax int
	Timeout  time.Duration
}

// NewSaramaConfig returns the producer settings used for notifications.
func NewSaramaConfig(cfg ProducerConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = "service-booking"
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = cfg.RetryMax
	sc.Producer.Timeout = cfg.Timeout
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	return sc
}

// KafkaNotifier sends notifications to the notifications topic, keyed by customer.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaNotifier dials the brokers and returns a notifier.
func NewKafkaNotifier(cfg ProducerConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create notification producer: %w", err)
	}
	return NewKafkaNotifierWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaNotifierWithProducer wraps an existing producer.
func NewKafkaNotifierWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, logger: logger}
}

// Notify publishes n. The context only bounds the caller's wait; sarama enforces its own timeout.
func (k *KafkaNotifier) Notify(ctx context.Context, n application.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     k.topic,
		Key:       sarama.StringEncoder(n.CustomerID.String()),
		Value:     sarama.ByteEncoder(body),
		Timestamp: n.OccurredAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte("booking_id"), Value: []byte(strconv.FormatInt(n.BookingID, 10))},
			{Key: []byte("booking_code"), Value: []byte(n.BookingCode)},
			{Key: []byte("new_state"), Value: []byte(n.NewState)},
			{Key: []byte("producer"), Value: []byte("service-booking")},
		},
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	k.logger.Debug("notification sent",
		zap.Int64("booking_id", n.BookingID),
		zap.String("to", n.NewState),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaNotifier) Close() error {
	if err := k.producer.Close(); err != nil {
		return fmt.Errorf("failed to close notification producer: %w", err)
	}
	return nil
}
