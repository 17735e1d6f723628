package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/seaport-ferry/service-booking/internal/application"
	bookingDomain "github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/pkg/domain"
	"github.com/seaport-ferry/service-booking/pkg/kafka"
)

// Payment event types consumed from the payment topic.
const (
	PaymentCompleted     = "payment.completed"
	PaymentDisputeOpened = "payment.dispute_opened"
)

// PaymentCompletedEvent is published by the payment service once a customer payment settles.
type PaymentCompletedEvent struct {
	BookingID  int64     `json:"booking_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	PaymentID  string    `json:"payment_id"`
}

// PaymentDisputeOpenedEvent is published when a customer disputes a settled payment.
type PaymentDisputeOpenedEvent struct {
	BookingID int64  `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

// BookingActions is the part of the booking service driven by payment events.
type BookingActions interface {
	ApplyAction(ctx context.Context, bookingID int64, action bookingDomain.Action, actor bookingDomain.Actor, payload bookingDomain.Payload) (*application.BookingDTO, error)
	RequestRefundAsSystem(ctx context.Context, bookingID int64, reason string) (*application.BookingDTO, error)
}

// PaymentEventConsumer listens to payment events and drives the matching booking actions.
type PaymentEventConsumer struct {
	consumer *kafka.Consumer
	service  BookingActions
	dedup    Deduplicator
	logger   *zap.Logger
}

// NewPaymentEventConsumer creates a new PaymentEventConsumer.
func NewPaymentEventConsumer(
	brokers []string,
	groupID string,
	topic string,
	service BookingActions,
	dedup Deduplicator,
	logger *zap.Logger,
) *PaymentEventConsumer {
	return &PaymentEventConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, topic, logger),
		service:  service,
		dedup:    dedup,
		logger:   logger,
	}
}

// Start begins consuming payment events. This blocks until the context is cancelled.
func (c *PaymentEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *PaymentEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *PaymentEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from payment topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}
	return c.handleEvent(ctx, cloudEvent)
}

func (c *PaymentEventConsumer) handleEvent(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	if cloudEvent.Type != PaymentCompleted && cloudEvent.Type != PaymentDisputeOpened {
		c.logger.Debug("ignoring unhandled payment event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}

	first, err := c.dedup.Claim(ctx, cloudEvent.ID)
	if err != nil {
		return fmt.Errorf("failed to claim event %s: %w", cloudEvent.ID, err)
	}
	if !first {
		c.logger.Info("skipping duplicate payment event",
			zap.String("event_id", cloudEvent.ID),
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}

	switch cloudEvent.Type {
	case PaymentCompleted:
		err = c.handlePaymentCompleted(ctx, cloudEvent)
	case PaymentDisputeOpened:
		err = c.handleDisputeOpened(ctx, cloudEvent)
	}
	if err != nil {
		if uerr := c.dedup.Forget(ctx, cloudEvent.ID); uerr != nil {
			c.logger.Warn("failed to forget event claim",
				zap.String("event_id", cloudEvent.ID),
				zap.Error(uerr),
			)
		}
		return err
	}
	return nil
}

func (c *PaymentEventConsumer) handlePaymentCompleted(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt PaymentCompletedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse PaymentCompletedEvent data",
			zap.Error(err),
		)
		return nil // Don't retry malformed data
	}

	c.logger.Info("processing payment completed event",
		zap.Int64("booking_id", evt.BookingID),
		zap.String("payment_id", evt.PaymentID),
	)

	owner := bookingDomain.Actor{ID: evt.CustomerID, Role: bookingDomain.RoleCustomer}
	_, err := c.service.ApplyAction(ctx, evt.BookingID, bookingDomain.ActionPay, owner, bookingDomain.Payload{})
	return c.settle(err, evt.BookingID, "booking paid after payment settlement")
}

func (c *PaymentEventConsumer) handleDisputeOpened(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt PaymentDisputeOpenedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse PaymentDisputeOpenedEvent data",
			zap.Error(err),
		)
		return nil
	}

	c.logger.Info("processing payment dispute event",
		zap.Int64("booking_id", evt.BookingID),
		zap.String("payment_id", evt.PaymentID),
	)

	_, err := c.service.RequestRefundAsSystem(ctx, evt.BookingID, evt.Reason)
	return c.settle(err, evt.BookingID, "refund opened after payment dispute")
}

// settle decides whether a failed action is worth redelivering.
func (c *PaymentEventConsumer) settle(err error, bookingID int64, okMsg string) error {
	if err == nil {
		c.logger.Info(okMsg, zap.Int64("booking_id", bookingID))
		return nil
	}
	switch domain.CodeOf(err) {
	case domain.CodeConcurrentModification, domain.CodeCollaboratorFailure, "":
		c.logger.Error("payment event handling failed, will retry",
			zap.Int64("booking_id", bookingID),
			zap.Error(err),
		)
		return err
	default:
		c.logger.Warn("payment event not applicable to booking",
			zap.Int64("booking_id", bookingID),
			zap.Error(err),
		)
		return nil
	}
}
