package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	bookingDomain "github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/pkg/kafka"
)

// CapacityService reserves and releases passenger and vehicle slots on a departure.
type CapacityService interface {
	Reserve(ctx context.Context, scheduleID int64, passengers int, vehicleIDs []int64) error
	Release(ctx context.Context, scheduleID, bookingID int64, passengers int, vehicleIDs []int64) error
}

// PaymentService confirms settlements and issues refunds.
// IssueRefund must settle at most one refund per idempotency key.
type PaymentService interface {
	ConfirmPayment(ctx context.Context, bookingID int64) (bool, error)
	IssueRefund(ctx context.Context, bookingID, amountCents int64, idempotencyKey string) (bool, error)
}

// Notification is a status-change message for the notification service.
type Notification struct {
	BookingID   int64               `json:"booking_id"`
	BookingCode string              `json:"booking_code"`
	CustomerID  uuid.UUID           `json:"customer_id"`
	OldState    string              `json:"old_state"`
	NewState    string              `json:"new_state"`
	Actor       bookingDomain.Actor `json:"actor"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// Notifier delivers notifications. Delivery failures never affect the booking.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// EventPublisher writes CloudEvents to a topic.
type EventPublisher interface {
	PublishEventWithKey(ctx context.Context, topic, key string, event kafka.CloudEvent) error
}

// DeadlineScheduler arms and cancels deadline timers.
type DeadlineScheduler interface {
	// Sync cancels the booking's outstanding timers and arms its open deadline, if any.
	Sync(b *bookingDomain.Booking)
}
