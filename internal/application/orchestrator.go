package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	bookingDomain "github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/internal/lock"
	"github.com/seaport-ferry/service-booking/pkg/domain"
	"github.com/seaport-ferry/service-booking/pkg/kafka"
)

const (
	reasonPaymentDeadline = "payment deadline exceeded"
	notesReviewLapsed     = "review window lapsed"
	reasonPaymentDispute  = "payment disputed"
)

// errSuperseded marks a deadline whose booking already left the timed state.
var errSuperseded = errors.New("deadline superseded")

// mutation changes a loaded booking inside the critical section.
type mutation func(bk *bookingDomain.Booking, now time.Time) error

// ApplyAction validates and applies a requested action on behalf of actor.
func (s *BookingService) ApplyAction(
	ctx context.Context,
	bookingID int64,
	action bookingDomain.Action,
	actor bookingDomain.Actor,
	payload bookingDomain.Payload,
) (result *BookingDTO, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.ApplyAction")
	span.SetAttributes(
		attribute.Int64("booking.id", bookingID),
		attribute.String("booking.action", string(action)),
		attribute.String("actor.role", string(actor.Role)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !action.IsHuman() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown action %s", action))
	}

	if action == bookingDomain.ActionProcessRefund {
		if !s.refunds.claim(bookingID) {
			return nil, domain.NewConflictError(
				fmt.Sprintf("a refund for booking %d is already being processed", bookingID))
		}
		defer s.refunds.release(bookingID)
	}

	if action.RequiresPayment() {
		if err := s.preflightPayment(ctx, bookingID, action, actor, payload); err != nil {
			return nil, err
		}
	}

	bk, events, err := s.transition(ctx, bookingID, func(bk *bookingDomain.Booking, now time.Time) error {
		if decision := bookingDomain.Authorize(bk, action, actor); !decision.Allowed {
			return decision.Err()
		}
		if err := payload.Validate(action, bk); err != nil {
			return err
		}
		return applyToBooking(bk, action, actor, payload, now)
	})
	if err != nil {
		s.logger.Info("booking action refused",
			zap.Int64("booking_id", bookingID),
			zap.String("action", string(action)),
			zap.String("actor_id", actor.ID.String()),
			zap.String("role", string(actor.Role)),
			zap.Error(err),
		)
		return nil, err
	}

	s.afterCommit(ctx, bk, events)
	dto := toBookingDTO(bk)
	return &dto, nil
}

// FireDeadline applies the automatic transition for a lapsed deadline as the system actor.
// A deadline whose booking has moved on is a no-op.
func (s *BookingService) FireDeadline(ctx context.Context, d bookingDomain.Deadline) error {
	ctx, span := tracer.Start(ctx, "BookingService.FireDeadline")
	span.SetAttributes(
		attribute.Int64("booking.id", d.BookingID),
		attribute.String("deadline.target", string(d.Target)),
	)
	defer span.End()

	system := bookingDomain.SystemActor()
	bk, events, err := s.transition(ctx, d.BookingID, func(bk *bookingDomain.Booking, now time.Time) error {
		if bk.Status() != d.Source || !bookingDomain.IsValidTransition(bk.Status(), d.Target) {
			return errSuperseded
		}
		switch d.Target {
		case bookingDomain.StatusCancelled:
			return bk.Cancel(system, reasonPaymentDeadline, now)
		case bookingDomain.StatusInProgress:
			return bk.ApproveReview(system, notesReviewLapsed, now)
		default:
			return fmt.Errorf("no automatic transition to %s", d.Target)
		}
	})
	if errors.Is(err, errSuperseded) {
		s.logger.Debug("deadline superseded",
			zap.Int64("booking_id", d.BookingID),
			zap.String("to", string(d.Target)),
		)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("deadline fired",
		zap.Int64("booking_id", bk.ID()),
		zap.String("from", string(d.Source)),
		zap.String("to", string(bk.Status())),
	)
	s.afterCommit(ctx, bk, events)
	return nil
}

// RequestRefundAsSystem opens a refund on behalf of the system, e.g. after a payment dispute.
// An active booking is cancelled first so the refund can be opened. A booking whose arrival
// is already confirmed can no longer be cancelled: the dispute is recorded instead and the
// refund opens when the booking completes.
func (s *BookingService) RequestRefundAsSystem(ctx context.Context, bookingID int64, reason string) (*BookingDTO, error) {
	ctx, span := tracer.Start(ctx, "BookingService.RequestRefundAsSystem")
	span.SetAttributes(attribute.Int64("booking.id", bookingID))
	defer span.End()

	if reason == "" {
		reason = reasonPaymentDispute
	}
	system := bookingDomain.SystemActor()
	bk, events, err := s.transition(ctx, bookingID, func(bk *bookingDomain.Booking, now time.Time) error {
		if bk.PaidAt() == nil {
			return domain.NewValidationError("only paid bookings can be refunded")
		}
		switch {
		case bk.Status() == bookingDomain.StatusInProgress && bk.ArrivalConfirmed():
			return bk.RecordDispute(reason, now)
		case bk.Status().CanBeCancelled():
			if err := bk.Cancel(system, reason, now); err != nil {
				return err
			}
		}
		return bk.RequestRefund(system, reason, now)
	})
	if err != nil {
		return nil, err
	}
	if bk.DisputePending() {
		s.logger.Info("dispute recorded, refund opens on completion",
			zap.Int64("booking_id", bk.ID()),
			zap.String("booking_code", bk.Code()),
		)
	}

	s.afterCommit(ctx, bk, events)
	dto := toBookingDTO(bk)
	return &dto, nil
}

// preflightPayment calls the payment service before the booking is locked.
// It authorizes speculatively so that unauthorized callers never reach the payment service.
func (s *BookingService) preflightPayment(
	ctx context.Context,
	bookingID int64,
	action bookingDomain.Action,
	actor bookingDomain.Actor,
	payload bookingDomain.Payload,
) error {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if decision := bookingDomain.Authorize(bk, action, actor); !decision.Allowed {
		return decision.Err()
	}
	if err := payload.Validate(action, bk); err != nil {
		return err
	}

	var ok bool
	switch action {
	case bookingDomain.ActionPay:
		ok, err = s.payment.ConfirmPayment(ctx, bookingID)
		if err == nil && !ok {
			err = errors.New("payment not settled")
		}
	case bookingDomain.ActionProcessRefund:
		ok, err = s.payment.IssueRefund(ctx, bookingID, *payload.RefundAmountCents, bk.RefundIdempotencyKey())
		if err == nil && !ok {
			err = errors.New("refund not settled")
		}
	}
	if err != nil {
		s.logger.Warn("payment service call failed",
			zap.Int64("booking_id", bookingID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return domain.NewCollaboratorError("payment", err)
	}
	return nil
}

// transition runs mutate under the booking's lock, follows automatic successors, persists
// the result and re-arms deadlines. The lock is released before it returns.
func (s *BookingService) transition(ctx context.Context, bookingID int64, mutate mutation) (*bookingDomain.Booking, []bookingDomain.DomainEvent, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	release, err := s.locker.Acquire(lockCtx, bookingID)
	cancel()
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, nil, domain.NewConflictError(
				fmt.Sprintf("booking %d is being modified by another actor", bookingID))
		}
		return nil, nil, fmt.Errorf("failed to lock booking %d: %w", bookingID, err)
	}
	defer release()

	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	if err := mutate(bk, now); err != nil {
		return nil, nil, err
	}
	if err := s.followAutomatic(bk, now); err != nil {
		return nil, nil, err
	}

	bk.IncrementVersion()
	if err := s.repo.Update(ctx, bk); err != nil {
		return nil, nil, err
	}

	s.scheduler.Sync(bk)
	return bk, bk.PullEvents(), nil
}

// followAutomatic applies the system hops that follow CONFIRMED and PAID, and opens the
// refund for a disputed booking once it completes.
func (s *BookingService) followAutomatic(bk *bookingDomain.Booking, now time.Time) error {
	for {
		next, ok := bk.Status().AutomaticSuccessor()
		if !ok {
			if bk.Status() == bookingDomain.StatusCompleted && bk.DisputePending() {
				return bk.RequestRefund(bookingDomain.SystemActor(), bk.DisputeReason(), now)
			}
			return nil
		}
		var err error
		switch next {
		case bookingDomain.StatusWaitingForPayment:
			err = bk.IssueInvoice(now.Add(s.cfg.PaymentWindow), now)
		case bookingDomain.StatusInReview:
			err = bk.HandOffToReview(now.Add(s.cfg.ReviewWindow), now)
		default:
			err = fmt.Errorf("no automatic handler for %s", next)
		}
		if err != nil {
			return err
		}
	}
}

func applyToBooking(
	bk *bookingDomain.Booking,
	action bookingDomain.Action,
	actor bookingDomain.Actor,
	p bookingDomain.Payload,
	now time.Time,
) error {
	switch action {
	case bookingDomain.ActionApprove:
		return bk.Approve(actor, p.Notes, now)
	case bookingDomain.ActionReject:
		return bk.Reject(actor, p.Reason, now)
	case bookingDomain.ActionPay:
		return bk.MarkPaid(actor, now)
	case bookingDomain.ActionApproveReview:
		return bk.ApproveReview(actor, p.Notes, now)
	case bookingDomain.ActionConfirmArrival:
		return bk.ConfirmArrival(actor, now)
	case bookingDomain.ActionComplete:
		return bk.Complete(actor, now)
	case bookingDomain.ActionCancel:
		return bk.Cancel(actor, p.Reason, now)
	case bookingDomain.ActionRequestRefund:
		return bk.RequestRefund(actor, p.Reason, now)
	case bookingDomain.ActionProcessRefund:
		return bk.ProcessRefund(actor, *p.RefundAmountCents, p.Notes, now)
	default:
		return domain.NewValidationError(fmt.Sprintf("unknown action %s", action))
	}
}

// afterCommit publishes one event per hop, notifies, and releases capacity on cancellation.
// It runs after the lock is released.
func (s *BookingService) afterCommit(ctx context.Context, bk *bookingDomain.Booking, events []bookingDomain.DomainEvent) {
	for _, evt := range events {
		s.publishEvent(ctx, evt)
		s.notify(ctx, evt)
		if evt.ToState == bookingDomain.StatusCancelled {
			s.releaseCapacity(ctx, bk)
		}
	}
}

func (s *BookingService) publishEvent(ctx context.Context, evt bookingDomain.DomainEvent) {
	cloudEvent, err := kafka.NewCloudEvent(eventSource, evt.EventType(), evt)
	if err != nil {
		s.logger.Error("failed to create cloud event",
			zap.String("event_type", evt.EventType()),
			zap.Error(err),
		)
		return
	}
	cloudEvent.Subject = evt.BookingCode

	if err := s.producer.PublishEventWithKey(ctx, s.cfg.BookingEventsTopic, bookingKey(evt.BookingID), cloudEvent); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("topic", s.cfg.BookingEventsTopic),
			zap.String("event_type", evt.EventType()),
			zap.Int64("booking_id", evt.BookingID),
			zap.Error(err),
		)
	}
}

func (s *BookingService) notify(ctx context.Context, evt bookingDomain.DomainEvent) {
	n := Notification{
		BookingID:   evt.BookingID,
		BookingCode: evt.BookingCode,
		CustomerID:  evt.CustomerID,
		OldState:    string(evt.FromState),
		NewState:    string(evt.ToState),
		Actor:       evt.Actor,
		OccurredAt:  evt.Timestamp,
	}
	bg := context.WithoutCancel(ctx)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		nctx, cancel := context.WithTimeout(bg, 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(nctx, n); err != nil {
			s.logger.Warn("notification failed",
				zap.Int64("booking_id", n.BookingID),
				zap.String("to", n.NewState),
				zap.Error(err),
			)
		}
	}()
}

// releaseCapacity returns the booking's slots, retrying with backoff.
func (s *BookingService) releaseCapacity(ctx context.Context, bk *bookingDomain.Booking) {
	bg := context.WithoutCancel(ctx)
	id, scheduleID, passengers, vehicles := bk.ID(), bk.ScheduleID(), bk.Passengers(), bk.VehicleIDs()

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxElapsedTime = 2 * time.Minute

		op := func() error {
			cctx, cancel := context.WithTimeout(bg, 10*time.Second)
			defer cancel()
			return s.capacity.Release(cctx, scheduleID, id, passengers, vehicles)
		}
		notify := func(err error, wait time.Duration) {
			s.logger.Warn("capacity release failed, retrying",
				zap.Int64("booking_id", id),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
		}
		if err := backoff.RetryNotify(op, backoff.WithContext(b, bg), notify); err != nil {
			s.logger.Error("capacity release abandoned",
				zap.Int64("booking_id", id),
				zap.Int64("schedule_id", scheduleID),
				zap.Error(err),
			)
		}
	}()
}
