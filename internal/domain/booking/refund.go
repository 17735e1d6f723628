package booking

import (
	"fmt"
	"time"

	"github.com/seaport-ferry/service-booking/pkg/domain"
)

// ValidateRefundAmount checks 0 <= amount <= total.
func ValidateRefundAmount(amountCents, totalCents int64) error {
	if amountCents < 0 {
		return domain.NewValidationError("refund amount must not be negative")
	}
	if amountCents > totalCents {
		return domain.NewValidationError(
			fmt.Sprintf("refund amount %d exceeds booking total %d", amountCents, totalCents))
	}
	return nil
}

// RequestRefund moves a COMPLETED or CANCELLED booking to IN_REFUND.
// Only bookings that were paid can be refunded.
func (b *Booking) RequestRefund(actor Actor, reason string, at time.Time) error {
	if err := b.ensure(StatusInRefund); err != nil {
		return err
	}
	if b.s.PaidAt == nil {
		return domain.NewValidationError("only paid bookings can be refunded")
	}
	at = at.UTC()
	b.s.RefundRequestedBy = actor.ref()
	b.s.RefundRequestedAt = &at
	b.moveTo(StatusInRefund, ActionRequestRefund, actor, at, Payload{Reason: reason})
	return nil
}

// RefundRequestedAt returns when the booking entered IN_REFUND, or nil.
func (b *Booking) RefundRequestedAt() *time.Time { return b.s.RefundRequestedAt }

// RefundIdempotencyKey identifies the refund opened by the booking's IN_REFUND entry.
// A booking enters IN_REFUND at most once, so the key is stable across retries.
func (b *Booking) RefundIdempotencyKey() string {
	if b.s.RefundRequestedAt == nil {
		return fmt.Sprintf("refund-%d", b.s.ID)
	}
	return fmt.Sprintf("refund-%d-%d", b.s.ID, b.s.RefundRequestedAt.UnixMicro())
}

// RecordDispute notes a payment dispute that cannot open a refund yet. The refund opens
// once the booking completes. The first recorded dispute is kept.
func (b *Booking) RecordDispute(reason string, at time.Time) error {
	if b.s.PaidAt == nil {
		return domain.NewValidationError("only paid bookings can be disputed")
	}
	if b.s.Status.IsTerminal() || b.s.Status == StatusInRefund {
		return domain.NewWrongStateError(fmt.Sprintf("cannot record dispute on booking in status %s", b.s.Status))
	}
	if b.s.DisputedAt != nil {
		return nil
	}
	at = at.UTC()
	b.s.DisputedAt = &at
	b.s.DisputeReason = reason
	b.s.UpdatedAt = at
	return nil
}

// DisputePending reports whether a recorded dispute still waits for its refund.
func (b *Booking) DisputePending() bool {
	return b.s.DisputedAt != nil && b.s.RefundRequestedAt == nil
}

// DisputeReason returns the reason given with the recorded dispute.
func (b *Booking) DisputeReason() string { return b.s.DisputeReason }

// ProcessRefund settles an IN_REFUND booking and moves it to REFUNDED.
func (b *Booking) ProcessRefund(actor Actor, amountCents int64, notes string, at time.Time) error {
	if err := b.ensure(StatusRefunded); err != nil {
		return err
	}
	if err := ValidateRefundAmount(amountCents, b.s.TotalAmountCents); err != nil {
		return err
	}
	at = at.UTC()
	amount := amountCents
	b.s.RefundAmountCents = &amount
	b.s.RefundNotes = notes
	b.s.RefundProcessedBy = actor.ref()
	b.s.RefundProcessedAt = &at
	b.moveTo(StatusRefunded, ActionProcessRefund, actor, at, Payload{Notes: notes, RefundAmountCents: &amount})
	return nil
}
