package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/seaport-ferry/service-booking/pkg/domain"
)

const bookingCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Snapshot is the full persisted state of a booking.
// Audit groups are append-only: once set, a field is never cleared.
type Snapshot struct {
	ID               int64
	Code             string
	CustomerID       uuid.UUID
	RouteID          int64
	FerryID          int64
	ScheduleID       int64
	VehicleIDs       []int64
	Passengers       int
	TotalAmountCents int64
	Currency         string
	Status           BookingStatus
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time

	ApprovedBy    *uuid.UUID
	ApprovedAt    *time.Time
	ApprovalNotes string

	RejectedBy      *uuid.UUID
	RejectedAt      *time.Time
	RejectionReason string

	PaymentDeadline *time.Time

	PaidBy *uuid.UUID
	PaidAt *time.Time

	ReviewDeadline *time.Time

	ReviewedBy  *uuid.UUID
	ReviewedAt  *time.Time
	ReviewNotes string

	ConfirmedArrivalBy *uuid.UUID
	ConfirmedArrivalAt *time.Time

	CompletedAt *time.Time

	CancelledBy        *uuid.UUID
	CancelledAt        *time.Time
	CancellationReason string

	RefundRequestedBy *uuid.UUID
	RefundRequestedAt *time.Time
	RefundAmountCents *int64
	RefundNotes       string
	RefundProcessedBy *uuid.UUID
	RefundProcessedAt *time.Time

	DisputedAt    *time.Time
	DisputeReason string
}

// Booking is the aggregate root for the ferry booking domain.
type Booking struct {
	s      Snapshot
	events []DomainEvent
}

// generateBookingCode creates a booking code in the format "FB-XXXXXX".
func generateBookingCode() (string, error) {
	result := make([]byte, 6)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(bookingCodeChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate booking code: %w", err)
		}
		result[i] = bookingCodeChars[n.Int64()]
	}
	return "FB-" + string(result), nil
}

// NewBookingParams holds the commercial attributes of a new booking.
type NewBookingParams struct {
	CustomerID       uuid.UUID
	RouteID          int64
	FerryID          int64
	ScheduleID       int64
	VehicleIDs       []int64
	Passengers       int
	TotalAmountCents int64
	Currency         string
}

// NewBooking creates a new Booking aggregate with status=PENDING.
func NewBooking(p NewBookingParams, now time.Time) (*Booking, error) {
	if p.CustomerID == uuid.Nil {
		return nil, domain.NewValidationError("customer ID is required")
	}
	if p.RouteID <= 0 {
		return nil, domain.NewValidationError("route ID is required")
	}
	if p.FerryID <= 0 {
		return nil, domain.NewValidationError("ferry ID is required")
	}
	if p.ScheduleID <= 0 {
		return nil, domain.NewValidationError("schedule ID is required")
	}
	if p.Passengers < 1 {
		return nil, domain.NewValidationError("at least one passenger is required")
	}
	if p.TotalAmountCents < 0 {
		return nil, domain.NewValidationError("total amount must not be negative")
	}
	for _, v := range p.VehicleIDs {
		if v <= 0 {
			return nil, domain.NewValidationError(fmt.Sprintf("invalid vehicle ID: %d", v))
		}
	}
	currency := p.Currency
	if currency == "" {
		currency = domain.CurrencyEUR
	}

	code, err := generateBookingCode()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	b := &Booking{s: Snapshot{
		Code:             code,
		CustomerID:       p.CustomerID,
		RouteID:          p.RouteID,
		FerryID:          p.FerryID,
		ScheduleID:       p.ScheduleID,
		VehicleIDs:       append([]int64(nil), p.VehicleIDs...),
		Passengers:       p.Passengers,
		TotalAmountCents: p.TotalAmountCents,
		Currency:         currency,
		Status:           StatusPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}}
	b.events = append(b.events, DomainEvent{
		BookingCode: code,
		CustomerID:  p.CustomerID,
		ToState:     StatusPending,
		Action:      ActionSubmit,
		Actor:       Actor{ID: p.CustomerID, Role: RoleCustomer},
		Timestamp:   now,
	})
	return b, nil
}

// ReconstructBooking rebuilds a Booking from persistence data (no validation).
func ReconstructBooking(s Snapshot) *Booking {
	s.VehicleIDs = append([]int64(nil), s.VehicleIDs...)
	return &Booking{s: s}
}

// Snapshot returns a copy of the booking's state.
func (b *Booking) Snapshot() Snapshot {
	s := b.s
	s.VehicleIDs = append([]int64(nil), b.s.VehicleIDs...)
	return s
}

// Clone returns an independent copy without pending events.
func (b *Booking) Clone() *Booking {
	return ReconstructBooking(b.s)
}

// --- Getters ---

// ID returns the booking's database identifier, 0 until saved.
func (b *Booking) ID() int64 { return b.s.ID }

// Code returns the human-readable booking code.
func (b *Booking) Code() string { return b.s.Code }

// CustomerID returns the owning customer's user ID.
func (b *Booking) CustomerID() uuid.UUID { return b.s.CustomerID }

// ScheduleID returns the scheduled departure the booking holds capacity on.
func (b *Booking) ScheduleID() int64 { return b.s.ScheduleID }

// VehicleIDs returns the vehicles travelling on the booking.
func (b *Booking) VehicleIDs() []int64 { return append([]int64(nil), b.s.VehicleIDs...) }

// Passengers returns the passenger count.
func (b *Booking) Passengers() int { return b.s.Passengers }

// TotalAmountCents returns the total amount in minor units.
func (b *Booking) TotalAmountCents() int64 { return b.s.TotalAmountCents }

// Status returns the current booking status.
func (b *Booking) Status() BookingStatus { return b.s.Status }

// Version returns the entity version for optimistic locking.
func (b *Booking) Version() int64 { return b.s.Version }

// PaymentDeadline returns the payment deadline, set on invoicing.
func (b *Booking) PaymentDeadline() *time.Time { return b.s.PaymentDeadline }

// ReviewDeadline returns the review deadline, set on hand-off to review.
func (b *Booking) ReviewDeadline() *time.Time { return b.s.ReviewDeadline }

// PaidAt returns when payment was confirmed.
func (b *Booking) PaidAt() *time.Time { return b.s.PaidAt }

// ArrivalConfirmed reports whether operations confirmed arrival.
func (b *Booking) ArrivalConfirmed() bool { return b.s.ConfirmedArrivalAt != nil }

// RefundAmountCents returns the settled refund, or nil.
func (b *Booking) RefundAmountCents() *int64 { return b.s.RefundAmountCents }

// AssignID sets the database identifier after the first save.
func (b *Booking) AssignID(id int64) {
	if b.s.ID == 0 {
		b.s.ID = id
		for i := range b.events {
			b.events[i].BookingID = id
		}
	}
}

// IncrementVersion bumps the version for optimistic locking.
func (b *Booking) IncrementVersion() {
	b.s.Version++
}

// PullEvents returns and clears the transitions recorded since the last call.
func (b *Booking) PullEvents() []DomainEvent {
	out := b.events
	b.events = nil
	return out
}

// Deadline is a pending automatic transition.
type Deadline struct {
	BookingID int64
	// Source is the status the timer was armed in; the firing is void if the booking has left it.
	Source    BookingStatus
	Target    BookingStatus
	FireAt    time.Time
}

// OpenDeadline returns the deadline armed by the current status, if any.
func (b *Booking) OpenDeadline() (Deadline, bool) {
	switch b.s.Status {
	case StatusWaitingForPayment:
		if b.s.PaymentDeadline != nil {
			return Deadline{BookingID: b.s.ID, Source: b.s.Status, Target: StatusCancelled, FireAt: *b.s.PaymentDeadline}, true
		}
	case StatusInReview:
		if b.s.ReviewDeadline != nil {
			return Deadline{BookingID: b.s.ID, Source: b.s.Status, Target: StatusInProgress, FireAt: *b.s.ReviewDeadline}, true
		}
	}
	return Deadline{}, false
}

// --- Behavior ---

// Approve transitions the booking from PENDING to CONFIRMED.
func (b *Booking) Approve(actor Actor, notes string, at time.Time) error {
	if err := b.ensure(StatusConfirmed); err != nil {
		return err
	}
	at = at.UTC()
	b.s.ApprovedBy = actor.ref()
	b.s.ApprovedAt = &at
	b.s.ApprovalNotes = notes
	b.moveTo(StatusConfirmed, ActionApprove, actor, at, Payload{Notes: notes})
	return nil
}

// Reject transitions the booking from PENDING to REJECTED.
func (b *Booking) Reject(actor Actor, reason string, at time.Time) error {
	if err := b.ensure(StatusRejected); err != nil {
		return err
	}
	if reason == "" {
		return domain.NewValidationError("rejection reason is required")
	}
	at = at.UTC()
	b.s.RejectedBy = actor.ref()
	b.s.RejectedAt = &at
	b.s.RejectionReason = reason
	b.moveTo(StatusRejected, ActionReject, actor, at, Payload{Reason: reason})
	return nil
}

// IssueInvoice moves a CONFIRMED booking to WAITING_FOR_PAYMENT with a fixed payment deadline.
func (b *Booking) IssueInvoice(deadline, at time.Time) error {
	if err := b.ensure(StatusWaitingForPayment); err != nil {
		return err
	}
	if b.s.PaymentDeadline != nil {
		return domain.NewValidationError("payment deadline already set")
	}
	deadline = deadline.UTC()
	b.s.PaymentDeadline = &deadline
	b.moveTo(StatusWaitingForPayment, ActionIssueInvoice, SystemActor(), at.UTC(),
		Payload{Notes: "payment due by " + deadline.Format(time.RFC3339)})
	return nil
}

// MarkPaid transitions the booking from WAITING_FOR_PAYMENT to PAID.
func (b *Booking) MarkPaid(actor Actor, at time.Time) error {
	if err := b.ensure(StatusPaid); err != nil {
		return err
	}
	at = at.UTC()
	b.s.PaidBy = actor.ref()
	b.s.PaidAt = &at
	b.moveTo(StatusPaid, ActionPay, actor, at, Payload{})
	return nil
}

// HandOffToReview moves a PAID booking to IN_REVIEW with a fixed review deadline.
func (b *Booking) HandOffToReview(deadline, at time.Time) error {
	if err := b.ensure(StatusInReview); err != nil {
		return err
	}
	if b.s.ReviewDeadline != nil {
		return domain.NewValidationError("review deadline already set")
	}
	deadline = deadline.UTC()
	b.s.ReviewDeadline = &deadline
	b.moveTo(StatusInReview, ActionStartReview, SystemActor(), at.UTC(), Payload{})
	return nil
}

// ApproveReview transitions the booking from IN_REVIEW to IN_PROGRESS.
// The system actor approves when the review window lapses; reviewedBy stays empty then.
func (b *Booking) ApproveReview(actor Actor, notes string, at time.Time) error {
	if b.s.Status != StatusInReview {
		return domain.NewInvalidTransitionError(string(b.s.Status), string(StatusInProgress))
	}
	at = at.UTC()
	b.s.ReviewedBy = actor.ref()
	b.s.ReviewedAt = &at
	b.s.ReviewNotes = notes
	b.moveTo(StatusInProgress, ActionApproveReview, actor, at, Payload{Notes: notes})
	return nil
}

// ConfirmArrival records that the ferry arrived. The status stays IN_PROGRESS.
func (b *Booking) ConfirmArrival(actor Actor, at time.Time) error {
	if b.s.Status != StatusInProgress || b.ArrivalConfirmed() {
		return domain.NewInvalidTransitionError(string(b.s.Status), string(StatusInProgress))
	}
	at = at.UTC()
	b.s.ConfirmedArrivalBy = actor.ref()
	b.s.ConfirmedArrivalAt = &at
	b.moveTo(StatusInProgress, ActionConfirmArrival, actor, at, Payload{})
	return nil
}

// Complete transitions the booking from IN_PROGRESS to COMPLETED once arrival is confirmed.
func (b *Booking) Complete(actor Actor, at time.Time) error {
	if err := b.ensure(StatusCompleted); err != nil {
		return err
	}
	if !b.ArrivalConfirmed() {
		return domain.NewInvalidTransitionError(string(b.s.Status), string(StatusCompleted))
	}
	at = at.UTC()
	b.s.CompletedAt = &at
	b.moveTo(StatusCompleted, ActionComplete, actor, at, Payload{})
	return nil
}

// Cancel transitions the booking to CANCELLED.
func (b *Booking) Cancel(actor Actor, reason string, at time.Time) error {
	if !b.s.Status.CanBeCancelled() {
		return domain.NewInvalidTransitionError(string(b.s.Status), string(StatusCancelled))
	}
	if b.s.Status == StatusInProgress && b.ArrivalConfirmed() {
		return domain.NewInvalidTransitionError(string(b.s.Status), string(StatusCancelled))
	}
	if reason == "" {
		reason = "cancelled by " + string(actor.Role)
	}
	at = at.UTC()
	b.s.CancelledBy = actor.ref()
	b.s.CancelledAt = &at
	b.s.CancellationReason = reason
	b.moveTo(StatusCancelled, ActionCancel, actor, at, Payload{Reason: reason})
	return nil
}

func (b *Booking) ensure(to BookingStatus) error {
	if !IsValidTransition(b.s.Status, to) {
		return domain.NewInvalidTransitionError(string(b.s.Status), string(to))
	}
	return nil
}

func (b *Booking) moveTo(to BookingStatus, action Action, actor Actor, at time.Time, p Payload) {
	from := b.s.Status
	b.s.Status = to
	b.s.UpdatedAt = at
	b.events = append(b.events, DomainEvent{
		BookingID:   b.s.ID,
		BookingCode: b.s.Code,
		CustomerID:  b.s.CustomerID,
		FromState:   from,
		ToState:     to,
		Action:      action,
		Actor:       actor,
		Timestamp:   at,
		Payload:     p.fields(),
	})
}
