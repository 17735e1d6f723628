package booking

import "fmt"

// BookingStatus represents the current state of a booking in its lifecycle.
type BookingStatus string

const (
	StatusPending           BookingStatus = "PENDING"
	StatusConfirmed         BookingStatus = "CONFIRMED"
	StatusRejected          BookingStatus = "REJECTED"
	StatusWaitingForPayment BookingStatus = "WAITING_FOR_PAYMENT"
	StatusPaid              BookingStatus = "PAID"
	StatusInReview          BookingStatus = "IN_REVIEW"
	StatusInProgress        BookingStatus = "IN_PROGRESS"
	StatusCompleted         BookingStatus = "COMPLETED"
	StatusCancelled         BookingStatus = "CANCELLED"
	StatusInRefund          BookingStatus = "IN_REFUND"
	StatusRefunded          BookingStatus = "REFUNDED"
)

// validTransitions defines the state machine for booking status transitions.
// IN_PROGRESS -> IN_PROGRESS is the arrival confirmation edge.
var validTransitions = map[BookingStatus][]BookingStatus{
	StatusPending:           {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed:         {StatusWaitingForPayment, StatusCancelled},
	StatusRejected:          {},
	StatusWaitingForPayment: {StatusPaid, StatusCancelled},
	StatusPaid:              {StatusInReview, StatusCancelled},
	StatusInReview:          {StatusInProgress, StatusCancelled},
	StatusInProgress:        {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusCompleted:         {StatusInRefund},
	StatusCancelled:         {StatusInRefund},
	StatusInRefund:          {StatusRefunded},
	StatusRefunded:          {},
}

var terminalStatuses = map[BookingStatus]bool{
	StatusRejected:  true,
	StatusCompleted: true,
	StatusCancelled: true,
	StatusRefunded:  true,
}

// automaticSuccessors are entered by the system immediately after their source, with no human action.
var automaticSuccessors = map[BookingStatus]BookingStatus{
	StatusConfirmed: StatusWaitingForPayment,
	StatusPaid:      StatusInReview,
}

var allStatuses = []BookingStatus{
	StatusPending,
	StatusConfirmed,
	StatusRejected,
	StatusWaitingForPayment,
	StatusPaid,
	StatusInReview,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusInRefund,
	StatusRefunded,
}

// AllStatuses returns every registered status in lifecycle order.
func AllStatuses() []BookingStatus {
	out := make([]BookingStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsValidTransition reports whether the edge from -> to exists.
func IsValidTransition(from, to BookingStatus) bool {
	return from.CanTransitionTo(to)
}

// IsValid returns true if the status is a recognized booking status.
func (s BookingStatus) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true once the regular lifecycle is over.
// COMPLETED and CANCELLED still allow the refund edges.
func (s BookingStatus) IsTerminal() bool {
	if !s.IsValid() {
		return true
	}
	return terminalStatuses[s]
}

// CanBeCancelled returns true if the booking can be cancelled from this status.
func (s BookingStatus) CanBeCancelled() bool {
	return s.CanTransitionTo(StatusCancelled)
}

// AutomaticSuccessor returns the status the system moves to right after s, if any.
func (s BookingStatus) AutomaticSuccessor() (BookingStatus, bool) {
	next, ok := automaticSuccessors[s]
	return next, ok
}

// String returns the string representation of the status.
func (s BookingStatus) String() string {
	return string(s)
}

// ParseBookingStatus converts a string to a BookingStatus, returning an error if invalid.
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return status, nil
}
