package booking

import (
	"fmt"

	"github.com/seaport-ferry/service-booking/pkg/domain"
)

// DenyReason explains why Authorize refused an action.
type DenyReason string

const (
	ReasonNone             DenyReason = ""
	ReasonWrongState       DenyReason = "WrongState"
	ReasonInsufficientRole DenyReason = "InsufficientRole"
	ReasonNotOwner         DenyReason = "NotOwner"
	ReasonUnknownAction    DenyReason = "UnknownAction"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Message string
}

// Err converts a denial into the matching application error. It returns nil when allowed.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonNone:
		return nil
	case ReasonWrongState:
		return domain.NewWrongStateError(d.Message)
	case ReasonInsufficientRole:
		return domain.NewForbiddenError(domain.CodeInsufficientRole, d.Message)
	case ReasonNotOwner:
		return domain.NewForbiddenError(domain.CodeNotOwner, d.Message)
	default:
		return domain.NewValidationError(d.Message)
	}
}

type permit struct {
	states []BookingStatus
	roles  []Role
	// guard narrows the source state using the arrival sub-state.
	guard func(b *Booking) bool
}

// permits is the single authoritative permit table for human actions.
// A customer is always additionally required to own the booking.
var permits = map[Action]permit{
	ActionApprove: {states: []BookingStatus{StatusPending}, roles: []Role{RoleAccountant}},
	ActionReject:  {states: []BookingStatus{StatusPending}, roles: []Role{RoleAccountant}},
	ActionPay:     {states: []BookingStatus{StatusWaitingForPayment}, roles: []Role{RoleCustomer}},
	ActionApproveReview: {
		states: []BookingStatus{StatusInReview},
		roles:  []Role{RolePlanner, RoleOperationsManager},
	},
	ActionConfirmArrival: {
		states: []BookingStatus{StatusInProgress},
		roles:  []Role{RoleOperationsManager, RolePlanner},
		guard:  func(b *Booking) bool { return !b.ArrivalConfirmed() },
	},
	ActionComplete: {
		states: []BookingStatus{StatusInProgress},
		roles:  []Role{RoleCustomer},
		guard:  func(b *Booking) bool { return b.ArrivalConfirmed() },
	},
	ActionCancel: {
		states: []BookingStatus{
			StatusPending, StatusConfirmed, StatusWaitingForPayment,
			StatusPaid, StatusInReview, StatusInProgress,
		},
		roles: []Role{RoleCustomer, RoleAccountant, RoleOperationsManager},
		guard: func(b *Booking) bool {
			return !(b.Status() == StatusInProgress && b.ArrivalConfirmed())
		},
	},
	ActionRequestRefund: {
		states: []BookingStatus{StatusCompleted, StatusCancelled},
		roles:  []Role{RoleCustomer},
	},
	ActionProcessRefund: {states: []BookingStatus{StatusInRefund}, roles: []Role{RoleAccountant}},
}

// Authorize decides whether actor may apply action to b right now.
// It checks state first, then role, then ownership, and never mutates b.
func Authorize(b *Booking, action Action, actor Actor) Decision {
	p, ok := permits[action]
	if !ok {
		return deny(ReasonUnknownAction, fmt.Sprintf("unknown action %s", action))
	}

	if !containsStatus(p.states, b.Status()) || (p.guard != nil && !p.guard(b)) {
		return deny(ReasonWrongState, wrongStateMessage(action, b.Status()))
	}
	if !containsRole(p.roles, actor.Role) {
		return deny(ReasonInsufficientRole,
			fmt.Sprintf("role %s may not %s", actor.Role, action))
	}
	if actor.Role == RoleCustomer && actor.ID != b.CustomerID() {
		return deny(ReasonNotOwner, "booking does not belong to the caller")
	}
	return Decision{Allowed: true}
}

// PermittedActions lists the actions actor may apply to b right now.
func PermittedActions(b *Booking, actor Actor) []Action {
	var out []Action
	for _, a := range humanActions {
		if Authorize(b, a, actor).Allowed {
			out = append(out, a)
		}
	}
	return out
}

func wrongStateMessage(action Action, status BookingStatus) string {
	msg := fmt.Sprintf("cannot %s booking in status %s", action, status)
	if target := actionTargets[action]; target != status {
		msg += fmt.Sprintf(" (target %s)", target)
	}
	return msg
}

func deny(reason DenyReason, msg string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: msg}
}

func containsStatus(list []BookingStatus, s BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsRole(list []Role, r Role) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}
