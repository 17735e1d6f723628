package booking

import (
	"fmt"

	"github.com/seaport-ferry/service-booking/pkg/domain"
)

// Action is a request to move a booking along its lifecycle.
type Action string

const (
	ActionApprove        Action = "APPROVE"
	ActionReject         Action = "REJECT"
	ActionPay            Action = "PAY"
	ActionApproveReview  Action = "APPROVE_REVIEW"
	ActionConfirmArrival Action = "CONFIRM_ARRIVAL"
	ActionComplete       Action = "COMPLETE"
	ActionCancel         Action = "CANCEL"
	ActionRequestRefund  Action = "REQUEST_REFUND"
	ActionProcessRefund  Action = "PROCESS_REFUND"

	// Recorded on creation and on system hops; never accepted as a requested action.
	ActionSubmit       Action = "SUBMIT"
	ActionIssueInvoice Action = "ISSUE_INVOICE"
	ActionStartReview  Action = "START_REVIEW"
)

// actionTargets maps each action to the status it leads to.
var actionTargets = map[Action]BookingStatus{
	ActionApprove:        StatusConfirmed,
	ActionReject:         StatusRejected,
	ActionPay:            StatusPaid,
	ActionApproveReview:  StatusInProgress,
	ActionConfirmArrival: StatusInProgress,
	ActionComplete:       StatusCompleted,
	ActionCancel:         StatusCancelled,
	ActionRequestRefund:  StatusInRefund,
	ActionProcessRefund:  StatusRefunded,
	ActionSubmit:         StatusPending,
	ActionIssueInvoice:   StatusWaitingForPayment,
	ActionStartReview:    StatusInReview,
}

// humanActions are the actions a caller may request, in presentation order.
var humanActions = []Action{
	ActionApprove,
	ActionReject,
	ActionPay,
	ActionApproveReview,
	ActionConfirmArrival,
	ActionComplete,
	ActionCancel,
	ActionRequestRefund,
	ActionProcessRefund,
}

// ParseAction converts a string to a caller-requestable Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsHuman() {
		return "", fmt.Errorf("invalid booking action: %s", s)
	}
	return a, nil
}

// IsHuman reports whether callers may request a.
func (a Action) IsHuman() bool {
	for _, h := range humanActions {
		if h == a {
			return true
		}
	}
	return false
}

// TargetStatus returns the status a leads to.
func (a Action) TargetStatus() (BookingStatus, bool) {
	s, ok := actionTargets[a]
	return s, ok
}

// RequiresPayment reports whether a needs a Payment service call before it can be applied.
func (a Action) RequiresPayment() bool {
	return a == ActionPay || a == ActionProcessRefund
}

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Payload carries the action-specific arguments.
type Payload struct {
	Notes             string `json:"notes,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RefundAmountCents *int64 `json:"refund_amount_cents,omitempty"`
}

// Validate checks the payload for action a against booking b.
func (p Payload) Validate(a Action, b *Booking) error {
	switch a {
	case ActionReject:
		if p.Reason == "" {
			return domain.NewValidationError("rejection reason is required")
		}
	case ActionRequestRefund:
		if b.PaidAt() == nil {
			return domain.NewValidationError("only paid bookings can be refunded")
		}
	case ActionProcessRefund:
		if p.RefundAmountCents == nil {
			return domain.NewValidationError("refund amount is required")
		}
		return ValidateRefundAmount(*p.RefundAmountCents, b.TotalAmountCents())
	}
	return nil
}

// fields returns the payload as event data.
func (p Payload) fields() map[string]any {
	m := map[string]any{}
	if p.Notes != "" {
		m["notes"] = p.Notes
	}
	if p.Reason != "" {
		m["reason"] = p.Reason
	}
	if p.RefundAmountCents != nil {
		m["refund_amount_cents"] = *p.RefundAmountCents
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
