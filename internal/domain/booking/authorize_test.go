package booking

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/seaport-ferry/service-booking/pkg/domain"
)

func TestAuthorize_PermitTable(t *testing.T) {
	owner := uuid.New()
	roles := []Role{RoleCustomer, RoleAccountant, RolePlanner, RoleOperationsManager}

	type key struct {
		status BookingStatus
		action Action
		role   Role
	}
	allowed := map[key]bool{
		{StatusPending, ActionApprove, RoleAccountant}:                  true,
		{StatusPending, ActionReject, RoleAccountant}:                   true,
		{StatusWaitingForPayment, ActionPay, RoleCustomer}:              true,
		{StatusInReview, ActionApproveReview, RolePlanner}:              true,
		{StatusInReview, ActionApproveReview, RoleOperationsManager}:    true,
		{StatusInProgress, ActionConfirmArrival, RolePlanner}:           true,
		{StatusInProgress, ActionConfirmArrival, RoleOperationsManager}: true,
		{StatusCompleted, ActionRequestRefund, RoleCustomer}:            true,
		{StatusCancelled, ActionRequestRefund, RoleCustomer}:            true,
		{StatusInRefund, ActionProcessRefund, RoleAccountant}:           true,
	}
	for _, s := range []BookingStatus{
		StatusPending, StatusConfirmed, StatusWaitingForPayment, StatusPaid, StatusInReview, StatusInProgress,
	} {
		for _, r := range []Role{RoleCustomer, RoleAccountant, RoleOperationsManager} {
			allowed[key{s, ActionCancel, r}] = true
		}
	}

	for _, status := range AllStatuses() {
		b := ReconstructBooking(Snapshot{ID: 1, CustomerID: owner, Status: status, TotalAmountCents: 100})
		for _, action := range humanActions {
			for _, role := range roles {
				actor := Actor{ID: uuid.New(), Role: role}
				if role == RoleCustomer {
					actor.ID = owner
				}
				d := Authorize(b, action, actor)
				assert.Equal(t, allowed[key{status, action, role}], d.Allowed,
					"%s %s %s: %s", status, action, role, d.Message)
			}
		}
	}
}

func TestAuthorize_DenyReasons(t *testing.T) {
	owner := uuid.New()
	b := ReconstructBooking(Snapshot{ID: 1, CustomerID: owner, Status: StatusWaitingForPayment})

	d := Authorize(b, ActionApprove, Actor{ID: uuid.New(), Role: RoleAccountant})
	assert.Equal(t, ReasonWrongState, d.Reason)
	assert.True(t, domain.HasCode(d.Err(), domain.CodeInvalidTransition))

	d = Authorize(b, ActionPay, Actor{ID: uuid.New(), Role: RoleAccountant})
	assert.Equal(t, ReasonInsufficientRole, d.Reason)
	assert.True(t, domain.HasCode(d.Err(), domain.CodeInsufficientRole))

	d = Authorize(b, ActionPay, Actor{ID: uuid.New(), Role: RoleCustomer})
	assert.Equal(t, ReasonNotOwner, d.Reason)
	assert.True(t, domain.HasCode(d.Err(), domain.CodeNotOwner))

	d = Authorize(b, ActionIssueInvoice, SystemActor())
	assert.Equal(t, ReasonUnknownAction, d.Reason)
	assert.True(t, domain.HasCode(d.Err(), domain.CodeValidation))

	d = Authorize(b, ActionPay, Actor{ID: owner, Role: RoleCustomer})
	assert.True(t, d.Allowed)
	assert.NoError(t, d.Err())
}

func TestAuthorize_WrongStateMessage(t *testing.T) {
	accountant := Actor{ID: uuid.New(), Role: RoleAccountant}

	refunded := ReconstructBooking(Snapshot{ID: 1, CustomerID: uuid.New(), Status: StatusRefunded})
	d := Authorize(refunded, ActionProcessRefund, accountant)
	assert.Equal(t, "cannot PROCESS_REFUND booking in status REFUNDED", d.Message)
	assert.EqualError(t, d.Err(), "INVALID_TRANSITION: cannot PROCESS_REFUND booking in status REFUNDED")

	pending := ReconstructBooking(Snapshot{ID: 1, CustomerID: uuid.New(), Status: StatusInRefund})
	d = Authorize(pending, ActionApprove, accountant)
	assert.Equal(t, "cannot APPROVE booking in status IN_REFUND (target CONFIRMED)", d.Message)
}

func TestAuthorize_ArrivalSubState(t *testing.T) {
	owner := uuid.New()
	arrived := testNow
	before := ReconstructBooking(Snapshot{ID: 1, CustomerID: owner, Status: StatusInProgress})
	after := ReconstructBooking(Snapshot{ID: 1, CustomerID: owner, Status: StatusInProgress, ConfirmedArrivalAt: &arrived})
	customer := Actor{ID: owner, Role: RoleCustomer}
	planner := Actor{ID: uuid.New(), Role: RolePlanner}

	assert.ElementsMatch(t, []Action{ActionCancel}, PermittedActions(before, customer))
	assert.ElementsMatch(t, []Action{ActionComplete}, PermittedActions(after, customer))
	assert.ElementsMatch(t, []Action{ActionConfirmArrival}, PermittedActions(before, planner))
	assert.Empty(t, PermittedActions(after, planner))
}

func TestAuthorize_DoesNotMutate(t *testing.T) {
	b := ReconstructBooking(Snapshot{ID: 1, CustomerID: uuid.New(), Status: StatusPending})
	before := b.Snapshot()
	Authorize(b, ActionApprove, Actor{ID: uuid.New(), Role: RoleAccountant})
	assert.Equal(t, before, b.Snapshot())
	assert.Empty(t, b.PullEvents())
}
