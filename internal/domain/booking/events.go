package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the capacity an actor acts in.
type Role string

const (
	RoleCustomer          Role = "customer"
	RoleAccountant        Role = "accountant"
	RolePlanner           Role = "planner"
	RoleOperationsManager Role = "operations_manager"
	RoleSystem            Role = "system"
)

// Actor identifies who triggered a transition.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// SystemActor is the actor used for timer firings and automatic hops.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Role: RoleSystem}
}

// IsSystem reports whether the actor is the system.
func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

// ref returns the id to store in a "by" audit field; nil for the system.
func (a Actor) ref() *uuid.UUID {
	if a.IsSystem() || a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

// DomainEvent describes one applied transition.
type DomainEvent struct {
	BookingID   int64          `json:"booking_id"`
	BookingCode string         `json:"booking_code"`
	CustomerID  uuid.UUID      `json:"customer_id"`
	FromState   BookingStatus  `json:"from_state"`
	ToState     BookingStatus  `json:"to_state"`
	Action      Action         `json:"action"`
	Actor       Actor          `json:"actor"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventType returns the CloudEvent type for this transition.
func (e DomainEvent) EventType() string {
	return EventTypeFor(e.ToState)
}

// EventTypeFor returns the CloudEvent type emitted on entering status.
func EventTypeFor(status BookingStatus) string {
	return "booking." + strings.ToLower(string(status))
}
