package booking

import (
	"context"

	"github.com/google/uuid"
)

// BookingRepository defines the persistence contract for booking aggregates.
type BookingRepository interface {
	// FindByID retrieves a booking by its identifier.
	FindByID(ctx context.Context, id int64) (*Booking, error)

	// FindByCode retrieves a booking by its human-readable booking code.
	FindByCode(ctx context.Context, code string) (*Booking, error)

	// FindByCustomerID retrieves bookings belonging to a customer with pagination.
	FindByCustomerID(ctx context.Context, customerID uuid.UUID, page, limit int) ([]*Booking, int64, error)

	// ListAll retrieves all bookings with pagination, optionally filtered by status ("" for all).
	ListAll(ctx context.Context, status BookingStatus, page, limit int) ([]*Booking, int64, error)

	// CountByStatus returns booking counts grouped by status.
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// FindWithOpenDeadlines returns bookings whose current status carries a deadline.
	FindWithOpenDeadlines(ctx context.Context) ([]*Booking, error)

	// Save persists a new booking and assigns its ID.
	Save(ctx context.Context, booking *Booking) error

	// Update persists changes to an existing booking with optimistic locking.
	// The booking's version must already be incremented.
	Update(ctx context.Context, booking *Booking) error
}
