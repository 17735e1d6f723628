package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	bookingDomain "github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/pkg/domain"
)

// BookingModel is the GORM model for the bookings table.
type BookingModel struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	Code             string         `gorm:"uniqueIndex;not null;size:20"`
	CustomerID       uuid.UUID      `gorm:"type:uuid;index;not null"`
	RouteID          int64          `gorm:"not null"`
	FerryID          int64          `gorm:"not null"`
	ScheduleID       int64          `gorm:"index;not null"`
	VehicleIDs       datatypes.JSON `gorm:"column:vehicle_ids;type:jsonb;not null"`
	Passengers       int            `gorm:"not null"`
	TotalAmountCents int64          `gorm:"not null"`
	Currency         string         `gorm:"not null;size:3;default:'EUR'"`
	Status           string         `gorm:"not null;size:30;index"`

	ApprovedBy    *uuid.UUID `gorm:"type:uuid"`
	ApprovedAt    *time.Time
	ApprovalNotes string `gorm:"size:1000"`

	RejectedBy      *uuid.UUID `gorm:"type:uuid"`
	RejectedAt      *time.Time
	RejectionReason string `gorm:"size:1000"`

	PaymentDeadline *time.Time
	PaidBy          *uuid.UUID `gorm:"type:uuid"`
	PaidAt          *time.Time

	ReviewDeadline *time.Time
	ReviewedBy     *uuid.UUID `gorm:"type:uuid"`
	ReviewedAt     *time.Time
	ReviewNotes    string `gorm:"size:1000"`

	ConfirmedArrivalBy *uuid.UUID `gorm:"type:uuid"`
	ConfirmedArrivalAt *time.Time
	CompletedAt        *time.Time

	CancelledBy        *uuid.UUID `gorm:"type:uuid"`
	CancelledAt        *time.Time
	CancellationReason string `gorm:"size:1000"`

	RefundRequestedBy *uuid.UUID `gorm:"type:uuid"`
	RefundRequestedAt *time.Time
	RefundAmountCents *int64
	RefundNotes       string     `gorm:"size:1000"`
	RefundProcessedBy *uuid.UUID `gorm:"type:uuid"`
	RefundProcessedAt *time.Time

	DisputedAt    *time.Time
	DisputeReason string `gorm:"size:1000"`

	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingModel) TableName() string {
	return "bookings"
}

// GormBookingRepository is the GORM-based implementation of BookingRepository.
type GormBookingRepository struct {
	db *gorm.DB
}

// NewGormBookingRepository creates a new GormBookingRepository.
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

// FindByID retrieves a booking by its identifier.
func (r *GormBookingRepository) FindByID(ctx context.Context, id int64) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("failed to find booking by ID: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByCode retrieves a booking by its booking code.
func (r *GormBookingRepository) FindByCode(ctx context.Context, code string) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", code)
		}
		return nil, fmt.Errorf("failed to find booking by code: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByCustomerID retrieves bookings for a specific customer with pagination.
func (r *GormBookingRepository) FindByCustomerID(ctx context.Context, customerID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, r.db.Where("customer_id = ?", customerID), page, limit)
}

// ListAll retrieves all bookings with pagination, optionally filtered by status.
func (r *GormBookingRepository) ListAll(ctx context.Context, status bookingDomain.BookingStatus, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	scope := r.db
	if status != "" {
		scope = scope.Where("status = ?", string(status))
	}
	return r.paginate(ctx, scope, page, limit)
}

func (r *GormBookingRepository) paginate(ctx context.Context, scope *gorm.DB, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	var total int64
	if err := scope.Session(&gorm.Session{}).WithContext(ctx).Model(&BookingModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	var models []BookingModel
	offset := (page - 1) * limit
	if err := scope.Session(&gorm.Session{}).WithContext(ctx).
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}

	bookings, err := toDomainBookings(models)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// CountByStatus returns booking counts grouped by status.
func (r *GormBookingRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// FindWithOpenDeadlines returns bookings waiting for payment or in review.
func (r *GormBookingRepository) FindWithOpenDeadlines(ctx context.Context) ([]*bookingDomain.Booking, error) {
	var models []BookingModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(bookingDomain.StatusWaitingForPayment),
			string(bookingDomain.StatusInReview),
		}).
		Order("id").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find bookings with open deadlines: %w", err)
	}
	return toDomainBookings(models)
}

// Save persists a new booking and assigns its ID.
func (r *GormBookingRepository) Save(ctx context.Context, bk *bookingDomain.Booking) error {
	model, err := toBookingModel(bk)
	if err != nil {
		return fmt.Errorf("failed to convert booking to model: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	bk.AssignID(model.ID)
	return nil
}

// Update persists changes to an existing booking with optimistic locking.
func (r *GormBookingRepository) Update(ctx context.Context, bk *bookingDomain.Booking) error {
	model, err := toBookingModel(bk)
	if err != nil {
		return fmt.Errorf("failed to convert booking to model: %w", err)
	}

	// IncrementVersion has already been called, so the stored row must be one behind.
	expectedVersion := bk.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":               model.Status,
			"vehicle_ids":          model.VehicleIDs,
			"passengers":           model.Passengers,
			"total_amount_cents":   model.TotalAmountCents,
			"approved_by":          model.ApprovedBy,
			"approved_at":          model.ApprovedAt,
			"approval_notes":       model.ApprovalNotes,
			"rejected_by":          model.RejectedBy,
			"rejected_at":          model.RejectedAt,
			"rejection_reason":     model.RejectionReason,
			"payment_deadline":     model.PaymentDeadline,
			"paid_by":              model.PaidBy,
			"paid_at":              model.PaidAt,
			"review_deadline":      model.ReviewDeadline,
			"reviewed_by":          model.ReviewedBy,
			"reviewed_at":          model.ReviewedAt,
			"review_notes":         model.ReviewNotes,
			"confirmed_arrival_by": model.ConfirmedArrivalBy,
			"confirmed_arrival_at": model.ConfirmedArrivalAt,
			"completed_at":         model.CompletedAt,
			"cancelled_by":         model.CancelledBy,
			"cancelled_at":         model.CancelledAt,
			"cancellation_reason":  model.CancellationReason,
			"refund_requested_by":  model.RefundRequestedBy,
			"refund_requested_at":  model.RefundRequestedAt,
			"refund_amount_cents":  model.RefundAmountCents,
			"refund_notes":         model.RefundNotes,
			"refund_processed_by":  model.RefundProcessedBy,
			"refund_processed_at":  model.RefundProcessedAt,
			"disputed_at":          model.DisputedAt,
			"dispute_reason":       model.DisputeReason,
			"version":              model.Version,
			"updated_at":           model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update booking: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.NewConflictError("booking was modified by another transaction")
	}

	return nil
}

// --- Conversion Helpers ---

func toBookingModel(bk *bookingDomain.Booking) (*BookingModel, error) {
	s := bk.Snapshot()
	vehicles := s.VehicleIDs
	if vehicles == nil {
		vehicles = []int64{}
	}
	vehiclesJSON, err := json.Marshal(vehicles)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vehicle ids: %w", err)
	}

	return &BookingModel{
		ID:                 s.ID,
		Code:               s.Code,
		CustomerID:         s.CustomerID,
		RouteID:            s.RouteID,
		FerryID:            s.FerryID,
		ScheduleID:         s.ScheduleID,
		VehicleIDs:         datatypes.JSON(vehiclesJSON),
		Passengers:         s.Passengers,
		TotalAmountCents:   s.TotalAmountCents,
		Currency:           s.Currency,
		Status:             string(s.Status),
		ApprovedBy:         s.ApprovedBy,
		ApprovedAt:         s.ApprovedAt,
		ApprovalNotes:      s.ApprovalNotes,
		RejectedBy:         s.RejectedBy,
		RejectedAt:         s.RejectedAt,
		RejectionReason:    s.RejectionReason,
		PaymentDeadline:    s.PaymentDeadline,
		PaidBy:             s.PaidBy,
		PaidAt:             s.PaidAt,
		ReviewDeadline:     s.ReviewDeadline,
		ReviewedBy:         s.ReviewedBy,
		ReviewedAt:         s.ReviewedAt,
		ReviewNotes:        s.ReviewNotes,
		ConfirmedArrivalBy: s.ConfirmedArrivalBy,
		ConfirmedArrivalAt: s.ConfirmedArrivalAt,
		CompletedAt:        s.CompletedAt,
		CancelledBy:        s.CancelledBy,
		CancelledAt:        s.CancelledAt,
		CancellationReason: s.CancellationReason,
		RefundRequestedBy:  s.RefundRequestedBy,
		RefundRequestedAt:  s.RefundRequestedAt,
		RefundAmountCents:  s.RefundAmountCents,
		RefundNotes:        s.RefundNotes,
		RefundProcessedBy:  s.RefundProcessedBy,
		RefundProcessedAt:  s.RefundProcessedAt,
		DisputedAt:         s.DisputedAt,
		DisputeReason:      s.DisputeReason,
		Version:            s.Version,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}, nil
}

func toDomainBookings(models []BookingModel) ([]*bookingDomain.Booking, error) {
	bookings := make([]*bookingDomain.Booking, len(models))
	for i := range models {
		bk, err := toDomainBooking(&models[i])
		if err != nil {
			return nil, err
		}
		bookings[i] = bk
	}
	return bookings, nil
}

func toDomainBooking(m *BookingModel) (*bookingDomain.Booking, error) {
	var vehicles []int64
	if len(m.VehicleIDs) > 0 {
		if err := json.Unmarshal(m.VehicleIDs, &vehicles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vehicle ids: %w", err)
		}
	}

	status, err := bookingDomain.ParseBookingStatus(m.Status)
	if err != nil {
		return nil, err
	}

	return bookingDomain.ReconstructBooking(bookingDomain.Snapshot{
		ID:                 m.ID,
		Code:               m.Code,
		CustomerID:         m.CustomerID,
		RouteID:            m.RouteID,
		FerryID:            m.FerryID,
		ScheduleID:         m.ScheduleID,
		VehicleIDs:         vehicles,
		Passengers:         m.Passengers,
		TotalAmountCents:   m.TotalAmountCents,
		Currency:           m.Currency,
		Status:             status,
		Version:            m.Version,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		ApprovedBy:         m.ApprovedBy,
		ApprovedAt:         m.ApprovedAt,
		ApprovalNotes:      m.ApprovalNotes,
		RejectedBy:         m.RejectedBy,
		RejectedAt:         m.RejectedAt,
		RejectionReason:    m.RejectionReason,
		PaymentDeadline:    m.PaymentDeadline,
		PaidBy:             m.PaidBy,
		PaidAt:             m.PaidAt,
		ReviewDeadline:     m.ReviewDeadline,
		ReviewedBy:         m.ReviewedBy,
		ReviewedAt:         m.ReviewedAt,
		ReviewNotes:        m.ReviewNotes,
		ConfirmedArrivalBy: m.ConfirmedArrivalBy,
		ConfirmedArrivalAt: m.ConfirmedArrivalAt,
		CompletedAt:        m.CompletedAt,
		CancelledBy:        m.CancelledBy,
		CancelledAt:        m.CancelledAt,
		CancellationReason: m.CancellationReason,
		RefundRequestedBy:  m.RefundRequestedBy,
		RefundRequestedAt:  m.RefundRequestedAt,
		RefundAmountCents:  m.RefundAmountCents,
		RefundNotes:        m.RefundNotes,
		RefundProcessedBy:  m.RefundProcessedBy,
		RefundProcessedAt:  m.RefundProcessedAt,
		DisputedAt:         m.DisputedAt,
		DisputeReason:      m.DisputeReason,
	}), nil
}
