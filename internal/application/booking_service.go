package application

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	bookingDomain "github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/internal/lock"
	"github.com/seaport-ferry/service-booking/pkg/domain"
)

const eventSource = "service-booking"

var tracer = otel.Tracer("github.com/seaport-ferry/service-booking/internal/application")

// Config holds lifecycle timing and routing for the booking service.
type Config struct {
	PaymentWindow      time.Duration
	ReviewWindow       time.Duration
	LockWait           time.Duration
	BookingEventsTopic string
}

// DefaultConfig returns the production lifecycle settings.
func DefaultConfig() Config {
	return Config{
		PaymentWindow:      24 * time.Hour,
		ReviewWindow:       30 * time.Minute,
		LockWait:           5 * time.Second,
		BookingEventsTopic: "booking.events",
	}
}

// CreateBookingRequest holds the data needed to create a new booking.
type CreateBookingRequest struct {
	RouteID          int64   `json:"route_id" binding:"required"`
	FerryID          int64   `json:"ferry_id" binding:"required"`
	ScheduleID       int64   `json:"schedule_id" binding:"required"`
	VehicleIDs       []int64 `json:"vehicle_ids"`
	Passengers       int     `json:"passengers" binding:"required"`
	TotalAmountCents int64   `json:"total_amount_cents"`
	Currency         string  `json:"currency"`
}

// BookingDTO is the response representation of a booking.
type BookingDTO struct {
	ID               int64     `json:"id"`
	Code             string    `json:"code"`
	CustomerID       uuid.UUID `json:"customer_id"`
	RouteID          int64     `json:"route_id"`
	FerryID          int64     `json:"ferry_id"`
	ScheduleID       int64     `json:"schedule_id"`
	VehicleIDs       []int64   `json:"vehicle_ids"`
	Passengers       int       `json:"passengers"`
	TotalAmountCents int64     `json:"total_amount_cents"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	ApprovedBy    *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	ApprovalNotes string     `json:"approval_notes,omitempty"`

	RejectedBy      *uuid.UUID `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`
	PaidBy          *uuid.UUID `json:"paid_by,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`

	ReviewDeadline *time.Time `json:"review_deadline,omitempty"`
	ReviewedBy     *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes    string     `json:"review_notes,omitempty"`

	ConfirmedArrivalBy *uuid.UUID `json:"confirmed_arrival_by,omitempty"`
	ConfirmedArrivalAt *time.Time `json:"confirmed_arrival_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	RefundRequestedBy *uuid.UUID `json:"refund_requested_by,omitempty"`
	RefundRequestedAt *time.Time `json:"refund_requested_at,omitempty"`
	RefundAmountCents *int64     `json:"refund_amount_cents,omitempty"`
	RefundNotes       string     `json:"refund_notes,omitempty"`
	RefundProcessedBy *uuid.UUID `json:"refund_processed_by,omitempty"`
	RefundProcessedAt *time.Time `json:"refund_processed_at,omitempty"`

	DisputedAt    *time.Time `json:"disputed_at,omitempty"`
	DisputeReason string     `json:"dispute_reason,omitempty"`
}

// BookingStatsDTO holds booking statistics for the staff dashboard.
type BookingStatsDTO struct {
	TotalBookings int64            `json:"total_bookings"`
	ByStatus      map[string]int64 `json:"by_status"`
}

// BookingService is the application service orchestrating booking use cases.
type BookingService struct {
	repo      bookingDomain.BookingRepository
	locker    lock.Locker
	scheduler DeadlineScheduler
	capacity  CapacityService
	payment   PaymentService
	notifier  Notifier
	producer  EventPublisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	refunds   *inflight

	background sync.WaitGroup
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	repo bookingDomain.BookingRepository,
	locker lock.Locker,
	scheduler DeadlineScheduler,
	capacity CapacityService,
	payment PaymentService,
	notifier Notifier,
	producer EventPublisher,
	cfg Config,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		repo:      repo,
		locker:    locker,
		scheduler: scheduler,
		capacity:  capacity,
		payment:   payment,
		notifier:  notifier,
		producer:  producer,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		refunds:   newInflight(),
	}
}

// CreateBooking reserves capacity and persists a new PENDING booking for the customer.
func (s *BookingService) CreateBooking(ctx context.Context, customerID uuid.UUID, req CreateBookingRequest) (*BookingDTO, error) {
	ctx, span := tracer.Start(ctx, "BookingService.CreateBooking")
	defer span.End()

	bk, err := bookingDomain.NewBooking(bookingDomain.NewBookingParams{
		CustomerID:       customerID,
		RouteID:          req.RouteID,
		FerryID:          req.FerryID,
		ScheduleID:       req.ScheduleID,
		VehicleIDs:       req.VehicleIDs,
		Passengers:       req.Passengers,
		TotalAmountCents: req.TotalAmountCents,
		Currency:         req.Currency,
	}, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.capacity.Reserve(ctx, bk.ScheduleID(), bk.Passengers(), bk.VehicleIDs()); err != nil {
		return nil, domain.NewCollaboratorError("capacity", err)
	}

	if err := s.repo.Save(ctx, bk); err != nil {
		s.releaseCapacity(ctx, bk)
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}
	span.SetAttributes(attribute.Int64("booking.id", bk.ID()))

	s.logger.Info("booking created",
		zap.Int64("booking_id", bk.ID()),
		zap.String("booking_code", bk.Code()),
		zap.String("customer_id", customerID.String()),
	)

	s.afterCommit(ctx, bk, bk.PullEvents())
	result := toBookingDTO(bk)
	return &result, nil
}

// GetBooking retrieves a single booking. Customers may only read their own bookings.
func (s *BookingService) GetBooking(ctx context.Context, bookingID int64, actor bookingDomain.Actor) (*BookingDTO, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := checkReadAccess(bk, actor); err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// GetBookingByCode retrieves a single booking by its booking code.
func (s *BookingService) GetBookingByCode(ctx context.Context, code string, actor bookingDomain.Actor) (*BookingDTO, error) {
	bk, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := checkReadAccess(bk, actor); err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// ListCustomerBookings retrieves paginated bookings for a customer.
func (s *BookingService) ListCustomerBookings(ctx context.Context, customerID uuid.UUID, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	bookings, total, err := s.repo.FindByCustomerID(ctx, customerID, page, limit)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// ListBookings returns a paginated list of all bookings, optionally filtered by status (staff).
func (s *BookingService) ListBookings(ctx context.Context, status bookingDomain.BookingStatus, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	bookings, total, err := s.repo.ListAll(ctx, status, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// GetBookingStats returns booking counts per status (staff).
func (s *BookingService) GetBookingStats(ctx context.Context) (*BookingStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}

	byStatus := make(map[string]int64, len(counts))
	for _, st := range bookingDomain.AllStatuses() {
		byStatus[string(st)] = 0
	}
	var total int64
	for k, c := range counts {
		byStatus[k] = c
		total += c
	}

	return &BookingStatsDTO{
		TotalBookings: total,
		ByStatus:      byStatus,
	}, nil
}

// PermittedActions lists the actions the actor may apply to the booking right now.
func (s *BookingService) PermittedActions(ctx context.Context, bookingID int64, actor bookingDomain.Actor) ([]bookingDomain.Action, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := checkReadAccess(bk, actor); err != nil {
		return nil, err
	}
	actions := bookingDomain.PermittedActions(bk, actor)
	if actions == nil {
		actions = []bookingDomain.Action{}
	}
	return actions, nil
}

// RestoreDeadlines re-arms timers for every booking waiting on a deadline.
// Deadlines that lapsed while the service was down fire immediately.
func (s *BookingService) RestoreDeadlines(ctx context.Context) (int, error) {
	bookings, err := s.repo.FindWithOpenDeadlines(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load open deadlines: %w", err)
	}
	for _, bk := range bookings {
		s.scheduler.Sync(bk)
	}
	s.logger.Info("deadlines restored", zap.Int("count", len(bookings)))
	return len(bookings), nil
}

// Wait blocks until background notifications and capacity releases have finished.
func (s *BookingService) Wait() {
	s.background.Wait()
}

// --- Helpers ---

func checkReadAccess(bk *bookingDomain.Booking, actor bookingDomain.Actor) error {
	if actor.Role == bookingDomain.RoleCustomer && bk.CustomerID() != actor.ID {
		return domain.NewForbiddenError(domain.CodeNotOwner, "booking does not belong to the caller")
	}
	return nil
}

func toBookingDTOs(bookings []*bookingDomain.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk)
	}
	return dtos
}

func toBookingDTO(bk *bookingDomain.Booking) BookingDTO {
	s := bk.Snapshot()
	vehicles := s.VehicleIDs
	if vehicles == nil {
		vehicles = []int64{}
	}
	return BookingDTO{
		ID:                 s.ID,
		Code:               s.Code,
		CustomerID:         s.CustomerID,
		RouteID:            s.RouteID,
		FerryID:            s.FerryID,
		ScheduleID:         s.ScheduleID,
		VehicleIDs:         vehicles,
		Passengers:         s.Passengers,
		TotalAmountCents:   s.TotalAmountCents,
		Currency:           s.Currency,
		Status:             string(s.Status),
		Version:            s.Version,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
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
	}
}

func bookingKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
