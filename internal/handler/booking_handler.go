package handler

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/seaport-ferry/service-booking/internal/application"
	bookingDomain "github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/pkg/auth"
	"github.com/seaport-ferry/service-booking/pkg/domain"
	"github.com/seaport-ferry/service-booking/pkg/middleware"
	"github.com/seaport-ferry/service-booking/pkg/response"
)

// BookingService is the application surface used by the HTTP handlers.
type BookingService interface {
	CreateBooking(ctx context.Context, customerID uuid.UUID, req application.CreateBookingRequest) (*application.BookingDTO, error)
	GetBooking(ctx context.Context, bookingID int64, actor bookingDomain.Actor) (*application.BookingDTO, error)
	GetBookingByCode(ctx context.Context, code string, actor bookingDomain.Actor) (*application.BookingDTO, error)
	ListCustomerBookings(ctx context.Context, customerID uuid.UUID, page, limit int) (*domain.PaginatedResult[application.BookingDTO], error)
	ListBookings(ctx context.Context, status bookingDomain.BookingStatus, page, limit int) (*domain.PaginatedResult[application.BookingDTO], error)
	GetBookingStats(ctx context.Context) (*application.BookingStatsDTO, error)
	PermittedActions(ctx context.Context, bookingID int64, actor bookingDomain.Actor) ([]bookingDomain.Action, error)
	ApplyAction(ctx context.Context, bookingID int64, action bookingDomain.Action, actor bookingDomain.Actor, payload bookingDomain.Payload) (*application.BookingDTO, error)
}

// actionRoutes maps action endpoints to lifecycle actions.
var actionRoutes = []struct {
	path   string
	action bookingDomain.Action
}{
	{"approve", bookingDomain.ActionApprove},
	{"reject", bookingDomain.ActionReject},
	{"pay", bookingDomain.ActionPay},
	{"approve-review", bookingDomain.ActionApproveReview},
	{"confirm-arrival", bookingDomain.ActionConfirmArrival},
	{"complete", bookingDomain.ActionComplete},
	{"cancel", bookingDomain.ActionCancel},
	{"refund-request", bookingDomain.ActionRequestRefund},
	{"refund", bookingDomain.ActionProcessRefund},
}

// actionRequest is the optional JSON body of an action endpoint.
type actionRequest struct {
	Notes       string `json:"notes"`
	Reason      string `json:"reason"`
	AmountCents *int64 `json:"amount_cents"`
}

// BookingHandler handles HTTP requests for booking operations.
type BookingHandler struct {
	service BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service BookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers all booking routes on the given router group.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	bookings := r.Group("/api/v1/bookings")
	bookings.Use(authMW)
	{
		bookings.POST("", middleware.RequireRole(auth.RoleCustomer), h.CreateBooking)
		bookings.GET("", h.ListBookings)
		bookings.GET("/code/:code", h.GetBookingByCode)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/actions", h.PermittedActions)
		for _, route := range actionRoutes {
			bookings.POST("/:id/"+route.path, h.ApplyAction(route.action))
		}
	}
}

// CreateBooking handles POST /api/v1/bookings.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateBooking(c.Request.Context(), userID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListBookings handles GET /api/v1/bookings. Customers see their own bookings, staff see all.
func (h *BookingHandler) ListBookings(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	page, limit := parsePagination(c)

	if actor.Role == bookingDomain.RoleCustomer {
		result, err := h.service.ListCustomerBookings(c.Request.Context(), actor.ID, page, limit)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
		return
	}

	status, ok := parseStatusFilter(c)
	if !ok {
		return
	}
	result, err := h.service.ListBookings(c.Request.Context(), status, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// GetBooking handles GET /api/v1/bookings/:id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	bookingID, ok := parseBookingID(c)
	if !ok {
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.service.GetBooking(c.Request.Context(), bookingID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetBookingByCode handles GET /api/v1/bookings/code/:code.
func (h *BookingHandler) GetBookingByCode(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.service.GetBookingByCode(c.Request.Context(), c.Param("code"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// PermittedActions handles GET /api/v1/bookings/:id/actions.
func (h *BookingHandler) PermittedActions(c *gin.Context) {
	bookingID, ok := parseBookingID(c)
	if !ok {
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	actions, err := h.service.PermittedActions(c.Request.Context(), bookingID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"booking_id": bookingID, "actions": actions})
}

// ApplyAction returns the handler for POST /api/v1/bookings/:id/<action>.
func (h *BookingHandler) ApplyAction(action bookingDomain.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseBookingID(c)
		if !ok {
			return
		}
		actor, ok := actorFromContext(c)
		if !ok {
			response.Unauthorized(c, "unauthorized")
			return
		}

		var body actionRequest
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.ApplyAction(c.Request.Context(), bookingID, action, actor, bookingDomain.Payload{
			Notes:             body.Notes,
			Reason:            body.Reason,
			RefundAmountCents: body.AmountCents,
		})
		if err != nil {
			response.Error(c, err)
			return
		}

		response.Success(c, result)
	}
}

// actorFromContext builds the acting user from the authenticated token.
func actorFromContext(c *gin.Context) (bookingDomain.Actor, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return bookingDomain.Actor{}, false
	}
	role, ok := middleware.GetUserRole(c)
	if !ok {
		return bookingDomain.Actor{}, false
	}
	return bookingDomain.Actor{ID: userID, Role: bookingDomain.Role(role)}, true
}

func parseBookingID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		response.BadRequest(c, "invalid booking ID")
		return 0, false
	}
	return id, true
}

// parseStatusFilter reads the optional status query parameter.
func parseStatusFilter(c *gin.Context) (bookingDomain.BookingStatus, bool) {
	raw := c.Query("status")
	if raw == "" {
		return "", true
	}
	status, err := bookingDomain.ParseBookingStatus(strings.ToUpper(raw))
	if err != nil {
		response.BadRequest(c, "invalid status filter")
		return "", false
	}
	return status, true
}

// parsePagination extracts page and limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}
