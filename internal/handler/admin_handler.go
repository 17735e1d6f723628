package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/seaport-ferry/service-booking/pkg/auth"
	"github.com/seaport-ferry/service-booking/pkg/middleware"
	"github.com/seaport-ferry/service-booking/pkg/response"
)

// AdminBookingHandler handles staff HTTP requests for booking oversight.
type AdminBookingHandler struct {
	service BookingService
}

// NewAdminBookingHandler creates a new AdminBookingHandler.
func NewAdminBookingHandler(service BookingService) *AdminBookingHandler {
	return &AdminBookingHandler{service: service}
}

// RegisterRoutes registers admin booking routes.
func (h *AdminBookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	staffRole := middleware.RequireRole(auth.RoleAccountant, auth.RoleOperationsManager)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, staffRole)
	{
		admin.GET("/bookings", h.ListBookings)
		admin.GET("/stats/bookings", h.BookingStats)
	}
}

// ListBookings handles GET /api/v1/admin/bookings.
func (h *AdminBookingHandler) ListBookings(c *gin.Context) {
	page, limit := parsePagination(c)
	status, ok := parseStatusFilter(c)
	if !ok {
		return
	}

	result, err := h.service.ListBookings(c.Request.Context(), status, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, page, limit)
}

// BookingStats handles GET /api/v1/admin/stats/bookings.
func (h *AdminBookingHandler) BookingStats(c *gin.Context) {
	stats, err := h.service.GetBookingStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}
