package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seaport-ferry/service-booking/internal/application"
	bookingDomain "github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/pkg/auth"
	"github.com/seaport-ferry/service-booking/pkg/domain"
)

type mockBookingService struct{ mock.Mock }

func (m *mockBookingService) CreateBooking(ctx context.Context, customerID uuid.UUID, req application.CreateBookingRequest) (*application.BookingDTO, error) {
	args := m.Called(ctx, customerID, req)
	dto, _ := args.Get(0).(*application.BookingDTO)
	return dto, args.Error(1)
}

func (m *mockBookingService) GetBooking(ctx context.Context, bookingID int64, actor bookingDomain.Actor) (*application.BookingDTO, error) {
	args := m.Called(ctx, bookingID, actor)
	dto, _ := args.Get(0).(*application.BookingDTO)
	return dto, args.Error(1)
}

func (m *mockBookingService) GetBookingByCode(ctx context.Context, code string, actor bookingDomain.Actor) (*application.BookingDTO, error) {
	args := m.Called(ctx, code, actor)
	dto, _ := args.Get(0).(*application.BookingDTO)
	return dto, args.Error(1)
}

func (m *mockBookingService) ListCustomerBookings(ctx context.Context, customerID uuid.UUID, page, limit int) (*domain.PaginatedResult[application.BookingDTO], error) {
	args := m.Called(ctx, customerID, page, limit)
	res, _ := args.Get(0).(*domain.PaginatedResult[application.BookingDTO])
	return res, args.Error(1)
}

func (m *mockBookingService) ListBookings(ctx context.Context, status bookingDomain.BookingStatus, page, limit int) (*domain.PaginatedResult[application.BookingDTO], error) {
	args := m.Called(ctx, status, page, limit)
	res, _ := args.Get(0).(*domain.PaginatedResult[application.BookingDTO])
	return res, args.Error(1)
}

func (m *mockBookingService) GetBookingStats(ctx context.Context) (*application.BookingStatsDTO, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*application.BookingStatsDTO)
	return res, args.Error(1)
}

func (m *mockBookingService) PermittedActions(ctx context.Context, bookingID int64, actor bookingDomain.Actor) ([]bookingDomain.Action, error) {
	args := m.Called(ctx, bookingID, actor)
	res, _ := args.Get(0).([]bookingDomain.Action)
	return res, args.Error(1)
}

func (m *mockBookingService) ApplyAction(ctx context.Context, bookingID int64, action bookingDomain.Action, actor bookingDomain.Actor, payload bookingDomain.Payload) (*application.BookingDTO, error) {
	args := m.Called(ctx, bookingID, action, actor, payload)
	dto, _ := args.Get(0).(*application.BookingDTO)
	return dto, args.Error(1)
}

type testServer struct {
	router *gin.Engine
	jwt    *auth.JWTManager
	svc    *mockBookingService
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	svc := &mockBookingService{}
	jwt := auth.NewJWTManager("test-secret", time.Hour, time.Hour)

	router := gin.New()
	NewBookingHandler(svc).RegisterRoutes(&router.RouterGroup, jwt)
	NewAdminBookingHandler(svc).RegisterRoutes(&router.RouterGroup, jwt)
	return &testServer{router: router, jwt: jwt, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path string, userID uuid.UUID, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := s.jwt.GenerateAccessToken(userID, "user@example.com", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error.Code
}

func TestCreateBooking(t *testing.T) {
	s := newTestServer()
	customer := uuid.New()
	req := application.CreateBookingRequest{RouteID: 1, FerryID: 2, ScheduleID: 3, Passengers: 2}
	s.svc.On("CreateBooking", mock.Anything, customer, req).
		Return(&application.BookingDTO{ID: 9, Code: "FB-ABC234", Status: "PENDING"}, nil)

	w := s.do(t, http.MethodPost, "/api/v1/bookings", customer, auth.RoleCustomer, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"FB-ABC234"`)
}

func TestCreateBooking_StaffForbidden(t *testing.T) {
	s := newTestServer()

	w := s.do(t, http.MethodPost, "/api/v1/bookings", uuid.New(), auth.RoleAccountant,
		application.CreateBookingRequest{RouteID: 1, FerryID: 2, ScheduleID: 3, Passengers: 2})

	assert.Equal(t, http.StatusForbidden, w.Code)
	s.svc.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnauthenticated(t *testing.T) {
	s := newTestServer()
	w := s.do(t, http.MethodGet, "/api/v1/bookings/1", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApplyAction_RoutesAndPayload(t *testing.T) {
	s := newTestServer()
	user := uuid.New()
	amount := int64(4000)

	tests := []struct {
		path    string
		role    string
		body    interface{}
		action  bookingDomain.Action
		payload bookingDomain.Payload
	}{
		{"approve", auth.RoleAccountant, map[string]string{"notes": "ok"}, bookingDomain.ActionApprove, bookingDomain.Payload{Notes: "ok"}},
		{"reject", auth.RoleAccountant, map[string]string{"reason": "full"}, bookingDomain.ActionReject, bookingDomain.Payload{Reason: "full"}},
		{"pay", auth.RoleCustomer, nil, bookingDomain.ActionPay, bookingDomain.Payload{}},
		{"approve-review", auth.RolePlanner, nil, bookingDomain.ActionApproveReview, bookingDomain.Payload{}},
		{"confirm-arrival", auth.RoleOperationsManager, nil, bookingDomain.ActionConfirmArrival, bookingDomain.Payload{}},
		{"complete", auth.RoleOperationsManager, nil, bookingDomain.ActionComplete, bookingDomain.Payload{}},
		{"cancel", auth.RoleCustomer, map[string]string{"reason": "sick"}, bookingDomain.ActionCancel, bookingDomain.Payload{Reason: "sick"}},
		{"refund-request", auth.RoleCustomer, nil, bookingDomain.ActionRequestRefund, bookingDomain.Payload{}},
		{"refund", auth.RoleAccountant, map[string]interface{}{"amount_cents": 4000, "notes": "partial"}, bookingDomain.ActionProcessRefund, bookingDomain.Payload{RefundAmountCents: &amount, Notes: "partial"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			actor := bookingDomain.Actor{ID: user, Role: bookingDomain.Role(tt.role)}
			s.svc.On("ApplyAction", mock.Anything, int64(7), tt.action, actor, tt.payload).
				Return(&application.BookingDTO{ID: 7}, nil).Once()

			w := s.do(t, http.MethodPost, "/api/v1/bookings/7/"+tt.path, user, tt.role, tt.body)
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		})
	}
	s.svc.AssertExpectations(t)
}

func TestApplyAction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"wrong state", domain.NewInvalidTransitionError("PENDING", "PAID"), http.StatusConflict, "INVALID_TRANSITION"},
		{"wrong role", domain.NewForbiddenError(domain.CodeInsufficientRole, "no"), http.StatusForbidden, "INSUFFICIENT_ROLE"},
		{"not owner", domain.NewForbiddenError(domain.CodeNotOwner, "no"), http.StatusForbidden, "NOT_OWNER"},
		{"validation", domain.NewValidationError("reason required"), http.StatusBadRequest, "VALIDATION_FAILURE"},
		{"busy", domain.NewConflictError("locked"), http.StatusConflict, "CONCURRENT_MODIFICATION"},
		{"payment down", domain.NewCollaboratorError("payment", assert.AnError), http.StatusBadGateway, "COLLABORATOR_FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			s.svc.On("ApplyAction", mock.Anything, int64(3), bookingDomain.ActionReject, mock.Anything, mock.Anything).
				Return(nil, tt.err)

			w := s.do(t, http.MethodPost, "/api/v1/bookings/3/reject", uuid.New(), auth.RoleAccountant, nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w))
		})
	}
}

func TestApplyAction_BadInput(t *testing.T) {
	s := newTestServer()

	w := s.do(t, http.MethodPost, "/api/v1/bookings/abc/approve", uuid.New(), auth.RoleAccountant, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/bookings/1/refund", uuid.New(), auth.RoleAccountant, "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.svc.AssertNotCalled(t, "ApplyAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListBookings_ByRole(t *testing.T) {
	s := newTestServer()
	customer := uuid.New()
	page := &domain.PaginatedResult[application.BookingDTO]{Items: []application.BookingDTO{{ID: 1}}, Total: 1, Page: 1, Limit: 20}
	s.svc.On("ListCustomerBookings", mock.Anything, customer, 1, 20).Return(page, nil).Once()
	s.svc.On("ListBookings", mock.Anything, bookingDomain.StatusInReview, 2, 5).Return(page, nil).Once()

	w := s.do(t, http.MethodGet, "/api/v1/bookings", customer, auth.RoleCustomer, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/bookings?status=in_review&page=2&limit=5", uuid.New(), auth.RolePlanner, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/bookings?status=BOARDED", uuid.New(), auth.RolePlanner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.svc.AssertExpectations(t)
}

func TestGetBookingByCodeAndActions(t *testing.T) {
	s := newTestServer()
	user := uuid.New()
	actor := bookingDomain.Actor{ID: user, Role: bookingDomain.RoleCustomer}
	s.svc.On("GetBookingByCode", mock.Anything, "FB-ABC234", actor).Return(&application.BookingDTO{ID: 4}, nil)
	s.svc.On("PermittedActions", mock.Anything, int64(4), actor).
		Return([]bookingDomain.Action{bookingDomain.ActionPay, bookingDomain.ActionCancel}, nil)
	s.svc.On("GetBooking", mock.Anything, int64(5), actor).
		Return(nil, domain.NewForbiddenError(domain.CodeNotOwner, "not yours"))

	w := s.do(t, http.MethodGet, "/api/v1/bookings/code/FB-ABC234", user, auth.RoleCustomer, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/bookings/4/actions", user, auth.RoleCustomer, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"actions":["PAY","CANCEL"]`)

	w = s.do(t, http.MethodGet, "/api/v1/bookings/5", user, auth.RoleCustomer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer()
	s.svc.On("GetBookingStats", mock.Anything).
		Return(&application.BookingStatsDTO{TotalBookings: 3, ByStatus: map[string]int64{"PENDING": 3}}, nil)
	s.svc.On("ListBookings", mock.Anything, bookingDomain.BookingStatus(""), 1, 20).
		Return(&domain.PaginatedResult[application.BookingDTO]{}, nil)

	w := s.do(t, http.MethodGet, "/api/v1/admin/stats/bookings", uuid.New(), auth.RoleOperationsManager, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_bookings":3`)

	w = s.do(t, http.MethodGet, "/api/v1/admin/bookings", uuid.New(), auth.RoleAccountant, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/admin/bookings", uuid.New(), auth.RoleCustomer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
