package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seaport-ferry/service-booking/pkg/domain"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable,omitempty"`
}

// Meta carries pagination details.
type Meta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// Success writes a 200 response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Paginated writes a 200 response with pagination metadata.
func Paginated(c *gin.Context, items interface{}, total int64, page, limit int) {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	c.JSON(http.StatusOK, Envelope{
		Success: true,
		Data:    items,
		Meta:    &Meta{Total: total, Page: page, Limit: limit, TotalPages: totalPages},
	})
}

// BadRequest writes a 400 validation response.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Envelope{
		Error: &ErrorBody{Code: string(domain.CodeValidation), Message: message},
	})
}

// Unauthorized writes a 401 response.
func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{
		Error: &ErrorBody{Code: "UNAUTHORIZED", Message: message},
	})
}

// Forbidden writes a 403 response.
func Forbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Envelope{
		Error: &ErrorBody{Code: string(domain.CodeInsufficientRole), Message: message},
	})
}

// Error maps err onto an HTTP status. Unknown errors become a 500 without leaking details.
func Error(c *gin.Context, err error) {
	status, body := mapError(err)
	c.JSON(status, Envelope{Error: body})
}

func mapError(err error) (int, *ErrorBody) {
	code := domain.CodeOf(err)
	if code == "" {
		return http.StatusInternalServerError, &ErrorBody{Code: "INTERNAL", Message: "internal server error"}
	}

	body := &ErrorBody{Code: string(code), Message: err.Error(), Retriable: domain.IsRetriable(err)}
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest, body
	case domain.CodeNotFound:
		return http.StatusNotFound, body
	case domain.CodeInsufficientRole, domain.CodeNotOwner:
		return http.StatusForbidden, body
	case domain.CodeInvalidTransition, domain.CodeConcurrentModification:
		return http.StatusConflict, body
	case domain.CodeCollaboratorFailure:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}
