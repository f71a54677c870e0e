package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/models"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// ResponseHelpers provides methods for REST-native responses
type ResponseHelpers struct{}

// Create a global instance for easy access
var Response = &ResponseHelpers{}

// Success sends the resource directly (no wrapper)
func (h *ResponseHelpers) Success(c *gin.Context, resource interface{}) {
	c.JSON(http.StatusOK, resource)
}

// Created sends a 201 created response with the created resource
func (h *ResponseHelpers) Created(c *gin.Context, resource interface{}) {
	c.JSON(http.StatusCreated, resource)
}

// NoContent sends a 204 no content response
func (h *ResponseHelpers) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (h *ResponseHelpers) ValidationError(c *gin.Context, field, message string) {
	problem := models.NewValidationProblem(field, message, models.ErrorCodeInvalidField)
	h.setRequestIDHeader(c)
	c.JSON(http.StatusBadRequest, problem)
}

// Error maps a service error to its HTTP problem response. Handlers hand
// every non-nil service error to this single dispatcher so status mapping
// lives in one place.
func (h *ResponseHelpers) Error(c *gin.Context, err error) {
	h.setRequestIDHeader(c)

	switch e := err.(type) {
	case *models.ValidationError:
		c.JSON(http.StatusBadRequest, models.NewValidationProblem(e.Field, e.Message, models.ErrorCodeInvalidField))
	case *models.NotFoundError:
		c.JSON(http.StatusNotFound, models.NewNotFoundProblem(e.Resource))
	case *models.BusyError:
		c.JSON(http.StatusServiceUnavailable, models.NewBusyProblem(e.Error()))
	case *models.BusinessError:
		status, title := businessStatus(e.Code)
		c.JSON(status, models.NewBusinessLogicProblem(status, title, e.Message, e.Code))
	default:
		h.InternalError(c, err.Error())
	}
}

// InternalError sends a 500 internal server error response
func (h *ResponseHelpers) InternalError(c *gin.Context, detail string) {
	problem := models.NewProblemDetails(http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
	h.setRequestIDHeader(c)

	// Log for debugging but don't expose internals
	log.Error().
		Str("request_id", getRequestID(c)).
		Str("detail", detail).
		Msg("Internal server error")

	c.JSON(http.StatusInternalServerError, problem)
}

// businessStatus maps business error codes to HTTP status and title.
// Insufficient stock and duplicates are conflicts; state errors are
// unprocessable because the request was well-formed but cannot apply.
func businessStatus(code models.ErrorCode) (int, string) {
	switch code {
	case models.ErrorCodeInsufficientStock:
		return http.StatusConflict, "Insufficient Stock"
	case models.ErrorCodeDuplicateRequest:
		return http.StatusConflict, "Duplicate Request"
	case models.ErrorCodeReservationExpired:
		return http.StatusUnprocessableEntity, "Reservation Expired"
	case models.ErrorCodeInvalidState:
		return http.StatusUnprocessableEntity, "Invalid Status"
	default:
		return http.StatusUnprocessableEntity, "Business Rule Violation"
	}
}

// Helper functions

func (h *ResponseHelpers) setRequestIDHeader(c *gin.Context) {
	if requestID := getRequestID(c); requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		return requestID.(string)
	}
	return ""
}

// BindError translates gin binding failures into validation problems
func (h *ResponseHelpers) BindError(c *gin.Context, err error) {
	h.setRequestIDHeader(c)

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		violations := make([]models.ValidationError, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			violations = append(violations, models.ValidationError{
				Field:   strings.ToLower(validationError.Field()),
				Message: getValidationMessage(validationError),
			})
		}

		c.JSON(http.StatusBadRequest, models.NewMultiValidationProblem(violations))
		return
	}

	c.JSON(http.StatusBadRequest, models.NewProblemDetails(http.StatusBadRequest, "Bad Request", "Invalid request format"))
}

func getValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too small"
	case "max":
		return "Value is too large"
	default:
		return "Invalid value"
	}
}
