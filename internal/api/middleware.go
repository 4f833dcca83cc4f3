package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"order-service/internal/lock"
	"order-service/internal/models"
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

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		return requestID.(string)
	}
	return ""
}

// writeError maps domain errors to RFC 7807 problem responses
func writeError(c *gin.Context, err error) {
	requestID := getRequestID(c)

	var ve *models.ValidationError
	var ise *models.InsufficientStockError
	var nfe *models.NotFoundError
	var ce *models.ConflictError

	switch {
	case errors.As(err, &ve):
		c.JSON(400, models.NewValidationProblem(ve.Field, ve.Message))

	case errors.As(err, &ise):
		c.JSON(409, models.NewBusinessProblem(409, "Insufficient Stock", ise.Error(), models.ErrorCodeInsufficientStock))

	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, lock.ErrLockBusy):
		c.JSON(409, models.NewBusinessProblem(409, "Resource Busy",
			"Could not acquire product lock, please retry", models.ErrorCodeConflict))

	case errors.As(err, &ce):
		c.JSON(409, models.NewBusinessProblem(409, "Conflict", ce.Error(), models.ErrorCodeConflict))

	case errors.As(err, &nfe):
		c.JSON(404, models.NewNotFoundProblem(nfe.Resource))

	case models.IsBackendUnavailable(err):
		log.Error().Err(err).Str("request_id", requestID).Msg("Backend unavailable")
		c.JSON(503, models.NewProblemDetails(503, "Service Unavailable", "A backing service is unavailable, please retry"))

	default:
		log.Error().Err(err).Str("request_id", requestID).Msg("Internal server error")
		c.JSON(500, models.NewInternalErrorProblem())
	}
}

// writeBindingError maps gin binding failures to validation problems
func writeBindingError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]
		c.JSON(400, models.NewValidationProblem(first.Field(), validationMessage(first)))
		return
	}
	c.JSON(400, models.NewProblemDetails(400, "Bad Request", "Invalid request format"))
}

func validationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too small"
	case "max":
		return "Value is too large"
	case "uuid":
		return "Must be a valid UUID"
	case "oneof":
		return "Value is not one of the allowed options"
	default:
		return "Invalid value"
	}
}
