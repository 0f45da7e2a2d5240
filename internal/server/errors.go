package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/ingest"
	recomputedomain "github.com/smallbiznis/bigdeal/internal/recompute/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"github.com/smallbiznis/bigdeal/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var limited *recomputedomain.RateLimitedError
		if errors.As(lastErr.Err, &limited) && limited.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var cfgErr *scenariodomain.ConfigurationError
	if errors.As(err, &cfgErr) {
		details := make([]ValidationError, 0, len(cfgErr.Fields))
		for _, field := range cfgErr.Fields {
			details = append(details, ValidationError{Field: field, Code: "invalid_value", Message: "invalid value"})
		}
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "configuration_error",
			Message: cfgErr.Error(),
			Errors:  details,
		}
	}

	switch {
	case isValidationError(err):
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: validationErrorField(err), Code: code, Message: "invalid value"},
			},
		}
	case errors.Is(err, scenariodomain.ErrConfiguration),
		errors.Is(err, consortiumdomain.ErrUnknownMember):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "configuration_error",
			Message: err.Error(),
		}
	case errors.Is(err, computeddomain.ErrAlreadyQueued),
		errors.Is(err, recomputedomain.ErrLockHeld):
		return http.StatusConflict, errorPayload{
			Type:    "already_queued",
			Message: "a recompute is already pending for this scenario",
		}
	case errors.Is(err, recomputedomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many recompute requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, computeddomain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "storage_unavailable",
			Message: "storage unavailable, retry later",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	return payload.Type, err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, computeddomain.ErrInvalidScenario),
		errors.Is(err, scenariodomain.ErrInvalidScenario),
		errors.Is(err, consortiumdomain.ErrInvalidScenario),
		errors.Is(err, recomputedomain.ErrInvalidEmail),
		errors.Is(err, recomputedomain.ErrInvalidJobID),
		errors.Is(err, recomputedomain.ErrInvalidTarget),
		errors.Is(err, ingest.ErrInvalidPackage),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, consortiumdomain.ErrConsortiumNotFound),
		errors.Is(err, scenariodomain.ErrScenarioNotFound),
		errors.Is(err, computeddomain.ErrJobNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(err error) string {
	switch {
	case errors.Is(err, recomputedomain.ErrInvalidEmail):
		return "email"
	case errors.Is(err, recomputedomain.ErrInvalidJobID):
		return "job_id"
	case errors.Is(err, recomputedomain.ErrInvalidTarget):
		return "target_scenario_id"
	case errors.Is(err, ingest.ErrInvalidPackage):
		return "package_id"
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return "page_token"
	case errors.Is(err, ErrInvalidRequest):
		return "request"
	default:
		return "scenario_id"
	}
}
