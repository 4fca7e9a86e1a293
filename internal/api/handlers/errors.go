package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Kind      domain.ErrorKind `json:"kind"`
	Retryable bool             `json:"retryable"`
	Progress  *Progress        `json:"progress,omitempty"`
	Critical  bool             `json:"critical,omitempty"`
}

// Progress tells how far a partially failed batch got.
type Progress struct {
	Completed int      `json:"completed"`
	Total     int      `json:"total"`
	Failed    []string `json:"failed"`
}

func respondError(c *gin.Context, err error) {
	body := ErrorResponse{
		Error:     err.Error(),
		Kind:      domain.KindOf(err),
		Retryable: domain.IsRetryable(err),
	}

	var partial *domain.PartialFailureError
	if errors.As(err, &partial) {
		body.Progress = &Progress{
			Completed: partial.Completed,
			Total:     partial.Total,
			Failed:    partial.FailedItems(),
		}
	}
	var critical *domain.InconsistencyError
	if errors.As(err, &critical) {
		body.Critical = true
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.Error().Err(err).Str("kind", string(body.Kind)).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func statusFor(err error) int {
	var critical *domain.InconsistencyError
	switch {
	case errors.Is(err, domain.ErrIssueNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIssueNumberTaken):
		return http.StatusConflict
	case errors.As(err, &critical):
		return http.StatusInternalServerError
	}

	switch domain.KindOf(err) {
	case domain.KindFileValidation:
		return http.StatusBadRequest
	case domain.KindPDFProcessing, domain.KindImageProcessing:
		return http.StatusUnprocessableEntity
	case domain.KindStorage, domain.KindPartialFailure:
		return http.StatusBadGateway
	case domain.KindDatabase:
		if domain.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func badRequest(c *gin.Context, format string, args ...any) {
	respondError(c, domain.NewValidationError(format, args...))
}

func parsePositiveIntWithDefault(value string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func parseNonNegativeInt(value string) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v >= 0 {
		return v
	}
	return 0
}
