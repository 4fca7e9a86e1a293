package storage

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/andresuchdata/dergi/internal/domain"
)

// transportCode maps network level failures onto the shared error codes.
func transportCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return domain.CodeConnectionReset
	case errors.Is(err, syscall.ECONNREFUSED):
		return domain.CodeConnectionRefused
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, syscall.ETIMEDOUT):
		return domain.CodeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.CodeTimeout
	}
	return ""
}

// httpStatusCode maps an HTTP status onto a shared code when the backend
// gave none.
func httpStatusCode(status int) string {
	switch status {
	case 404:
		return domain.CodeNotFound
	case 408:
		return domain.CodeRequestTimeout
	case 429:
		return domain.CodeSlowDown
	case 500:
		return domain.CodeInternalError
	case 501:
		return domain.CodeUnsupported
	case 502, 503, 504:
		return domain.CodeServiceUnavailable
	}
	return ""
}

func notFound(op, path string) *domain.StorageError {
	return &domain.StorageError{Op: op, Path: path, Code: domain.CodeNotFound, Message: "object not found"}
}
