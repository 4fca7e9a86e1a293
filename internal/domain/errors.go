package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures for callers that render them.
type ErrorKind string

const (
	KindFileValidation  ErrorKind = "file_validation"
	KindPDFProcessing   ErrorKind = "pdf_processing"
	KindImageProcessing ErrorKind = "image_processing"
	KindStorage         ErrorKind = "storage_error"
	KindDatabase        ErrorKind = "database_error"
	KindPartialFailure  ErrorKind = "partial_failure"
	KindUnknown         ErrorKind = "unknown"
)

var (
	ErrIssueNotFound    = errors.New("issue not found")
	ErrIssueNumberTaken = errors.New("issue number already in use")

	// ErrNothingCompleted and ErrPartiallyCompleted tell the two partial
	// failure outcomes apart through errors.Is.
	ErrNothingCompleted   = errors.New("no item completed")
	ErrPartiallyCompleted = errors.New("some items completed")
)

// Storage error codes shared by every blob store backend.
const (
	CodeNotFound           = "NoSuchKey"
	CodeConnectionReset    = "ECONNRESET"
	CodeTimeout            = "ETIMEDOUT"
	CodeConnectionRefused  = "ECONNREFUSED"
	CodeRequestTimeout     = "RequestTimeout"
	CodeSlowDown           = "SlowDown"
	CodeInternalError      = "InternalError"
	CodeServiceUnavailable = "ServiceUnavailable"
	CodeUnsupported        = "NotImplemented"
	CodeAlreadyExists      = "Duplicate"
)

// TransientStorageCodes is the allow-list of storage codes worth retrying.
var TransientStorageCodes = []string{
	CodeConnectionReset,
	CodeTimeout,
	CodeConnectionRefused,
	CodeRequestTimeout,
	CodeSlowDown,
	CodeInternalError,
	CodeServiceUnavailable,
}

// TransientDatabaseCodes lists SQLSTATE codes of connection loss,
// serialization conflicts and resource exhaustion.
var TransientDatabaseCodes = []string{
	"08000", "08003", "08006", "08001", "08004",
	"40001", "40P01",
	"53300", "57P01", "57P03",
	CodeTimeout,
	CodeConnectionReset,
	CodeConnectionRefused,
}

// Coder is implemented by errors that carry a backend error code.
type Coder interface {
	ErrorCode() string
}

// ProcessingError reports a validation, rendering or encoding failure.
type ProcessingError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// NewValidationError builds a file_validation ProcessingError.
func NewValidationError(format string, args ...any) *ProcessingError {
	return &ProcessingError{Kind: KindFileValidation, Message: fmt.Sprintf(format, args...)}
}

// StorageError reports a failed blob store call.
type StorageError struct {
	Op      string
	Path    string
	Code    string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString("storage ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StorageError) Unwrap() error     { return e.Err }
func (e *StorageError) ErrorCode() string { return e.Code }

// DatabaseError reports a failed metadata store call.
type DatabaseError struct {
	Op   string
	Code string
	Err  error
}

func (e *DatabaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("database %s (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error     { return e.Err }
func (e *DatabaseError) ErrorCode() string { return e.Code }

// ItemFailure names one item of a batch that did not complete.
type ItemFailure struct {
	Item string
	Err  error
}

// PartialFailureError reports a batch where some or all items failed.
// It wraps ErrNothingCompleted or ErrPartiallyCompleted.
type PartialFailureError struct {
	Op        string
	Total     int
	Completed int
	Failures  []ItemFailure
}

func NewPartialFailure(op string, total, completed int, failures []ItemFailure) *PartialFailureError {
	return &PartialFailureError{Op: op, Total: total, Completed: completed, Failures: failures}
}

func (e *PartialFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d completed", e.Op, e.Completed, e.Total)
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, ", %d failed:", len(e.Failures))
		for i, f := range e.Failures {
			if i > 0 {
				b.WriteString(";")
			}
			fmt.Fprintf(&b, " %s: %v", f.Item, f.Err)
		}
	}
	return b.String()
}

func (e *PartialFailureError) Unwrap() error {
	if e.Completed == 0 {
		return ErrNothingCompleted
	}
	return ErrPartiallyCompleted
}

// FailedItems returns the names of the failed items in order.
func (e *PartialFailureError) FailedItems() []string {
	items := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		items[i] = f.Item
	}
	return items
}

// MetadataWriteError means storage was committed but the metadata record
// could not be written. Retrying the metadata write alone is enough.
type MetadataWriteError struct {
	IssueNumber int
	Err         error
}

func (e *MetadataWriteError) Error() string {
	return fmt.Sprintf("issue %d files stored but metadata record not created: %v", e.IssueNumber, e.Err)
}

func (e *MetadataWriteError) Unwrap() error { return e.Err }

// InconsistencyError means storage was mutated and the matching metadata
// change failed. It needs operator attention.
type InconsistencyError struct {
	Op          string
	IssueID     string
	IssueNumber int
	Err         error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("critical inconsistency during %s of issue %d (%s): storage changed, metadata not updated: %v",
		e.Op, e.IssueNumber, e.IssueID, e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		partial    *PartialFailureError
		processing *ProcessingError
		storage    *StorageError
		database   *DatabaseError
		metadata   *MetadataWriteError
		critical   *InconsistencyError
	)
	switch {
	case errors.As(err, &partial):
		return KindPartialFailure
	case errors.As(err, &processing):
		return processing.Kind
	case errors.As(err, &metadata), errors.As(err, &critical):
		return KindDatabase
	case errors.As(err, &storage):
		return KindStorage
	case errors.As(err, &database):
		return KindDatabase
	case errors.Is(err, ErrIssueNotFound), errors.Is(err, ErrIssueNumberTaken):
		return KindDatabase
	}
	return KindUnknown
}

// IsRetryable reports whether repeating the failed call may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		partial    *PartialFailureError
		processing *ProcessingError
		metadata   *MetadataWriteError
		critical   *InconsistencyError
		storage    *StorageError
		database   *DatabaseError
	)
	switch {
	case errors.As(err, &critical):
		return false
	case errors.As(err, &partial), errors.As(err, &metadata):
		return true
	case errors.As(err, &processing):
		return false
	case errors.As(err, &storage):
		return HasCode(storage.Code, TransientStorageCodes)
	case errors.As(err, &database):
		return HasCode(database.Code, TransientDatabaseCodes)
	}
	return false
}

// HasCode reports whether code is listed in codes.
func HasCode(code string, codes []string) bool {
	if code == "" {
		return false
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
