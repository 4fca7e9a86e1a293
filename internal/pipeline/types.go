package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/retry"
)

// DefaultConcurrency is the number of uploads in flight per batch.
const DefaultConcurrency = 5

// Config holds configuration for a page upload worker
type Config struct {
	Concurrency  int          // Uploads per batch; batches run one after another
	CacheControl string       // Cache-Control applied to every page object
	Policy       retry.Policy // Per-page retry policy
}

// DefaultConfig returns the page upload defaults: batches of 5 and three
// attempts per page with a 1s/2s/4s schedule.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		Policy:      retry.UploadPolicy(),
	}
}

// PageStatus represents the state of a single page upload
type PageStatus string

const (
	PageQueued    PageStatus = "queued"
	PageUploading PageStatus = "uploading"
	PageCompleted PageStatus = "completed"
	PageFailed    PageStatus = "failed"
)

// PageJob tracks the upload of a single page
type PageJob struct {
	PageNumber int
	Path       string
	Status     PageStatus
	Attempts   int
	Err        error
}

// Result is the outcome of uploading one issue's pages.
type Result struct {
	IssueNumber int
	Jobs        []*PageJob
}

// Uploaded returns the number of pages stored.
func (r *Result) Uploaded() int {
	n := 0
	for _, job := range r.Jobs {
		if job.Status == PageCompleted {
			n++
		}
	}
	return n
}

// Failed returns the jobs that still failed after their retries.
func (r *Result) Failed() []*PageJob {
	var failed []*PageJob
	for _, job := range r.Jobs {
		if job.Status == PageFailed {
			failed = append(failed, job)
		}
	}
	return failed
}

// Err returns nil when every page was stored. Otherwise it returns a
// *domain.StorageError naming each failed page and its final error, carrying
// the code of the first failure.
func (r *Result) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		if r.Uploaded() == len(r.Jobs) {
			return nil
		}
		return &domain.StorageError{
			Op:      "upload",
			Path:    domain.PagesPrefix(r.IssueNumber),
			Message: fmt.Sprintf("%d of %d pages uploaded", r.Uploaded(), len(r.Jobs)),
		}
	}

	parts := make([]string, len(failed))
	for i, job := range failed {
		parts[i] = fmt.Sprintf("page %d: %v", job.PageNumber, job.Err)
	}

	var code string
	var coder domain.Coder
	if errors.As(failed[0].Err, &coder) {
		code = coder.ErrorCode()
	}

	return &domain.StorageError{
		Op:      "upload",
		Path:    domain.PagesPrefix(r.IssueNumber),
		Code:    code,
		Message: fmt.Sprintf("%d of %d pages failed: %s", len(failed), len(r.Jobs), strings.Join(parts, "; ")),
	}
}
