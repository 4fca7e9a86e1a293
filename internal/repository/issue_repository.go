// internal/repository/issue_repository.go
package repository

import (
	"context"

	"github.com/andresuchdata/dergi/internal/domain"
)

// IssueRepository is the metadata store for issues.
type IssueRepository interface {
	// Create inserts an issue, or updates the existing issue that already
	// owns dto.IssueNumber.
	Create(ctx context.Context, dto domain.CreateIssueDTO) (*domain.Issue, error)
	Update(ctx context.Context, id string, dto domain.UpdateIssueDTO) (*domain.Issue, error)
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*domain.Issue, error)
	// FindByIssue returns nil without error when no issue has the number.
	FindByIssue(ctx context.Context, issueNumber int) (*domain.Issue, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Issue, error)
}

// Migrator is implemented by stores that need a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// DefaultListLimit and MaxListLimit bound List page sizes.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NormalizePage clamps limit and offset to the accepted range.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
