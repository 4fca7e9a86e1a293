package cache

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/repository"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// CachedIssueRepository serves FindByIssue and List from an IssueCache and
// clears the cache on every write. Cache failures are logged and never
// surface to the caller.
type CachedIssueRepository struct {
	next  repository.IssueRepository
	cache IssueCache
	log   zerolog.Logger
}

var _ repository.IssueRepository = (*CachedIssueRepository)(nil)

func NewCachedIssueRepository(next repository.IssueRepository, cache IssueCache) *CachedIssueRepository {
	if cache == nil {
		cache = NewNoopIssueCache()
	}
	return &CachedIssueRepository{
		next:  next,
		cache: cache,
		log:   logger.Component("cache.issues"),
	}
}

// Migrate forwards to the wrapped repository when it has a schema.
func (r *CachedIssueRepository) Migrate(ctx context.Context) error {
	if m, ok := r.next.(repository.Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}

func (r *CachedIssueRepository) Create(ctx context.Context, dto domain.CreateIssueDTO) (*domain.Issue, error) {
	issue, err := r.next.Create(ctx, dto)
	r.invalidate(ctx)
	return issue, err
}

func (r *CachedIssueRepository) Update(ctx context.Context, id string, dto domain.UpdateIssueDTO) (*domain.Issue, error) {
	issue, err := r.next.Update(ctx, id, dto)
	r.invalidate(ctx)
	return issue, err
}

func (r *CachedIssueRepository) Delete(ctx context.Context, id string) error {
	err := r.next.Delete(ctx, id)
	r.invalidate(ctx)
	return err
}

func (r *CachedIssueRepository) FindByID(ctx context.Context, id string) (*domain.Issue, error) {
	return r.next.FindByID(ctx, id)
}

func (r *CachedIssueRepository) FindByIssue(ctx context.Context, issueNumber int) (*domain.Issue, error) {
	if issue, ok, err := r.cache.GetIssue(ctx, issueNumber); err != nil {
		r.log.Warn().Err(err).Int("issue", issueNumber).Msg("cache read failed")
	} else if ok {
		return issue, nil
	}

	issue, err := r.next.FindByIssue(ctx, issueNumber)
	if err != nil || issue == nil {
		return issue, err
	}

	if err := r.cache.SetIssue(ctx, issue); err != nil {
		r.log.Warn().Err(err).Int("issue", issueNumber).Msg("cache write failed")
	}
	return issue, nil
}

func (r *CachedIssueRepository) List(ctx context.Context, limit, offset int) ([]*domain.Issue, error) {
	limit, offset = repository.NormalizePage(limit, offset)

	if issues, ok, err := r.cache.GetList(ctx, limit, offset); err != nil {
		r.log.Warn().Err(err).Msg("cache read failed")
	} else if ok {
		return issues, nil
	}

	issues, err := r.next.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetList(ctx, limit, offset, issues); err != nil {
		r.log.Warn().Err(err).Msg("cache write failed")
	}
	return issues, nil
}

// invalidate also runs after failed writes.
func (r *CachedIssueRepository) invalidate(ctx context.Context) {
	if err := r.cache.InvalidateAll(context.WithoutCancel(ctx)); err != nil {
		r.log.Warn().Err(err).Msg("cache invalidation failed")
	}
}
