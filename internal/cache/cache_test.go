package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dergi/internal/config"
	"github.com/andresuchdata/dergi/internal/domain"
)

type fakeCache struct {
	issues      map[int]*domain.Issue
	lists       map[[2]int][]*domain.Issue
	invalidated int
	readErr     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{issues: map[int]*domain.Issue{}, lists: map[[2]int][]*domain.Issue{}}
}

func (f *fakeCache) GetIssue(_ context.Context, n int) (*domain.Issue, bool, error) {
	if f.readErr != nil {
		return nil, false, f.readErr
	}
	issue, ok := f.issues[n]
	return issue, ok, nil
}

func (f *fakeCache) SetIssue(_ context.Context, issue *domain.Issue) error {
	f.issues[issue.IssueNumber] = issue
	return nil
}

func (f *fakeCache) GetList(_ context.Context, limit, offset int) ([]*domain.Issue, bool, error) {
	if f.readErr != nil {
		return nil, false, f.readErr
	}
	issues, ok := f.lists[[2]int{limit, offset}]
	return issues, ok, nil
}

func (f *fakeCache) SetList(_ context.Context, limit, offset int, issues []*domain.Issue) error {
	f.lists[[2]int{limit, offset}] = issues
	return nil
}

func (f *fakeCache) InvalidateAll(context.Context) error {
	f.invalidated++
	f.issues = map[int]*domain.Issue{}
	f.lists = map[[2]int][]*domain.Issue{}
	return nil
}

type countingRepo struct {
	issues    map[int]*domain.Issue
	findCalls int
	listCalls int
}

func (r *countingRepo) Create(_ context.Context, dto domain.CreateIssueDTO) (*domain.Issue, error) {
	issue := &domain.Issue{ID: "id", IssueNumber: dto.IssueNumber, Title: dto.Title}
	r.issues[dto.IssueNumber] = issue
	return issue, nil
}

func (r *countingRepo) Update(_ context.Context, id string, dto domain.UpdateIssueDTO) (*domain.Issue, error) {
	return nil, errors.New("update failed")
}

func (r *countingRepo) Delete(context.Context, string) error { return nil }

func (r *countingRepo) FindByID(context.Context, string) (*domain.Issue, error) {
	return nil, domain.ErrIssueNotFound
}

func (r *countingRepo) FindByIssue(_ context.Context, n int) (*domain.Issue, error) {
	r.findCalls++
	return r.issues[n], nil
}

func (r *countingRepo) List(context.Context, int, int) ([]*domain.Issue, error) {
	r.listCalls++
	out := make([]*domain.Issue, 0, len(r.issues))
	for _, issue := range r.issues {
		out = append(out, issue)
	}
	return out, nil
}

func TestCachedRepositoryReadThrough(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{issues: map[int]*domain.Issue{7: {ID: "a", IssueNumber: 7}}}
	fc := newFakeCache()
	cached := NewCachedIssueRepository(repo, fc)

	for range 3 {
		issue, err := cached.FindByIssue(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "a", issue.ID)
	}
	assert.Equal(t, 1, repo.findCalls)

	missing, err := cached.FindByIssue(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, err = cached.FindByIssue(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.findCalls, "absent issues are not cached")

	_, err = cached.List(ctx, 0, 0)
	require.NoError(t, err)
	_, err = cached.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
}

func TestCachedRepositoryInvalidatesOnWrites(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{issues: map[int]*domain.Issue{}}
	fc := newFakeCache()
	cached := NewCachedIssueRepository(repo, fc)

	_, err := cached.Create(ctx, domain.CreateIssueDTO{IssueNumber: 7, Title: "A"})
	require.NoError(t, err)
	_, err = cached.FindByIssue(ctx, 7)
	require.NoError(t, err)
	require.Len(t, fc.issues, 1)

	title := "B"
	_, err = cached.Update(ctx, "id", domain.UpdateIssueDTO{Title: &title})
	require.Error(t, err)
	assert.Empty(t, fc.issues)

	require.NoError(t, cached.Delete(ctx, "id"))
	assert.Equal(t, 3, fc.invalidated)
}

func TestCachedRepositoryFallsBackOnCacheErrors(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{issues: map[int]*domain.Issue{7: {ID: "a", IssueNumber: 7}}}
	fc := newFakeCache()
	fc.readErr = errors.New("redis down")
	cached := NewCachedIssueRepository(repo, fc)

	issue, err := cached.FindByIssue(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "a", issue.ID)
}

func TestNoopCacheWhenDisabled(t *testing.T) {
	c, err := NewIssueCache(config.CacheConfig{Enabled: false})
	require.NoError(t, err)

	_, ok, err := c.GetIssue(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.SetIssue(context.Background(), &domain.Issue{IssueNumber: 7}))
	assert.NoError(t, c.InvalidateAll(context.Background()))
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(config.CacheConfig{RedisHost: "cache", RedisPort: "6380", RedisDB: 2})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	opts, err = redisOptions(config.CacheConfig{RedisURL: "redis://:secret@redis.internal:6379/3"})
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)

	_, err = redisOptions(config.CacheConfig{RedisURL: "http://nope"})
	assert.Error(t, err)
}

func TestKeysAreStable(t *testing.T) {
	assert.Equal(t, "issues:number:7", buildIssueKey(7))
	assert.Equal(t, buildListKey(20, 0), buildListKey(20, 0))
	assert.NotEqual(t, buildListKey(20, 0), buildListKey(20, 20))
	assert.Contains(t, buildListKey(20, 0), issueListKeyPrefix)
}
