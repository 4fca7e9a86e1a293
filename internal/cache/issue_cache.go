package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/dergi/internal/config"
	"github.com/andresuchdata/dergi/internal/domain"
)

const (
	issueKeyPrefix     = "issues:"
	issueByNumberKey   = issueKeyPrefix + "number"
	issueListKeyPrefix = issueKeyPrefix + "list"
	issueScanBatchSize = 100
)

// IssueCache caches issue lookups by number and list pages.
type IssueCache interface {
	GetIssue(ctx context.Context, issueNumber int) (*domain.Issue, bool, error)
	SetIssue(ctx context.Context, issue *domain.Issue) error
	GetList(ctx context.Context, limit, offset int) ([]*domain.Issue, bool, error)
	SetList(ctx context.Context, limit, offset int, issues []*domain.Issue) error
	InvalidateAll(ctx context.Context) error
}

type redisIssueCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopIssueCache struct{}

func NewIssueCache(cfg config.CacheConfig) (IssueCache, error) {
	if !cfg.Enabled {
		return &noopIssueCache{}, nil
	}

	client, err := dialRedis(cfg)
	if err != nil {
		return nil, err
	}

	return &redisIssueCache{
		client: client,
		ttl:    cfg.TTL(),
	}, nil
}

func NewNoopIssueCache() IssueCache {
	return &noopIssueCache{}
}

func (c *redisIssueCache) GetIssue(ctx context.Context, issueNumber int) (*domain.Issue, bool, error) {
	var issue domain.Issue
	ok, err := c.get(ctx, buildIssueKey(issueNumber), &issue)
	if !ok || err != nil {
		return nil, false, err
	}
	return &issue, true, nil
}

func (c *redisIssueCache) SetIssue(ctx context.Context, issue *domain.Issue) error {
	return c.set(ctx, buildIssueKey(issue.IssueNumber), issue)
}

func (c *redisIssueCache) GetList(ctx context.Context, limit, offset int) ([]*domain.Issue, bool, error) {
	var issues []*domain.Issue
	ok, err := c.get(ctx, buildListKey(limit, offset), &issues)
	if !ok || err != nil {
		return nil, false, err
	}
	return issues, true, nil
}

func (c *redisIssueCache) SetList(ctx context.Context, limit, offset int, issues []*domain.Issue) error {
	return c.set(ctx, buildListKey(limit, offset), issues)
}

// InvalidateAll unlinks every issue key in batches of issueScanBatchSize.
func (c *redisIssueCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, issueKeyPrefix+"*", issueScanBatchSize).Iterator()

	batch := make([]string, 0, issueScanBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == issueScanBatchSize {
			if err := c.unlink(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan issue keys: %w", err)
	}
	return c.unlink(ctx, batch)
}

func (c *redisIssueCache) unlink(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Unlink(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("unlink %d issue keys: %w", len(keys), err)
	}
	return nil
}

func (c *redisIssueCache) get(ctx context.Context, key string, dst any) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(payload, dst); err != nil {
		return false, fmt.Errorf("decode issue cache %s: %w", key, err)
	}
	return true, nil
}

func (c *redisIssueCache) set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode issue cache %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (n *noopIssueCache) GetIssue(ctx context.Context, issueNumber int) (*domain.Issue, bool, error) {
	return nil, false, nil
}

func (n *noopIssueCache) SetIssue(ctx context.Context, issue *domain.Issue) error {
	return nil
}

func (n *noopIssueCache) GetList(ctx context.Context, limit, offset int) ([]*domain.Issue, bool, error) {
	return nil, false, nil
}

func (n *noopIssueCache) SetList(ctx context.Context, limit, offset int, issues []*domain.Issue) error {
	return nil
}

func (n *noopIssueCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func buildIssueKey(issueNumber int) string {
	return fmt.Sprintf("%s:%d", issueByNumberKey, issueNumber)
}

func buildListKey(limit, offset int) string {
	raw := fmt.Sprintf("limit=%d|offset=%d", limit, offset)
	sum := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%s:%s", issueListKeyPrefix, hex.EncodeToString(sum[:]))
}
