package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/repository"
)

// Key layout:
//
//	issue/id/<id>         -> JSON encoded domain.Issue
//	issue/number/<%04d>   -> id
//
// Zero padded numbers keep the number index sorted.
const (
	prefixID     = "issue/id/"
	prefixNumber = "issue/number/"
)

// serializationFailure is reported for transaction conflicts so callers treat
// them like a Postgres serialization failure.
const serializationFailure = "40001"

func keyID(id string) []byte {
	return []byte(prefixID + id)
}

func keyNumber(n int) []byte {
	return []byte(fmt.Sprintf("%s%04d", prefixNumber, n))
}

// IssueRepository stores issue metadata in an embedded BadgerDB.
type IssueRepository struct {
	db  *badger.DB
	now func() time.Time
}

var _ repository.IssueRepository = (*IssueRepository)(nil)

// Open opens (or creates) a store in dir.
func Open(dir string) (*IssueRepository, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(db), nil
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *badger.DB) *IssueRepository {
	return &IssueRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *IssueRepository) Close() error {
	return r.db.Close()
}

func (r *IssueRepository) Create(ctx context.Context, dto domain.CreateIssueDTO) (*domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issue *domain.Issue
	err := r.db.Update(func(txn *badger.Txn) error {
		existing, err := getByNumber(txn, dto.IssueNumber)
		if err != nil {
			return err
		}

		now := r.now()
		if existing == nil {
			existing = &domain.Issue{
				ID:          uuid.NewString(),
				IssueNumber: dto.IssueNumber,
				CreatedAt:   now,
			}
		}
		existing.Title = dto.Title
		existing.PublicationDate = dateOnly(dto.PublicationDate)
		existing.CoverImageURL = dto.CoverImageURL
		existing.PageCount = dto.PageCount
		existing.Published = dto.Published
		existing.UpdatedAt = now

		issue = existing
		return put(txn, issue)
	})
	if err != nil {
		return nil, mapError("create", err)
	}
	return issue, nil
}

func (r *IssueRepository) Update(ctx context.Context, id string, dto domain.UpdateIssueDTO) (*domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issue *domain.Issue
	err := r.db.Update(func(txn *badger.Txn) error {
		current, err := getByID(txn, id)
		if err != nil {
			return err
		}
		oldNumber := current.IssueNumber

		dto.Apply(current)
		current.PublicationDate = dateOnly(current.PublicationDate)
		current.UpdatedAt = r.now()

		if current.IssueNumber != oldNumber {
			owner, err := getByNumber(txn, current.IssueNumber)
			if err != nil {
				return err
			}
			if owner != nil && owner.ID != id {
				return fmt.Errorf("%w: %d", domain.ErrIssueNumberTaken, current.IssueNumber)
			}
			if err := txn.Delete(keyNumber(oldNumber)); err != nil {
				return err
			}
		}

		issue = current
		return put(txn, issue)
	})
	if err != nil {
		return nil, mapError("update", err)
	}
	return issue, nil
}

func (r *IssueRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		current, err := getByID(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(keyNumber(current.IssueNumber)); err != nil {
			return err
		}
		return txn.Delete(keyID(id))
	})
	if err != nil {
		return mapError("delete", err)
	}
	return nil
}

func (r *IssueRepository) FindByID(ctx context.Context, id string) (*domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issue *domain.Issue
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		issue, err = getByID(txn, id)
		return err
	})
	if err != nil {
		return nil, mapError("find", err)
	}
	return issue, nil
}

func (r *IssueRepository) FindByIssue(ctx context.Context, issueNumber int) (*domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issue *domain.Issue
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		issue, err = getByNumber(txn, issueNumber)
		return err
	})
	if err != nil {
		return nil, mapError("find by issue", err)
	}
	return issue, nil
}

// List returns issues ordered by issue number, highest first.
func (r *IssueRepository) List(ctx context.Context, limit, offset int) ([]*domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = repository.NormalizePage(limit, offset)

	var issues []*domain.Issue
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixNumber)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix.
		seek := append([]byte(prefixNumber), 0xFF)

		skipped := 0
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(issues) == limit {
				break
			}

			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			issue, err := getByID(txn, string(id))
			if err != nil {
				return err
			}
			issues = append(issues, issue)
		}
		return nil
	})
	if err != nil {
		return nil, mapError("list", err)
	}
	return issues, nil
}

func getByID(txn *badger.Txn, id string) (*domain.Issue, error) {
	item, err := txn.Get(keyID(id))
	if err == badger.ErrKeyNotFound {
		return nil, domain.ErrIssueNotFound
	}
	if err != nil {
		return nil, err
	}

	var issue domain.Issue
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &issue)
	}); err != nil {
		return nil, fmt.Errorf("decode issue %s: %w", id, err)
	}
	return &issue, nil
}

// getByNumber returns nil, nil when no issue owns the number.
func getByNumber(txn *badger.Txn, n int) (*domain.Issue, error) {
	item, err := txn.Get(keyNumber(n))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return getByID(txn, string(id))
}

func put(txn *badger.Txn, issue *domain.Issue) error {
	data, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("encode issue: %w", err)
	}
	if err := txn.Set(keyID(issue.ID), data); err != nil {
		return err
	}
	return txn.Set(keyNumber(issue.IssueNumber), []byte(issue.ID))
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrIssueNotFound):
		return domain.ErrIssueNotFound
	case errors.Is(err, domain.ErrIssueNumberTaken):
		return &domain.DatabaseError{Op: op, Code: "23505", Err: err}
	case errors.Is(err, badger.ErrConflict):
		return &domain.DatabaseError{Op: op, Code: serializationFailure, Err: err}
	}
	return &domain.DatabaseError{Op: op, Err: err}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
