package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/repository"
)

//go:embed schema.sql
var schema string

const issueColumns = `id, issue_number, title, publication_date, cover_image_url, page_count, published, created_at, updated_at`

const uniqueViolation = "23505"

type issueRepository struct {
	db  *DB
	now func() time.Time
}

var (
	_ repository.IssueRepository = (*issueRepository)(nil)
	_ repository.Migrator        = (*issueRepository)(nil)
)

func NewIssueRepository(db *DB) *issueRepository {
	return &issueRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate creates the issues table when missing.
func (r *issueRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return mapError("migrate", err)
	}
	return nil
}

func (r *issueRepository) Create(ctx context.Context, dto domain.CreateIssueDTO) (*domain.Issue, error) {
	now := r.now()
	query := r.db.Rebind(`
		INSERT INTO issues (` + issueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (issue_number)
		DO UPDATE SET
			title = excluded.title,
			publication_date = excluded.publication_date,
			cover_image_url = excluded.cover_image_url,
			page_count = excluded.page_count,
			published = excluded.published,
			updated_at = excluded.updated_at
		RETURNING id`)

	var id string
	err := r.db.QueryRowxContext(ctx, query,
		uuid.NewString(),
		dto.IssueNumber,
		dto.Title,
		dateOnly(dto.PublicationDate),
		dto.CoverImageURL,
		dto.PageCount,
		dto.Published,
		now,
		now,
	).Scan(&id)
	if err != nil {
		return nil, mapError("create", err)
	}

	return r.FindByID(ctx, id)
}

func (r *issueRepository) Update(ctx context.Context, id string, dto domain.UpdateIssueDTO) (*domain.Issue, error) {
	var current domain.Issue
	selectByID := `SELECT ` + issueColumns + ` FROM issues WHERE id = ?`

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &current, tx.Rebind(selectByID), id); err != nil {
			return err
		}

		dto.Apply(&current)
		current.UpdatedAt = r.now()

		_, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE issues SET
				issue_number = ?,
				title = ?,
				publication_date = ?,
				cover_image_url = ?,
				page_count = ?,
				published = ?,
				updated_at = ?
			WHERE id = ?`),
			current.IssueNumber,
			current.Title,
			dateOnly(current.PublicationDate),
			current.CoverImageURL,
			current.PageCount,
			current.Published,
			current.UpdatedAt,
			id,
		)
		return err
	})
	if err != nil {
		return nil, mapError("update", err)
	}

	return normalize(&current), nil
}

func (r *issueRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM issues WHERE id = ?`), id)
	if err != nil {
		return mapError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("delete", err)
	}
	if n == 0 {
		return domain.ErrIssueNotFound
	}
	return nil
}

func (r *issueRepository) FindByID(ctx context.Context, id string) (*domain.Issue, error) {
	var issue domain.Issue
	err := r.db.GetContext(ctx, &issue, r.db.Rebind(`SELECT `+issueColumns+` FROM issues WHERE id = ?`), id)
	if err != nil {
		return nil, mapError("find", err)
	}
	return normalize(&issue), nil
}

func (r *issueRepository) FindByIssue(ctx context.Context, issueNumber int) (*domain.Issue, error) {
	var issue domain.Issue
	err := r.db.GetContext(ctx, &issue, r.db.Rebind(`SELECT `+issueColumns+` FROM issues WHERE issue_number = ?`), issueNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("find by issue", err)
	}
	return normalize(&issue), nil
}

func (r *issueRepository) List(ctx context.Context, limit, offset int) ([]*domain.Issue, error) {
	limit, offset = repository.NormalizePage(limit, offset)

	var issues []*domain.Issue
	err := r.db.SelectContext(ctx, &issues, r.db.Rebind(`
		SELECT `+issueColumns+`
		FROM issues
		ORDER BY issue_number DESC
		LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, mapError("list", err)
	}

	for _, issue := range issues {
		normalize(issue)
	}
	return issues, nil
}

// mapError turns driver errors into domain errors with a SQLSTATE-style code.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrIssueNotFound
	}

	code := errorCode(err)
	if code == uniqueViolation {
		err = fmt.Errorf("%w: %v", domain.ErrIssueNumberTaken, err)
	}
	return &domain.DatabaseError{Op: op, Code: code, Err: err}
}

func errorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return uniqueViolation
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return "40001"
		}
		return ""
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return "08001"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CodeTimeout
	}
	return ""
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalize(issue *domain.Issue) *domain.Issue {
	issue.PublicationDate = dateOnly(issue.PublicationDate)
	issue.CreatedAt = issue.CreatedAt.UTC()
	issue.UpdatedAt = issue.UpdatedAt.UTC()
	return issue
}
