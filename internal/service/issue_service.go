package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/repository"
	"github.com/andresuchdata/dergi/internal/retry"
	"github.com/andresuchdata/dergi/internal/storage"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// IssueService keeps the blob store and the metadata store consistent when
// issues are deleted or renumbered. Storage is always changed first and the
// record only follows when every object operation succeeded.
//
// Renames of the same destination number must not run concurrently.
type IssueService struct {
	store  storage.BlobStore
	repo   repository.IssueRepository
	walker *storage.Walker
	opts   options
	log    zerolog.Logger
}

func NewIssueService(store storage.BlobStore, repo repository.IssueRepository, opts ...Option) *IssueService {
	o := buildOptions(opts)

	walker := storage.NewWalker(store, o.maxDepth)
	walker.Retry = o.retryOpts

	return &IssueService{
		store:  store,
		repo:   repo,
		walker: walker,
		opts:   o,
		log:    logger.Component("service.issues"),
	}
}

func (s *IssueService) Get(ctx context.Context, id string) (*domain.Issue, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByNumber returns domain.ErrIssueNotFound when no issue has the number.
func (s *IssueService) FindByNumber(ctx context.Context, issueNumber int) (*domain.Issue, error) {
	issue, err := s.repo.FindByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, domain.ErrIssueNotFound
	}
	return issue, nil
}

func (s *IssueService) List(ctx context.Context, limit, offset int) ([]*domain.Issue, error) {
	return s.repo.List(ctx, limit, offset)
}

// Delete removes every object under the issue's prefix and then its record.
//
// When any object or directory could not be removed the record is kept and a
// *domain.PartialFailureError is returned, so the call can be repeated. A
// record that is already gone counts as deleted. A record that cannot be
// removed after the objects are gone yields a *domain.InconsistencyError.
func (s *IssueService) Delete(ctx context.Context, id string, issueNumber int) error {
	if !domain.ValidIssueNumber(issueNumber) {
		return domain.NewValidationError("issue number must be between %d and %d, got %d",
			domain.MinIssueNumber, domain.MaxIssueNumber, issueNumber)
	}

	log := s.log.With().Str("id", id).Int("issue", issueNumber).Logger()
	prefix := domain.IssuePrefix(issueNumber)

	listing, err := s.walker.Walk(ctx, prefix)
	if err != nil {
		return err
	}

	log.Info().
		Int("files", len(listing.Files)).
		Int("failed_directories", len(listing.FailedDirectories)).
		Msg("Deleting issue objects")

	result := retry.WithPartialRetry(ctx, listing.Files, retry.StoragePolicy(), func(ctx context.Context, path string) error {
		return s.store.Delete(ctx, []string{path})
	}, s.retryOptions("delete")...)
	s.opts.metrics.ObjectsDeleted(len(result.Successes))

	if !result.Complete() || !listing.Complete() {
		failures := make([]domain.ItemFailure, 0, len(result.Failures)+len(listing.FailedDirectories))
		for _, f := range result.Failures {
			failures = append(failures, domain.ItemFailure{Item: f.Item, Err: f.Err})
		}
		for _, dir := range listing.FailedDirectories {
			failures = append(failures, domain.ItemFailure{Item: dir.Path + "/", Err: directoryError(dir)})
		}

		total := len(listing.Files) + len(listing.FailedDirectories)
		pf := domain.NewPartialFailure("delete", total, len(result.Successes), failures)
		s.opts.metrics.PartialFailure("delete")
		log.Warn().
			Err(pf).
			Strs("failed", pf.FailedItems()).
			Msg("Issue objects partially deleted, record kept")
		return pf
	}

	err = retry.DoErr(ctx, retry.DatabasePolicy(), func(ctx context.Context) error {
		return s.repo.Delete(ctx, id)
	}, s.retryOptions("delete_issue")...)
	switch {
	case errors.Is(err, domain.ErrIssueNotFound):
		log.Warn().Msg("Issue record already removed")
	case err != nil:
		s.opts.metrics.Inconsistency("delete")
		log.Error().
			Err(err).
			Bool("critical", true).
			Msg("Issue objects deleted but record remains")
		return &domain.InconsistencyError{Op: "delete", IssueID: id, IssueNumber: issueNumber, Err: err}
	}

	log.Info().Int("files", len(listing.Files)).Msg("Issue deleted")
	return nil
}

type moveTask struct {
	from string
	to   string
}

func (t moveTask) String() string {
	return t.from + " -> " + t.to
}

// Rename moves an issue's pages and cover from oldNumber to newNumber and
// then updates its record. newTitle is optional.
//
// If any move fails the record keeps oldNumber and a
// *domain.PartialFailureError lists the failed source -> destination pairs.
// Its errors.Is target is domain.ErrNothingCompleted when no object moved.
func (s *IssueService) Rename(ctx context.Context, id string, oldNumber, newNumber int, newTitle *string) (*domain.Issue, error) {
	for _, n := range []int{oldNumber, newNumber} {
		if !domain.ValidIssueNumber(n) {
			return nil, domain.NewValidationError("issue number must be between %d and %d, got %d",
				domain.MinIssueNumber, domain.MaxIssueNumber, n)
		}
	}
	if newTitle != nil && strings.TrimSpace(*newTitle) == "" {
		return nil, domain.NewValidationError("title must not be empty")
	}

	log := s.log.With().Str("id", id).Int("from", oldNumber).Int("to", newNumber).Logger()

	if oldNumber == newNumber {
		if newTitle == nil {
			return s.repo.FindByID(ctx, id)
		}
		return retry.Do(ctx, retry.DatabasePolicy(), func(ctx context.Context) (*domain.Issue, error) {
			return s.repo.Update(ctx, id, domain.UpdateIssueDTO{Title: newTitle})
		}, s.retryOptions("update_issue")...)
	}

	issue, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.IssueNumber != oldNumber {
		return nil, domain.NewValidationError("issue %s has number %d, not %d", id, issue.IssueNumber, oldNumber)
	}

	owner, err := s.repo.FindByIssue(ctx, newNumber)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.ID != id {
		return nil, domain.NewValidationError("issue number %d is already used by issue %s", newNumber, owner.ID)
	}

	plan, err := s.planMove(ctx, issue, newNumber)
	if err != nil {
		return nil, err
	}
	s.clearDestination(ctx, plan.stale, log)

	failures := plan.failures
	total := len(plan.tasks) + plan.done + len(failures)

	log.Info().
		Int("objects", len(plan.tasks)).
		Int("already_moved", plan.done).
		Msg("Moving issue objects")

	errs := make([]error, len(plan.tasks))
	var g errgroup.Group
	for i, task := range plan.tasks {
		g.Go(func() error {
			errs[i] = s.move(ctx, task, log)
			return nil
		})
	}
	_ = g.Wait()

	moved := 0
	for i, err := range errs {
		if err != nil {
			failures = append(failures, domain.ItemFailure{Item: plan.tasks[i].String(), Err: err})
			continue
		}
		moved++
	}
	s.opts.metrics.ObjectsMoved(moved)

	if len(failures) > 0 {
		pf := domain.NewPartialFailure("rename", total, total-len(failures), failures)
		s.opts.metrics.PartialFailure("rename")
		log.Warn().
			Err(pf).
			Strs("failed", pf.FailedItems()).
			Msg("Issue objects partially moved, record kept")
		return nil, pf
	}

	coverURL := s.store.PublicURL(domain.CoverPath(newNumber))
	dto := domain.UpdateIssueDTO{IssueNumber: &newNumber, Title: newTitle, CoverImageURL: &coverURL}
	updated, err := retry.Do(ctx, retry.DatabasePolicy(), func(ctx context.Context) (*domain.Issue, error) {
		return s.repo.Update(ctx, id, dto)
	}, s.retryOptions("update_issue")...)
	if err != nil {
		s.opts.metrics.Inconsistency("rename")
		log.Error().
			Err(err).
			Bool("critical", true).
			Msg("Issue objects moved but record was not renumbered")
		return nil, &domain.InconsistencyError{Op: "rename", IssueID: id, IssueNumber: oldNumber, Err: err}
	}

	log.Info().Int("objects", total).Msg("Issue renamed")
	return updated, nil
}

// movePlan is the work left for a rename. done counts objects an earlier
// run already moved; stale lists destination objects to clear first.
type movePlan struct {
	tasks    []moveTask
	done     int
	stale    []string
	failures []domain.ItemFailure
}

var errSourceMissing = errors.New("source and destination both missing")

// planMove lists both prefixes and builds one task per object still under
// the old number. The cover and pages 1..PageCount are expected: when such a
// source is gone but its destination exists, the object was moved by an
// earlier attempt and is kept. When both are gone the object is reported as
// failed so the record is never renumbered onto missing objects.
func (s *IssueService) planMove(ctx context.Context, issue *domain.Issue, newNumber int) (movePlan, error) {
	oldNumber := issue.IssueNumber

	src, err := s.walker.Walk(ctx, domain.IssuePrefix(oldNumber))
	if err != nil {
		return movePlan{}, err
	}
	dst, err := s.walker.Walk(ctx, domain.IssuePrefix(newNumber))
	if err != nil {
		return movePlan{}, err
	}

	var plan movePlan
	sources := make(map[string]bool, len(src.Files))
	for _, path := range src.Files {
		to, ok := domain.RebasePath(path, oldNumber, newNumber)
		if !ok {
			continue
		}
		sources[path] = true
		plan.tasks = append(plan.tasks, moveTask{from: path, to: to})
	}
	for _, dir := range src.FailedDirectories {
		plan.failures = append(plan.failures, domain.ItemFailure{Item: dir.Path + "/", Err: directoryError(dir)})
	}

	existing := make(map[string]bool, len(dst.Files))
	for _, path := range dst.Files {
		existing[path] = true
	}

	expected := make([]string, 0, issue.PageCount+1)
	for page := 1; page <= issue.PageCount; page++ {
		expected = append(expected, domain.PagePath(oldNumber, page))
	}
	expected = append(expected, domain.CoverPath(oldNumber))

	keep := make(map[string]bool)
	for _, from := range expected {
		if sources[from] {
			continue
		}
		to, _ := domain.RebasePath(from, oldNumber, newNumber)
		task := moveTask{from: from, to: to}
		if existing[to] {
			keep[to] = true
			plan.done++
			continue
		}
		if src.Complete() {
			plan.failures = append(plan.failures, domain.ItemFailure{Item: task.String(), Err: errSourceMissing})
		}
	}

	for _, path := range dst.Files {
		if !keep[path] {
			plan.stale = append(plan.stale, path)
		}
	}
	return plan, nil
}

// clearDestination removes stale objects under the destination prefix.
// Failures are logged and ignored.
func (s *IssueService) clearDestination(ctx context.Context, paths []string, log zerolog.Logger) {
	if len(paths) == 0 {
		return
	}

	if err := s.store.Delete(ctx, paths); err != nil {
		log.Warn().
			Err(err).
			Int("files", len(paths)).
			Msg("Could not clear rename destination")
		return
	}
	log.Info().Int("files", len(paths)).Msg("Cleared rename destination")
}

// move tries a native move first and falls back to copy then delete.
func (s *IssueService) move(ctx context.Context, task moveTask, log zerolog.Logger) error {
	opts := s.retryOptions("move")

	moveErr := retry.DoErr(ctx, retry.StoragePolicy(), func(ctx context.Context) error {
		return s.store.Move(ctx, task.from, task.to)
	}, opts...)
	if moveErr == nil {
		return nil
	}

	log.Warn().
		Err(moveErr).
		Str("from", task.from).
		Str("to", task.to).
		Msg("Move failed, falling back to copy")

	if err := retry.DoErr(ctx, retry.StoragePolicy(), func(ctx context.Context) error {
		return s.store.Copy(ctx, task.from, task.to)
	}, opts...); err != nil {
		return err
	}

	return retry.DoErr(ctx, retry.StoragePolicy(), func(ctx context.Context) error {
		return s.store.Delete(ctx, []string{task.from})
	}, opts...)
}

func (s *IssueService) retryOptions(operation string) []retry.Option {
	return retryOptions(s.opts, operation)
}

func directoryError(dir storage.FailedDirectory) error {
	if dir.Err != nil {
		return fmt.Errorf("%s: %w", dir.Reason, dir.Err)
	}
	return errors.New(dir.Reason)
}
