package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/processor"
	"github.com/andresuchdata/dergi/internal/repository"
	"github.com/andresuchdata/dergi/internal/repository/badger"
	"github.com/andresuchdata/dergi/internal/retry/retrytest"
	"github.com/andresuchdata/dergi/internal/storage"
	"github.com/andresuchdata/dergi/internal/storage/storagetest"
)

var pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

// stubEncoder tags each page with its pixel colour so pages are distinct.
type stubEncoder struct{}

func (stubEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	r, g, b, _ := img.At(0, 0).RGBA()
	size := img.Bounds().Size()
	return []byte(fmt.Sprintf("webp %dx%d rgb(%d,%d,%d)", size.X, size.Y, r>>8, g>>8, b>>8)), nil
}

func (stubEncoder) MediaType() string { return processor.MediaTypeWebP }

type stubRaster struct{ pages int }

func (r stubRaster) Name() string                    { return "stub" }
func (r stubRaster) Available(context.Context) error { return nil }

func (r stubRaster) Open(context.Context, []byte) (processor.RasterDocument, error) {
	return stubDoc{pages: r.pages}, nil
}

type stubDoc struct{ pages int }

func (d stubDoc) NumPages() int                          { return d.pages }
func (d stubDoc) PageSize(int) (float64, float64, error) { return 60, 80, nil }
func (d stubDoc) Close() error                           { return nil }

func (d stubDoc) Render(_ context.Context, page, width, height int) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: uint8(page), A: 255})
		}
	}
	return img, nil
}

// faultyRepo fails selected calls of the wrapped repository.
type faultyRepo struct {
	repository.IssueRepository
	createErr error
	updateErr error
	deleteErr error
}

func (r *faultyRepo) Create(ctx context.Context, dto domain.CreateIssueDTO) (*domain.Issue, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	return r.IssueRepository.Create(ctx, dto)
}

func (r *faultyRepo) Update(ctx context.Context, id string, dto domain.UpdateIssueDTO) (*domain.Issue, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	return r.IssueRepository.Update(ctx, id, dto)
}

func (r *faultyRepo) Delete(ctx context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.IssueRepository.Delete(ctx, id)
}

type fixture struct {
	mem    *storage.MemoryStore
	store  *storagetest.FaultyStore
	repo   *faultyRepo
	upload *UploadService
	issues *IssueService
}

func newFixture(t *testing.T, pages int) *fixture {
	t.Helper()

	db, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mem := storage.NewMemoryStore("https://cdn.example.com")
	store := storagetest.NewFaultyStore(mem)
	repo := &faultyRepo{IssueRepository: badger.New(db)}

	selector := processor.NewSelector(
		processor.NewPDFProcessor(stubRaster{pages: pages}, stubEncoder{}),
	)
	images := processor.NewImageProcessor(stubEncoder{})

	cfg := DefaultUploadConfig()
	cfg.TargetHeight = 8
	opts := []Option{WithRetryOptions(retrytest.Instant())}

	return &fixture{
		mem:    mem,
		store:  store,
		repo:   repo,
		upload: NewUploadService(store, repo, selector, images, cfg, opts...),
		issues: NewIssueService(store, repo, opts...),
	}
}

func (f *fixture) publish(t *testing.T, issueNumber int) *domain.Issue {
	t.Helper()
	issue, err := f.upload.Upload(context.Background(), UploadRequest{
		Document:        &domain.Document{Name: "issue.pdf", MediaType: "application/pdf", Data: pdfBytes},
		Title:           fmt.Sprintf("Sayı %d", issueNumber),
		IssueNumber:     issueNumber,
		PublicationDate: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return issue
}

func (f *fixture) download(t *testing.T, path string) []byte {
	t.Helper()
	data, err := f.mem.Download(context.Background(), path)
	require.NoError(t, err)
	return data
}

func pngCover(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	for y := range 6 {
		for x := range 4 {
			img.Set(x, y, color.RGBA{B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type progressRecorder struct {
	mu      sync.Mutex
	pages   [][2]int
	pdf     [][2]int
	percent []int
}

func (p *progressRecorder) onPage(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, [2]int{done, total})
}

func (p *progressRecorder) onPDF(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pdf = append(p.pdf, [2]int{done, total})
}

func (p *progressRecorder) onCover(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percent = append(p.percent, percent)
}

func TestUploadWithoutCoverUsesFirstPage(t *testing.T) {
	f := newFixture(t, 3)
	var prog progressRecorder

	issue, err := f.upload.Upload(context.Background(), UploadRequest{
		Document:        &domain.Document{Name: "issue.pdf", Data: pdfBytes},
		Title:           "  Haziran  ",
		IssueNumber:     7,
		PublicationDate: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		OnPageProgress:  prog.onPage,
		OnPDFProcessing: prog.onPDF,
		OnCoverProgress: prog.onCover,
	})
	require.NoError(t, err)

	assert.Equal(t, 7, issue.IssueNumber)
	assert.Equal(t, 3, issue.PageCount)
	assert.Equal(t, "Haziran", issue.Title)
	require.NotNil(t, issue.CoverImageURL)
	assert.Equal(t, "https://cdn.example.com/7/kapak.webp", *issue.CoverImageURL)

	assert.Equal(t, []string{
		"7/kapak.webp",
		"7/pages/sayfa_001.webp",
		"7/pages/sayfa_002.webp",
		"7/pages/sayfa_003.webp",
	}, f.mem.Paths())
	assert.Equal(t, f.download(t, "7/pages/sayfa_001.webp"), f.download(t, "7/kapak.webp"))

	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, prog.pages)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, prog.pdf)
	assert.Equal(t, []int{0, 100}, prog.percent)
}

func TestUploadWithCustomCover(t *testing.T) {
	f := newFixture(t, 2)
	var prog progressRecorder

	issue, err := f.upload.Upload(context.Background(), UploadRequest{
		Document:        &domain.Document{Name: "issue.pdf", Data: pdfBytes},
		Cover:           &domain.Document{Name: "cover.png", Data: pngCover(t)},
		Title:           "Temmuz",
		IssueNumber:     8,
		PublicationDate: time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
		CoverQuality:    0.5,
		OnCoverProgress: prog.onCover,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, issue.PageCount)
	assert.Equal(t, []byte("webp 4x6 rgb(0,0,200)"), f.download(t, "8/kapak.webp"))
	assert.Equal(t, []int{0, 50, 100}, prog.percent)
}

func TestUploadPageFailureCreatesNoRecord(t *testing.T) {
	f := newFixture(t, 5)
	page2 := domain.PagePath(7, 2)
	f.store.Fail(storagetest.OpUpload, page2, storagetest.Transient("upload", page2), storagetest.Forever)

	_, err := f.upload.Upload(context.Background(), UploadRequest{
		Document:    &domain.Document{Name: "issue.pdf", Data: pdfBytes},
		Title:       "Ağustos",
		IssueNumber: 7,
	})
	require.Error(t, err)

	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Contains(t, err.Error(), "page 2:")
	assert.NotContains(t, err.Error(), "page 3:")
	assert.Equal(t, 3, f.store.Calls(storagetest.OpUpload, page2))

	assert.NotContains(t, f.mem.Paths(), domain.CoverPath(7))
	issue, err := f.repo.FindByIssue(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, issue)
}

func TestUploadMetadataFailureIsReportedDistinctly(t *testing.T) {
	f := newFixture(t, 2)
	f.repo.createErr = &domain.DatabaseError{Op: "create", Code: "08006", Err: errors.New("connection lost")}

	_, err := f.upload.Upload(context.Background(), UploadRequest{
		Document:    &domain.Document{Name: "issue.pdf", Data: pdfBytes},
		Title:       "Eylül",
		IssueNumber: 9,
	})

	var metaErr *domain.MetadataWriteError
	require.ErrorAs(t, err, &metaErr)
	assert.Equal(t, 9, metaErr.IssueNumber)
	assert.True(t, domain.IsRetryable(err))
	assert.Contains(t, f.mem.Paths(), domain.CoverPath(9))
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, 1)

	tests := []struct {
		name string
		req  UploadRequest
		msg  string
	}{
		{"empty document", UploadRequest{Document: &domain.Document{}, Title: "x", IssueNumber: 1}, "document is empty"},
		{"issue number too large", UploadRequest{Document: &domain.Document{Data: pdfBytes}, Title: "x", IssueNumber: 10000}, "issue number"},
		{"issue number zero", UploadRequest{Document: &domain.Document{Data: pdfBytes}, Title: "x"}, "issue number"},
		{"blank title", UploadRequest{Document: &domain.Document{Data: pdfBytes}, Title: " ", IssueNumber: 1}, "title is required"},
		{"unsupported type", UploadRequest{Document: &domain.Document{Data: []byte("just words"), MediaType: "text/plain"}, Title: "x", IssueNumber: 1}, "unsupported file type"},
		{"bad cover", UploadRequest{Document: &domain.Document{Data: pdfBytes}, Cover: &domain.Document{Data: []byte("nope"), MediaType: "text/plain"}, Title: "x", IssueNumber: 1}, "unsupported cover type"},
		{"bad quality", UploadRequest{Document: &domain.Document{Data: pdfBytes}, Title: "x", IssueNumber: 1, CoverQuality: 1.5}, "cover quality"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.upload.Upload(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, domain.KindFileValidation, domain.KindOf(err))
			assert.False(t, domain.IsRetryable(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
	assert.Empty(t, f.mem.Paths())
}

func TestUploadRejectsOversizedDocument(t *testing.T) {
	f := newFixture(t, 1)
	f.upload.cfg.MaxUploadBytes = 10

	_, err := f.upload.Upload(context.Background(), UploadRequest{
		Document:    &domain.Document{Data: pdfBytes},
		Title:       "x",
		IssueNumber: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file too large")
}

func TestUploadRejectsOversizedCover(t *testing.T) {
	f := newFixture(t, 1)
	f.upload.cfg.MaxUploadBytes = int64(len(pdfBytes))
	cover := append(pngCover(t), make([]byte, len(pdfBytes))...)

	_, err := f.upload.Upload(context.Background(), UploadRequest{
		Document:    &domain.Document{Data: pdfBytes},
		Cover:       &domain.Document{Name: "cover.png", Data: cover},
		Title:       "x",
		IssueNumber: 1,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindFileValidation, domain.KindOf(err))
	assert.Contains(t, err.Error(), "cover too large")
	assert.Empty(t, f.mem.Paths())
}

func TestUploadZeroPagesFailsBeforeStorage(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.upload.Upload(context.Background(), UploadRequest{
		Document:    &domain.Document{Name: "empty.pdf", Data: pdfBytes},
		Title:       "Boş",
		IssueNumber: 3,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindPDFProcessing, domain.KindOf(err))
	assert.Empty(t, f.mem.Paths())

	issue, err := f.repo.FindByIssue(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, issue)
}

func TestDeleteRemovesObjectsThenRecord(t *testing.T) {
	f := newFixture(t, 4)
	issue := f.publish(t, 7)
	other := f.publish(t, 70)

	require.NoError(t, f.issues.Delete(context.Background(), issue.ID, 7))

	for _, p := range f.mem.Paths() {
		assert.NotRegexp(t, `^7/`, p)
	}
	assert.Contains(t, f.mem.Paths(), domain.CoverPath(70))

	_, err := f.issues.Get(context.Background(), issue.ID)
	assert.ErrorIs(t, err, domain.ErrIssueNotFound)
	_, err = f.issues.Get(context.Background(), other.ID)
	assert.NoError(t, err)
}

func TestDeletePartialFailureKeepsRecord(t *testing.T) {
	f := newFixture(t, 10)
	issue := f.publish(t, 7)
	require.Len(t, f.mem.Paths(), 11)

	for _, page := range []int{3, 8} {
		p := domain.PagePath(7, page)
		f.store.Fail(storagetest.OpDelete, p, storagetest.Transient("delete", p), storagetest.Forever)
	}

	err := f.issues.Delete(context.Background(), issue.ID, 7)

	var pf *domain.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, 11, pf.Total)
	assert.Equal(t, 9, pf.Completed)
	assert.ElementsMatch(t, []string{domain.PagePath(7, 3), domain.PagePath(7, 8)}, pf.FailedItems())
	assert.Contains(t, err.Error(), "9/11 completed")
	assert.ErrorIs(t, err, domain.ErrPartiallyCompleted)
	assert.Equal(t, domain.KindPartialFailure, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))

	found, err := f.issues.FindByNumber(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, issue.ID, found.ID)
	assert.ElementsMatch(t, []string{domain.PagePath(7, 3), domain.PagePath(7, 8)}, f.mem.Paths())
}

func TestDeleteResumesWhenRecordAlreadyGone(t *testing.T) {
	f := newFixture(t, 2)
	issue := f.publish(t, 7)
	require.NoError(t, f.repo.Delete(context.Background(), issue.ID))

	require.NoError(t, f.issues.Delete(context.Background(), issue.ID, 7))
	assert.Empty(t, f.mem.Paths())
}

func TestDeleteRecordFailureIsCritical(t *testing.T) {
	f := newFixture(t, 2)
	issue := f.publish(t, 7)
	f.repo.deleteErr = &domain.DatabaseError{Op: "delete", Code: "23503", Err: errors.New("fk violation")}

	err := f.issues.Delete(context.Background(), issue.ID, 7)

	var critical *domain.InconsistencyError
	require.ErrorAs(t, err, &critical)
	assert.False(t, domain.IsRetryable(err))
	assert.Empty(t, f.mem.Paths())
}

func TestDeleteReportsDirectoriesBeyondMaxDepth(t *testing.T) {
	f := newFixture(t, 1)
	issue := f.publish(t, 7)
	f.issues = NewIssueService(f.store, f.repo, WithRetryOptions(retrytest.Instant()), WithMaxDepth(1))
	require.NoError(t, f.mem.Upload(context.Background(), "7/pages/extra/deep/x.webp", []byte("x"), storage.UploadOptions{}))

	err := f.issues.Delete(context.Background(), issue.ID, 7)

	var pf *domain.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, pf.FailedItems(), "7/pages/extra/")
	_, err = f.issues.Get(context.Background(), issue.ID)
	assert.NoError(t, err)
}

func TestRenameMovesObjectsAndRecord(t *testing.T) {
	f := newFixture(t, 3)
	issue := f.publish(t, 7)
	before := map[string][]byte{}
	for _, p := range f.mem.Paths() {
		before[p] = f.download(t, p)
	}

	// stale objects at the destination are cleared first
	require.NoError(t, f.mem.Upload(context.Background(), "12/pages/sayfa_009.webp", []byte("stale"), storage.UploadOptions{}))

	title := "Yeni Başlık"
	renamed, err := f.issues.Rename(context.Background(), issue.ID, 7, 12, &title)
	require.NoError(t, err)
	assert.Equal(t, 12, renamed.IssueNumber)
	assert.Equal(t, title, renamed.Title)
	require.NotNil(t, renamed.CoverImageURL)
	assert.Equal(t, "https://cdn.example.com/12/kapak.webp", *renamed.CoverImageURL)

	for p, data := range before {
		to, ok := domain.RebasePath(p, 7, 12)
		require.True(t, ok)
		assert.Equal(t, data, f.download(t, to))
	}
	for _, p := range f.mem.Paths() {
		assert.NotRegexp(t, `^7/`, p)
	}
	assert.NotContains(t, f.mem.Paths(), "12/pages/sayfa_009.webp")
}

func TestRenameCoverFailureKeepsRecord(t *testing.T) {
	f := newFixture(t, 3)
	issue := f.publish(t, 7)

	cover := domain.CoverPath(7)
	f.store.Fail(storagetest.OpMove, cover, storagetest.Permanent("move", cover), storagetest.Forever)
	f.store.Fail(storagetest.OpCopy, cover, storagetest.Permanent("copy", cover), storagetest.Forever)

	_, err := f.issues.Rename(context.Background(), issue.ID, 7, 12, nil)

	var pf *domain.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, 4, pf.Total)
	assert.Equal(t, 3, pf.Completed)
	assert.Equal(t, []string{"7/kapak.webp -> 12/kapak.webp"}, pf.FailedItems())
	assert.Contains(t, err.Error(), "3/4 completed")
	assert.ErrorIs(t, err, domain.ErrPartiallyCompleted)

	found, err := f.issues.Get(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, found.IssueNumber)
}

func TestRenameRetryAfterPartialFailureKeepsMovedPages(t *testing.T) {
	f := newFixture(t, 3)
	issue := f.publish(t, 7)
	pages := map[int][]byte{}
	for page := 1; page <= 3; page++ {
		pages[page] = f.download(t, domain.PagePath(7, page))
	}

	cover := domain.CoverPath(7)
	f.store.Fail(storagetest.OpMove, cover, storagetest.Permanent("move", cover), 1)
	f.store.Fail(storagetest.OpCopy, cover, storagetest.Permanent("copy", cover), 1)

	_, err := f.issues.Rename(context.Background(), issue.ID, 7, 12, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3/4 completed")

	renamed, err := f.issues.Rename(context.Background(), issue.ID, 7, 12, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, renamed.IssueNumber)
	assert.Equal(t, 3, renamed.PageCount)

	assert.Equal(t, []string{
		"12/kapak.webp",
		"12/pages/sayfa_001.webp",
		"12/pages/sayfa_002.webp",
		"12/pages/sayfa_003.webp",
	}, f.mem.Paths())
	for page, data := range pages {
		assert.Equal(t, data, f.download(t, domain.PagePath(12, page)))
	}
}

func TestRenameReportsObjectsMissingEverywhere(t *testing.T) {
	f := newFixture(t, 3)
	issue := f.publish(t, 7)

	missing := domain.PagePath(7, 2)
	require.NoError(t, f.mem.Delete(context.Background(), []string{missing}))

	_, err := f.issues.Rename(context.Background(), issue.ID, 7, 12, nil)

	var pf *domain.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, 4, pf.Total)
	assert.Equal(t, 3, pf.Completed)
	assert.Equal(t, []string{"7/pages/sayfa_002.webp -> 12/pages/sayfa_002.webp"}, pf.FailedItems())

	found, err := f.issues.Get(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, found.IssueNumber)
}

func TestRenameRejectsMismatchedOldNumber(t *testing.T) {
	f := newFixture(t, 1)
	issue := f.publish(t, 7)
	paths := f.mem.Paths()

	_, err := f.issues.Rename(context.Background(), issue.ID, 8, 12, nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindFileValidation, domain.KindOf(err))
	assert.Equal(t, paths, f.mem.Paths())
}

func TestRenameAllMovesFailing(t *testing.T) {
	f := newFixture(t, 2)
	issue := f.publish(t, 7)

	for _, p := range f.mem.Paths() {
		f.store.Fail(storagetest.OpMove, p, storagetest.Permanent("move", p), storagetest.Forever)
		f.store.Fail(storagetest.OpCopy, p, storagetest.Permanent("copy", p), storagetest.Forever)
	}

	_, err := f.issues.Rename(context.Background(), issue.ID, 7, 12, nil)

	var pf *domain.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, err.Error(), "0/3 completed")
	assert.ErrorIs(t, err, domain.ErrNothingCompleted)
}

func TestRenameFallsBackToCopy(t *testing.T) {
	f := newFixture(t, 2)
	issue := f.publish(t, 7)

	page := domain.PagePath(7, 2)
	f.store.Fail(storagetest.OpMove, page, &domain.StorageError{Op: "move", Path: page, Code: domain.CodeUnsupported}, storagetest.Forever)

	renamed, err := f.issues.Rename(context.Background(), issue.ID, 7, 12, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, renamed.IssueNumber)
	assert.Equal(t, 1, f.store.Calls(storagetest.OpCopy, page))
	assert.Contains(t, f.mem.Paths(), domain.PagePath(12, 2))
	assert.NotContains(t, f.mem.Paths(), page)
}

func TestRenameRejectsTakenNumber(t *testing.T) {
	f := newFixture(t, 1)
	a := f.publish(t, 7)
	f.publish(t, 12)
	paths := f.mem.Paths()

	_, err := f.issues.Rename(context.Background(), a.ID, 7, 12, nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindFileValidation, domain.KindOf(err))
	assert.Equal(t, paths, f.mem.Paths())
}

func TestRenameSameNumberOnlyUpdatesTitle(t *testing.T) {
	f := newFixture(t, 1)
	issue := f.publish(t, 7)
	paths := f.mem.Paths()

	title := "Only title"
	renamed, err := f.issues.Rename(context.Background(), issue.ID, 7, 7, &title)
	require.NoError(t, err)
	assert.Equal(t, title, renamed.Title)
	assert.Equal(t, paths, f.mem.Paths())
	assert.Equal(t, 0, f.store.Calls(storagetest.OpMove, domain.CoverPath(7)))
}

func TestRenameRecordFailureIsCritical(t *testing.T) {
	f := newFixture(t, 1)
	issue := f.publish(t, 7)
	f.repo.updateErr = &domain.DatabaseError{Op: "update", Code: "57P01", Err: errors.New("admin shutdown")}

	_, err := f.issues.Rename(context.Background(), issue.ID, 7, 12, nil)

	var critical *domain.InconsistencyError
	require.ErrorAs(t, err, &critical)
	assert.Equal(t, "rename", critical.Op)
	assert.Contains(t, f.mem.Paths(), domain.CoverPath(12))
}
