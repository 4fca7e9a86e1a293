package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/metrics"
	"github.com/andresuchdata/dergi/internal/pipeline"
	"github.com/andresuchdata/dergi/internal/processor"
	"github.com/andresuchdata/dergi/internal/progress"
	"github.com/andresuchdata/dergi/internal/repository"
	"github.com/andresuchdata/dergi/internal/retry"
	"github.com/andresuchdata/dergi/internal/storage"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// UploadConfig holds the limits and tunables of the upload flow.
type UploadConfig struct {
	Concurrency    int
	MaxUploadBytes int64
	TargetHeight   int
	PageQuality    float64
	CoverQuality   float64
	MaxPages       int
	CacheControl   string
}

// DefaultUploadConfig mirrors the configuration defaults.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		Concurrency:    pipeline.DefaultConcurrency,
		MaxUploadBytes: 200 << 20,
		TargetHeight:   processor.DefaultTargetHeight,
		PageQuality:    processor.DefaultQuality,
		CoverQuality:   processor.DefaultQuality,
		MaxPages:       processor.DefaultMaxPages,
	}
}

// UploadRequest describes one issue to publish.
type UploadRequest struct {
	Document        *domain.Document
	Cover           *domain.Document // optional, page 1 is used when nil
	Title           string
	IssueNumber     int
	PublicationDate time.Time
	Published       bool
	// CoverQuality overrides UploadConfig.CoverQuality when set.
	CoverQuality float64

	OnPageProgress  progress.Func
	OnCoverProgress progress.PercentFunc
	OnPDFProcessing progress.Func
}

// Option customizes a service.
type Option func(*options)

type options struct {
	metrics   *metrics.Metrics
	retryOpts []retry.Option
	maxDepth  int
}

// WithMetrics records service activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRetryOptions is passed to every retry the service performs.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

// WithMaxDepth bounds recursive storage listings.
func WithMaxDepth(depth int) Option {
	return func(o *options) { o.maxDepth = depth }
}

func buildOptions(opts []Option) options {
	o := options{maxDepth: storage.DefaultMaxDepth}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type UploadService struct {
	store    storage.BlobStore
	repo     repository.IssueRepository
	selector *processor.Selector
	images   *processor.ImageProcessor
	worker   *pipeline.Worker
	cfg      UploadConfig
	opts     options
	log      zerolog.Logger
}

func NewUploadService(
	store storage.BlobStore,
	repo repository.IssueRepository,
	selector *processor.Selector,
	images *processor.ImageProcessor,
	cfg UploadConfig,
	opts ...Option,
) *UploadService {
	o := buildOptions(opts)

	worker := pipeline.NewWorker(store, pipeline.Config{
		Concurrency:  cfg.Concurrency,
		CacheControl: cfg.CacheControl,
		Policy:       retry.UploadPolicy(),
	}, o.metrics, o.retryOpts...)

	return &UploadService{
		store:    store,
		repo:     repo,
		selector: selector,
		images:   images,
		worker:   worker,
		cfg:      cfg,
		opts:     o,
		log:      logger.Component("service.upload"),
	}
}

// Upload renders the document, stores every page and the cover, then writes
// the issue record. No record is written unless all objects were stored. A
// failed record write after storage succeeded is returned as a
// *domain.MetadataWriteError.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (issue *domain.Issue, err error) {
	started := time.Now()
	defer func() { s.opts.metrics.ObserveUpload(started, err) }()

	doc, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	log := s.log.With().Int("issue", req.IssueNumber).Str("file", doc.Name).Logger()

	proc, err := s.selector.Select(ctx, doc.MediaType)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("processor", proc.Name()).
		Str("media_type", doc.MediaType).
		Int64("size", doc.Size()).
		Msg("Rendering document")

	pages, err := processor.Collect(proc.Process(ctx, doc, processor.Options{
		TargetHeight: s.cfg.TargetHeight,
		Quality:      s.cfg.PageQuality,
		MaxPages:     s.cfg.MaxPages,
		OnPage:       req.OnPDFProcessing,
	}))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		kind := domain.KindImageProcessing
		if doc.MediaType == processor.MediaTypePDF {
			kind = domain.KindPDFProcessing
		}
		return nil, &domain.ProcessingError{Kind: kind, Message: "document produced no pages"}
	}

	result := s.worker.UploadPages(ctx, req.IssueNumber, pages, req.OnPageProgress)
	if err := result.Err(); err != nil {
		return nil, err
	}

	coverURL, err := s.uploadCover(ctx, req, pages[0].Blob)
	if err != nil {
		return nil, err
	}

	dto := domain.CreateIssueDTO{
		IssueNumber:     req.IssueNumber,
		Title:           strings.TrimSpace(req.Title),
		PublicationDate: req.PublicationDate,
		CoverImageURL:   &coverURL,
		PageCount:       len(pages),
		Published:       req.Published,
	}
	issue, err = retry.Do(ctx, retry.DatabasePolicy(), func(ctx context.Context) (*domain.Issue, error) {
		return s.repo.Create(ctx, dto)
	}, s.retryOptions("create_issue")...)
	if err != nil {
		log.Error().Err(err).Msg("Objects stored but issue record was not written")
		return nil, &domain.MetadataWriteError{IssueNumber: req.IssueNumber, Err: err}
	}

	log.Info().
		Str("id", issue.ID).
		Int("pages", issue.PageCount).
		Dur("elapsed", time.Since(started)).
		Msg("Issue uploaded")

	return issue, nil
}

func (s *UploadService) validate(req UploadRequest) (*domain.Document, error) {
	if req.Document == nil || len(req.Document.Data) == 0 {
		return nil, domain.NewValidationError("document is empty")
	}
	if s.cfg.MaxUploadBytes > 0 && req.Document.Size() > s.cfg.MaxUploadBytes {
		return nil, domain.NewValidationError("file too large: %d bytes (max %d)", req.Document.Size(), s.cfg.MaxUploadBytes)
	}
	if !domain.ValidIssueNumber(req.IssueNumber) {
		return nil, domain.NewValidationError("issue number must be between %d and %d, got %d",
			domain.MinIssueNumber, domain.MaxIssueNumber, req.IssueNumber)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, domain.NewValidationError("title is required")
	}
	if req.CoverQuality < 0 || req.CoverQuality > 1 {
		return nil, domain.NewValidationError("cover quality must be in (0, 1], got %g", req.CoverQuality)
	}

	doc := *req.Document
	doc.MediaType = processor.DetectMediaType(doc.Data, doc.MediaType)
	if !supportedDocument(doc.MediaType) {
		return nil, domain.NewValidationError("unsupported file type: %s", doc.MediaType)
	}

	if req.Cover != nil {
		if len(req.Cover.Data) == 0 {
			return nil, domain.NewValidationError("cover is empty")
		}
		if s.cfg.MaxUploadBytes > 0 && req.Cover.Size() > s.cfg.MaxUploadBytes {
			return nil, domain.NewValidationError("cover too large: %d bytes (max %d)", req.Cover.Size(), s.cfg.MaxUploadBytes)
		}
		if !s.images.CanHandle(processor.DetectMediaType(req.Cover.Data, req.Cover.MediaType)) {
			return nil, domain.NewValidationError("unsupported cover type: %s", req.Cover.MediaType)
		}
	}

	return &doc, nil
}

func supportedDocument(mediaType string) bool {
	switch mediaType {
	case processor.MediaTypePDF, processor.MediaTypeJPEG, processor.MediaTypePNG,
		processor.MediaTypeGIF, processor.MediaTypeWebP:
		return true
	}
	return false
}

// uploadCover stores the custom cover, or the first page, at the cover path
// and returns its public URL.
func (s *UploadService) uploadCover(ctx context.Context, req UploadRequest, firstPage []byte) (string, error) {
	req.OnCoverProgress.Report(s.log, "cover_progress", 0)

	blob := firstPage
	if req.Cover != nil {
		quality := req.CoverQuality
		if quality == 0 {
			quality = s.cfg.CoverQuality
		}

		cover := *req.Cover
		cover.MediaType = processor.DetectMediaType(cover.Data, cover.MediaType)
		converted, err := s.images.Convert(ctx, &cover, quality)
		if err != nil {
			return "", err
		}
		blob = converted
		req.OnCoverProgress.Report(s.log, "cover_progress", 50)
	}

	path := domain.CoverPath(req.IssueNumber)
	err := retry.DoErr(ctx, retry.UploadPolicy(), func(ctx context.Context) error {
		return s.store.Upload(ctx, path, blob, storage.UploadOptions{
			Upsert:       true,
			ContentType:  domain.ImageMediaType,
			CacheControl: s.cfg.CacheControl,
		})
	}, s.retryOptions("upload_cover")...)
	if err != nil {
		return "", err
	}

	req.OnCoverProgress.Report(s.log, "cover_progress", 100)
	return s.store.PublicURL(path), nil
}

func (s *UploadService) retryOptions(operation string) []retry.Option {
	return retryOptions(s.opts, operation)
}

func retryOptions(o options, operation string) []retry.Option {
	return append([]retry.Option{
		retry.WithOnRetry(func(error, time.Duration) { o.metrics.Retry(operation) }),
	}, o.retryOpts...)
}
