package drive

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/service"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// Source fetches documents by file id.
type Source interface {
	Fetch(ctx context.Context, fileID string) (*domain.Document, error)
}

// Uploader publishes a rendered issue.
type Uploader interface {
	Upload(ctx context.Context, req service.UploadRequest) (*domain.Issue, error)
}

// IngestRequest names the Drive files of one issue.
type IngestRequest struct {
	FileID          string
	CoverFileID     string // optional
	Title           string
	IssueNumber     int
	PublicationDate time.Time // defaults to today
	Published       bool
}

type IngestService struct {
	source   Source
	uploader Uploader
	log      zerolog.Logger
}

func NewIngestService(source Source, uploader Uploader) *IngestService {
	return &IngestService{
		source:   source,
		uploader: uploader,
		log:      logger.Component("drive.ingest"),
	}
}

// IngestIssue downloads the document (and the optional cover) from Drive and
// runs the regular upload flow on it.
func (s *IngestService) IngestIssue(ctx context.Context, req IngestRequest) (*domain.Issue, error) {
	if req.FileID == "" {
		return nil, domain.NewValidationError("file id is required")
	}

	doc, err := s.source.Fetch(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	var cover *domain.Document
	if req.CoverFileID != "" {
		if cover, err = s.source.Fetch(ctx, req.CoverFileID); err != nil {
			return nil, fmt.Errorf("fetch cover: %w", err)
		}
	}

	s.log.Info().
		Str("file_id", req.FileID).
		Str("name", doc.Name).
		Int64("size", doc.Size()).
		Int("issue", req.IssueNumber).
		Msg("Ingesting issue from Drive")

	date := req.PublicationDate
	if date.IsZero() {
		date = time.Now().UTC()
	}

	return s.uploader.Upload(ctx, service.UploadRequest{
		Document:        doc,
		Cover:           cover,
		Title:           req.Title,
		IssueNumber:     req.IssueNumber,
		PublicationDate: date,
		Published:       req.Published,
	})
}
