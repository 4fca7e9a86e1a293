package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// ErrSequenceConsumed is yielded when a page sequence is ranged twice.
var ErrSequenceConsumed = errors.New("page sequence already consumed")

// Rasterizer is the external engine that renders document pages.
type Rasterizer interface {
	Name() string
	Available(ctx context.Context) error
	Open(ctx context.Context, data []byte) (RasterDocument, error)
}

// RasterDocument is an opened document. Close releases every resource held
// for it and must be called once the caller is done.
type RasterDocument interface {
	NumPages() int
	// PageSize returns the native page size in points.
	PageSize(page int) (width, height float64, err error)
	Render(ctx context.Context, page, width, height int) (image.Image, error)
	Close() error
}

// PDFProcessor renders PDF pages to fixed-height images.
type PDFProcessor struct {
	raster  Rasterizer
	encoder Encoder
	log     zerolog.Logger
}

var (
	_ Processor    = (*PDFProcessor)(nil)
	_ Availability = (*PDFProcessor)(nil)
)

func NewPDFProcessor(raster Rasterizer, encoder Encoder) *PDFProcessor {
	return &PDFProcessor{raster: raster, encoder: encoder, log: logger.Component("processor.pdf")}
}

func (p *PDFProcessor) Name() string { return "pdf:" + p.raster.Name() }

func (p *PDFProcessor) CanHandle(mediaType string) bool {
	return normalizeMediaType(mediaType) == MediaTypePDF
}

func (p *PDFProcessor) Available(ctx context.Context) error {
	return p.raster.Available(ctx)
}

func (p *PDFProcessor) Process(ctx context.Context, doc *domain.Document, opts Options) iter.Seq2[domain.PageImage, error] {
	opts = opts.withDefaults()

	var used atomic.Bool
	return func(yield func(domain.PageImage, error) bool) {
		if used.Swap(true) {
			yield(domain.PageImage{}, ErrSequenceConsumed)
			return
		}
		p.render(ctx, doc, opts, yield)
	}
}

func (p *PDFProcessor) render(ctx context.Context, doc *domain.Document, opts Options, yield func(domain.PageImage, error) bool) {
	rdoc, err := p.raster.Open(ctx, doc.Data)
	if err != nil {
		yield(domain.PageImage{}, pdfError("open document", err))
		return
	}
	defer func() {
		if cerr := rdoc.Close(); cerr != nil {
			p.log.Warn().Err(cerr).Str("document", doc.Name).Msg("failed to release document")
		}
	}()

	total := rdoc.NumPages()
	switch {
	case total > opts.MaxPages:
		yield(domain.PageImage{}, domain.NewValidationError("document has %d pages, the limit is %d", total, opts.MaxPages))
		return
	case total <= 0:
		return
	}

	p.log.Debug().Str("document", doc.Name).Int("pages", total).Int("target_height", opts.TargetHeight).Msg("rendering document")

	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			yield(domain.PageImage{}, err)
			return
		}

		blob, err := p.renderPage(ctx, rdoc, page, opts)
		if err != nil {
			yield(domain.PageImage{}, err)
			return
		}
		opts.OnPage.Report(p.log, "pdf_processing", page, total)

		if !yield(domain.PageImage{PageNumber: page, Blob: blob}, nil) {
			return
		}
		if page%yieldEvery == 0 {
			runtime.Gosched()
		}
	}
}

func (p *PDFProcessor) renderPage(ctx context.Context, rdoc RasterDocument, page int, opts Options) ([]byte, error) {
	w, h, err := rdoc.PageSize(page)
	if err != nil {
		return nil, pdfError(fmt.Sprintf("read size of page %d", page), err)
	}
	width, height := ScaleToHeight(w, h, opts.TargetHeight)
	if width <= 0 || height <= 0 {
		return nil, pdfError(fmt.Sprintf("page %d has no area", page), nil)
	}

	img, err := rdoc.Render(ctx, page, width, height)
	if err != nil {
		return nil, pdfError(fmt.Sprintf("render page %d", page), err)
	}

	blob, err := p.encoder.Encode(img, opts.Quality)
	if err != nil {
		return nil, pdfError(fmt.Sprintf("encode page %d", page), err)
	}
	return blob, nil
}

// ScaleToHeight returns the pixel size of a w x h page scaled uniformly so
// its height is targetHeight.
func ScaleToHeight(w, h float64, targetHeight int) (int, int) {
	if h <= 0 || w <= 0 {
		return 0, 0
	}
	scale := float64(targetHeight) / h
	return int(math.Round(w * scale)), targetHeight
}

func pdfError(msg string, err error) *domain.ProcessingError {
	return &domain.ProcessingError{Kind: domain.KindPDFProcessing, Message: msg, Err: err}
}
