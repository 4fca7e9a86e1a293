package processor

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"iter"
	"sync/atomic"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/pkg/logger"
)

var supportedImageTypes = map[string]bool{
	MediaTypeJPEG: true,
	MediaTypePNG:  true,
	MediaTypeGIF:  true,
	MediaTypeWebP: true,
}

// ImageProcessor re-encodes a single raster image. It is used for custom
// covers and for single-image uploads.
type ImageProcessor struct {
	encoder Encoder
	log     zerolog.Logger
}

var _ Processor = (*ImageProcessor)(nil)

func NewImageProcessor(encoder Encoder) *ImageProcessor {
	return &ImageProcessor{encoder: encoder, log: logger.Component("processor.image")}
}

func (p *ImageProcessor) Name() string { return "image" }

func (p *ImageProcessor) CanHandle(mediaType string) bool {
	return supportedImageTypes[normalizeMediaType(mediaType)]
}

// Convert validates doc and encodes it at quality.
func (p *ImageProcessor) Convert(ctx context.Context, doc *domain.Document, quality float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.CanHandle(doc.MediaType) {
		return nil, domain.NewValidationError("unsupported image type: %s", doc.MediaType)
	}
	if quality <= 0 || quality > 1 {
		quality = DefaultQuality
	}

	img, _, err := image.Decode(bytes.NewReader(doc.Data))
	if err != nil {
		return nil, imageError("decode image", err)
	}

	blob, err := p.encoder.Encode(img, quality)
	if err != nil {
		return nil, imageError("encode image", err)
	}
	return blob, nil
}

func (p *ImageProcessor) Process(ctx context.Context, doc *domain.Document, opts Options) iter.Seq2[domain.PageImage, error] {
	opts = opts.withDefaults()

	var used atomic.Bool
	return func(yield func(domain.PageImage, error) bool) {
		if used.Swap(true) {
			yield(domain.PageImage{}, ErrSequenceConsumed)
			return
		}

		blob, err := p.Convert(ctx, doc, opts.Quality)
		if err != nil {
			yield(domain.PageImage{}, err)
			return
		}
		opts.OnPage.Report(p.log, "image_processing", 1, 1)
		yield(domain.PageImage{PageNumber: 1, Blob: blob}, nil)
	}
}

func imageError(msg string, err error) *domain.ProcessingError {
	return &domain.ProcessingError{Kind: domain.KindImageProcessing, Message: msg, Err: err}
}
