package processor

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
)

// Encoder compresses a raster into the stored image format.
type Encoder interface {
	Encode(img image.Image, quality float64) ([]byte, error)
	MediaType() string
}

// WebPEncoder writes lossy WebP through libwebp.
type WebPEncoder struct{}

func (WebPEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality * 100)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (WebPEncoder) MediaType() string { return MediaTypeWebP }
