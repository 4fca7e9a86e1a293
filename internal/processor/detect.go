package processor

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	MediaTypePDF  = "application/pdf"
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
	MediaTypeGIF  = "image/gif"
	MediaTypeWebP = "image/webp"
)

// DetectMediaType sniffs data and falls back to the declared type when the
// content is not recognised.
func DetectMediaType(data []byte, declared string) string {
	declared = normalizeMediaType(declared)

	detected := mimetype.Detect(data)
	if detected == nil || detected.Is("application/octet-stream") || detected.Is("text/plain") {
		return declared
	}
	return normalizeMediaType(detected.String())
}

func normalizeMediaType(v string) string {
	if v == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(v); err == nil {
		return parsed
	}
	return strings.ToLower(strings.TrimSpace(v))
}
