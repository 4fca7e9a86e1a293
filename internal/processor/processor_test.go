package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dergi/internal/domain"
)

type fakeEncoder struct {
	fail  int // image width that fails to encode, 0 for none
	sizes []image.Point
}

func (e *fakeEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	size := img.Bounds().Size()
	e.sizes = append(e.sizes, size)
	if e.fail != 0 && size.X == e.fail {
		return nil, errors.New("encoder out of memory")
	}
	return []byte(fmt.Sprintf("webp %dx%d q%.1f", size.X, size.Y, quality)), nil
}

func (e *fakeEncoder) MediaType() string { return MediaTypeWebP }

type fakeRaster struct {
	mu          sync.Mutex
	pages       int
	width       float64
	height      float64
	failRender  int
	openErr     error
	availErr    error
	probes      int
	opened      int
	closed      int
	renderedFor []int
}

func (r *fakeRaster) Name() string { return "fake" }

func (r *fakeRaster) Available(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes++
	return r.availErr
}

func (r *fakeRaster) Open(context.Context, []byte) (RasterDocument, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	r.opened++
	return &fakeRasterDoc{r: r}, nil
}

type fakeRasterDoc struct{ r *fakeRaster }

func (d *fakeRasterDoc) NumPages() int { return d.r.pages }

func (d *fakeRasterDoc) PageSize(int) (float64, float64, error) {
	return d.r.width, d.r.height, nil
}

func (d *fakeRasterDoc) Render(_ context.Context, page, width, height int) (image.Image, error) {
	if page == d.r.failRender {
		return nil, errors.New("surface unavailable")
	}
	d.r.renderedFor = append(d.r.renderedFor, page)
	// encode the page number into the width so the fake encoder can fail per page
	return image.NewRGBA(image.Rect(0, 0, width+page, height)), nil
}

func (d *fakeRasterDoc) Close() error {
	d.r.closed++
	return nil
}

func pdfDoc() *domain.Document {
	return &domain.Document{Name: "issue.pdf", MediaType: MediaTypePDF, Data: []byte("%PDF-1.7")}
}

func TestPDFProcessorScalesToTargetHeight(t *testing.T) {
	raster := &fakeRaster{pages: 3, width: 595.276, height: 841.89}
	enc := &fakeEncoder{}
	p := NewPDFProcessor(raster, enc)

	var progress [][2]int
	pages, err := Collect(p.Process(context.Background(), pdfDoc(), Options{
		TargetHeight: 2400,
		Quality:      0.8,
		OnPage:       func(done, total int) { progress = append(progress, [2]int{done, total}) },
	}))
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, page := range pages {
		assert.Equal(t, i+1, page.PageNumber)
	}
	// 595.276 * 2400 / 841.89 = 1697.0
	assert.Equal(t, image.Pt(1697+1, 2400), enc.sizes[0])
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
	assert.Equal(t, 1, raster.closed)
}

func TestPDFProcessorIsNotRestartable(t *testing.T) {
	p := NewPDFProcessor(&fakeRaster{pages: 2, width: 100, height: 200}, &fakeEncoder{})
	seq := p.Process(context.Background(), pdfDoc(), Options{})

	_, err := Collect(seq)
	require.NoError(t, err)

	_, err = Collect(seq)
	assert.ErrorIs(t, err, ErrSequenceConsumed)
}

func TestPDFProcessorReleasesDocumentOnEveryPath(t *testing.T) {
	t.Run("render failure", func(t *testing.T) {
		raster := &fakeRaster{pages: 4, width: 100, height: 200, failRender: 3}
		_, err := Collect(NewPDFProcessor(raster, &fakeEncoder{}).Process(context.Background(), pdfDoc(), Options{}))

		var perr *domain.ProcessingError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, domain.KindPDFProcessing, perr.Kind)
		assert.Equal(t, []int{1, 2}, raster.renderedFor)
		assert.Equal(t, 1, raster.closed)
	})

	t.Run("encode failure", func(t *testing.T) {
		raster := &fakeRaster{pages: 2, width: 100, height: 100}
		// page 2 renders as 2400+2 wide
		enc := &fakeEncoder{fail: 2402}
		_, err := Collect(NewPDFProcessor(raster, enc).Process(context.Background(), pdfDoc(), Options{}))

		assert.Equal(t, domain.KindPDFProcessing, domain.KindOf(err))
		assert.Equal(t, 1, raster.closed)
	})

	t.Run("consumer stops early", func(t *testing.T) {
		raster := &fakeRaster{pages: 10, width: 100, height: 200}
		seq := NewPDFProcessor(raster, &fakeEncoder{}).Process(context.Background(), pdfDoc(), Options{})
		for page, err := range seq {
			require.NoError(t, err)
			if page.PageNumber == 6 {
				break
			}
		}
		assert.Len(t, raster.renderedFor, 6)
		assert.Equal(t, 1, raster.closed)
	})

	t.Run("too many pages", func(t *testing.T) {
		raster := &fakeRaster{pages: 501, width: 100, height: 200}
		_, err := Collect(NewPDFProcessor(raster, &fakeEncoder{}).Process(context.Background(), pdfDoc(), Options{}))

		assert.Equal(t, domain.KindFileValidation, domain.KindOf(err))
		assert.Empty(t, raster.renderedFor)
		assert.Equal(t, 1, raster.closed)
	})
}

func TestPDFProcessorOpenFailure(t *testing.T) {
	raster := &fakeRaster{openErr: errors.New("not a pdf")}
	_, err := Collect(NewPDFProcessor(raster, &fakeEncoder{}).Process(context.Background(), pdfDoc(), Options{}))

	assert.Equal(t, domain.KindPDFProcessing, domain.KindOf(err))
	assert.Equal(t, 0, raster.closed)
}

func TestPDFProcessorPanickingProgressDoesNotAbort(t *testing.T) {
	raster := &fakeRaster{pages: 2, width: 100, height: 200}
	pages, err := Collect(NewPDFProcessor(raster, &fakeEncoder{}).Process(context.Background(), pdfDoc(), Options{
		OnPage: func(int, int) { panic("progress bar closed") },
	}))

	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestSelector(t *testing.T) {
	enc := &fakeEncoder{}
	raster := &fakeRaster{pages: 1, width: 1, height: 1}
	sel := NewSelector(NewPDFProcessor(raster, enc), NewImageProcessor(enc))

	p, err := sel.Select(context.Background(), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf:fake", p.Name())

	p, err = sel.Select(context.Background(), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image", p.Name())

	_, err = sel.Select(context.Background(), "text/plain")
	var perr *domain.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.KindFileValidation, perr.Kind)
	assert.Contains(t, perr.Message, "text/plain")
}

func TestSelectorCachesUnavailableCapability(t *testing.T) {
	raster := &fakeRaster{availErr: errors.New("pdftoppm missing")}
	sel := NewSelector(NewPDFProcessor(raster, &fakeEncoder{}))

	for i := 0; i < 3; i++ {
		_, err := sel.Select(context.Background(), MediaTypePDF)
		assert.Equal(t, domain.KindFileValidation, domain.KindOf(err))
	}
	assert.Equal(t, 1, raster.probes)
}

type namedProcessor struct {
	name  string
	media string
}

func (n namedProcessor) Name() string                   { return n.name }
func (n namedProcessor) CanHandle(mediaType string) bool { return mediaType == n.media }
func (n namedProcessor) Process(context.Context, *domain.Document, Options) iter.Seq2[domain.PageImage, error] {
	return func(func(domain.PageImage, error) bool) {}
}

func TestSelectorLateRegistration(t *testing.T) {
	sel := NewSelector()
	_, err := sel.Select(context.Background(), "image/tiff")
	require.Error(t, err)

	sel.Register(namedProcessor{name: "tiff", media: "image/tiff"})
	p, err := sel.Select(context.Background(), "image/tiff")
	require.NoError(t, err)
	assert.Equal(t, "tiff", p.Name())
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageProcessorConvert(t *testing.T) {
	enc := &fakeEncoder{}
	p := NewImageProcessor(enc)

	blob, err := p.Convert(context.Background(), &domain.Document{Name: "cover.png", MediaType: MediaTypePNG, Data: pngBytes(t, 30, 40)}, 0.9)
	require.NoError(t, err)
	assert.Equal(t, "webp 30x40 q0.9", string(blob))

	_, err = p.Convert(context.Background(), &domain.Document{Name: "cover.bmp", MediaType: "image/bmp"}, 0.9)
	assert.Equal(t, domain.KindFileValidation, domain.KindOf(err))

	_, err = p.Convert(context.Background(), &domain.Document{Name: "cover.png", MediaType: MediaTypePNG, Data: []byte("garbage")}, 0.9)
	assert.Equal(t, domain.KindImageProcessing, domain.KindOf(err))
}

func TestImageProcessorYieldsOnePage(t *testing.T) {
	p := NewImageProcessor(&fakeEncoder{})
	pages, err := Collect(p.Process(context.Background(), &domain.Document{MediaType: MediaTypePNG, Data: pngBytes(t, 10, 10)}, Options{}))

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].PageNumber)
}

func TestDetectMediaType(t *testing.T) {
	assert.Equal(t, MediaTypePNG, DetectMediaType(pngBytes(t, 2, 2), "application/octet-stream"))
	assert.Equal(t, MediaTypePDF, DetectMediaType([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), ""))
	assert.Equal(t, MediaTypePDF, DetectMediaType(nil, "application/pdf; charset=binary"))
}

func TestScaleToHeight(t *testing.T) {
	w, h := ScaleToHeight(600, 800, 2400)
	assert.Equal(t, 1800, w)
	assert.Equal(t, 2400, h)

	w, h = ScaleToHeight(0, 800, 2400)
	assert.Zero(t, w)
	assert.Zero(t, h)
}
