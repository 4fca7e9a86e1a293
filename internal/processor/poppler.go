package processor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var (
	pagesLine    = regexp.MustCompile(`^Pages:\s+(\d+)`)
	pageSizeLine = regexp.MustCompile(`^Page\s+(\d+)\s+size:\s+([\d.]+)\s+x\s+([\d.]+)`)
	anySizeLine  = regexp.MustCompile(`^Page size:\s+([\d.]+)\s+x\s+([\d.]+)`)
)

// Poppler rasterizes PDFs with the poppler-utils command line tools.
type Poppler struct {
	PDFInfo  string
	PDFToPPM string
	TempDir  string
}

var _ Rasterizer = (*Poppler)(nil)

func NewPoppler() *Poppler {
	return &Poppler{PDFInfo: "pdfinfo", PDFToPPM: "pdftoppm"}
}

func (p *Poppler) Name() string { return "poppler" }

// Available checks that both tools are on PATH.
func (p *Poppler) Available(ctx context.Context) error {
	for _, bin := range []string{p.PDFInfo, p.PDFToPPM} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("poppler: %s not found: %w", bin, err)
		}
	}
	return nil
}

func (p *Poppler) Open(ctx context.Context, data []byte) (RasterDocument, error) {
	f, err := os.CreateTemp(p.TempDir, "dergi-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	doc := &popplerDocument{tool: p, path: f.Name()}

	if _, err := f.Write(data); err != nil {
		f.Close()
		doc.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		doc.Close()
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if err := doc.load(ctx); err != nil {
		doc.Close()
		return nil, err
	}
	return doc, nil
}

type popplerDocument struct {
	tool  *Poppler
	path  string
	pages int
	sizes map[int][2]float64
}

func (d *popplerDocument) load(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, d.tool.PDFInfo, d.path).Output()
	if err != nil {
		return fmt.Errorf("pdfinfo: %w", commandError(err))
	}
	pages, fallback, err := parsePDFInfo(out)
	if err != nil {
		return err
	}
	d.pages = pages
	if pages == 0 {
		return nil
	}

	out, err = exec.CommandContext(ctx, d.tool.PDFInfo, "-f", "1", "-l", strconv.Itoa(pages), d.path).Output()
	if err != nil {
		return fmt.Errorf("pdfinfo page sizes: %w", commandError(err))
	}
	d.sizes = parsePageSizes(out)
	if fallback != [2]float64{} {
		for i := 1; i <= pages; i++ {
			if _, ok := d.sizes[i]; !ok {
				d.sizes[i] = fallback
			}
		}
	}
	return nil
}

func (d *popplerDocument) NumPages() int { return d.pages }

func (d *popplerDocument) PageSize(page int) (float64, float64, error) {
	size, ok := d.sizes[page]
	if !ok {
		return 0, 0, fmt.Errorf("no size reported for page %d", page)
	}
	return size[0], size[1], nil
}

func (d *popplerDocument) Render(ctx context.Context, page, width, height int) (image.Image, error) {
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, d.tool.PDFToPPM,
		"-f", n, "-l", n,
		"-scale-to-x", strconv.Itoa(width),
		"-scale-to-y", strconv.Itoa(height),
		"-png", d.path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w", commandError(err))
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}
	return img, nil
}

func (d *popplerDocument) Close() error {
	if d.path == "" {
		return nil
	}
	err := os.Remove(d.path)
	d.path = ""
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// parsePDFInfo returns the page count and the document-wide page size,
// when pdfinfo reports one.
func parsePDFInfo(out []byte) (int, [2]float64, error) {
	pages := -1
	var size [2]float64

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := pagesLine.FindStringSubmatch(line); m != nil {
			pages, _ = strconv.Atoi(m[1])
			continue
		}
		if m := anySizeLine.FindStringSubmatch(line); m != nil {
			size[0], _ = strconv.ParseFloat(m[1], 64)
			size[1], _ = strconv.ParseFloat(m[2], 64)
		}
	}
	if pages < 0 {
		return 0, size, fmt.Errorf("pdfinfo: page count missing")
	}
	return pages, size, nil
}

func parsePageSizes(out []byte) map[int][2]float64 {
	sizes := make(map[int][2]float64)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := pageSizeLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[1])
		w, _ := strconv.ParseFloat(m[2], 64)
		h, _ := strconv.ParseFloat(m[3], 64)
		sizes[page] = [2]float64{w, h}
	}
	return sizes
}

func commandError(err error) error {
	if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return err
}
