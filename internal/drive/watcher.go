package drive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DownloadOptions controls how files are pulled from Google Drive.
type DownloadOptions struct {
	FolderID    string
	DownloadDir string
}

// Downloader wraps Service to mirror the PDFs of a folder locally.
type Downloader struct {
	service *Service
}

func NewDownloader(s *Service) *Downloader {
	return &Downloader{service: s}
}

// DownloadFolderPDFs writes every PDF of the folder into DownloadDir and
// returns the local paths in Drive name order.
func (d *Downloader) DownloadFolderPDFs(ctx context.Context, opts DownloadOptions) ([]string, error) {
	if opts.DownloadDir == "" {
		return nil, fmt.Errorf("download dir is required")
	}
	if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	files, err := d.service.ListPDFs(ctx, opts.FolderID)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		doc, err := d.service.Fetch(ctx, f.ID)
		if err != nil {
			return paths, err
		}

		name := localName(f.Name)
		dest := filepath.Join(opts.DownloadDir, name)
		if err := os.WriteFile(dest, doc.Data, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", dest, err)
		}
		paths = append(paths, dest)
	}

	return paths, nil
}

// localName strips directory parts and makes sure the name ends in .pdf.
func localName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
