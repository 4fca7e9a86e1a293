package drive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/andresuchdata/dergi/internal/domain"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	pdfMimeType    = "application/pdf"
)

type Service struct {
	srv *drive.Service
	// maxBytes bounds Fetch downloads; 0 means unlimited.
	maxBytes int64
}

// NewService authenticates with a service account JSON key.
func NewService(ctx context.Context, credentialsJSON string, maxBytes int64) (*Service, error) {
	// Parse credentials from JSON
	config, err := google.JWTConfigFromJSON(
		[]byte(credentialsJSON),
		drive.DriveReadonlyScope,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse drive credentials: %w", err)
	}

	return New(ctx, maxBytes, option.WithHTTPClient(config.Client(ctx)))
}

// New creates a service from raw client options.
func New(ctx context.Context, maxBytes int64, opts ...option.ClientOption) (*Service, error) {
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}
	return &Service{srv: srv, maxBytes: maxBytes}, nil
}

type File struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
	Size         int64  `json:"size,string,omitempty"`
}

// ListFiles returns the non-trashed files of a folder, following every page.
// An empty mimeType lists all files.
func (s *Service) ListFiles(ctx context.Context, folderID, mimeType string) ([]*File, error) {
	// If no folder ID is provided, use "root"
	if folderID == "" {
		folderID = "root"
	}

	q := fmt.Sprintf("'%s' in parents and trashed=false", escape(folderID))
	if mimeType != "" {
		q += fmt.Sprintf(" and mimeType='%s'", escape(mimeType))
	}

	var files []*File
	err := s.srv.Files.List().
		Q(q).
		OrderBy("name").
		Fields("nextPageToken, files(id, name, mimeType, modifiedTime, size)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				files = append(files, &File{
					ID:           f.Id,
					Name:         f.Name,
					MimeType:     f.MimeType,
					ModifiedTime: f.ModifiedTime,
					Size:         f.Size,
				})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve files: %w", err)
	}

	return files, nil
}

// ListPDFs lists the PDF documents of a folder.
func (s *Service) ListPDFs(ctx context.Context, folderID string) ([]*File, error) {
	return s.ListFiles(ctx, folderID, pdfMimeType)
}

// Fetch downloads a file into memory as a document.
func (s *Service) Fetch(ctx context.Context, fileID string) (*domain.Document, error) {
	meta, err := s.srv.Files.Get(fileID).
		Fields("id, name, mimeType, size").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to get file %s: %w", fileID, err)
	}
	if s.maxBytes > 0 && meta.Size > s.maxBytes {
		return nil, domain.NewValidationError("file too large: %d bytes (max %d)", meta.Size, s.maxBytes)
	}

	resp, err := s.srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("unable to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if s.maxBytes > 0 {
		body = io.LimitReader(resp.Body, s.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("unable to read file %s: %w", fileID, err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, domain.NewValidationError("file too large: more than %d bytes", s.maxBytes)
	}

	return &domain.Document{Name: meta.Name, MediaType: meta.MimeType, Data: data}, nil
}

// FindFolderByPath resolves a slash separated folder path from the root.
func (s *Service) FindFolderByPath(ctx context.Context, path string) (string, error) {
	currentID := "root"

	for _, folder := range strings.Split(path, "/") {
		if folder == "" {
			continue
		}

		result, err := s.srv.Files.List().
			Q(fmt.Sprintf("'%s' in parents and name='%s' and mimeType='%s' and trashed=false",
				escape(currentID), escape(folder), folderMimeType)).
			Fields("files(id, name)").
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("error finding folder %s: %w", folder, err)
		}

		if len(result.Files) == 0 {
			return "", fmt.Errorf("folder not found: %s", folder)
		}

		currentID = result.Files[0].Id
	}

	return currentID, nil
}

// escape quotes a value for a Drive query string.
func escape(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}
