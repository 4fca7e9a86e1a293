package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/drive"
)

type DriveBrowser interface {
	ListPDFs(ctx context.Context, folderID string) ([]*drive.File, error)
	FindFolderByPath(ctx context.Context, path string) (string, error)
}

type DriveIngester interface {
	IngestIssue(ctx context.Context, req drive.IngestRequest) (*domain.Issue, error)
}

type DriveHandler struct {
	browser DriveBrowser
	ingest  DriveIngester
}

func NewDriveHandler(browser DriveBrowser, ingest DriveIngester) *DriveHandler {
	return &DriveHandler{browser: browser, ingest: ingest}
}

// ListFiles lists the PDFs of a folder given by folderId or path
func (h *DriveHandler) ListFiles(c *gin.Context) {
	ctx := c.Request.Context()
	folderID := c.Query("folderId")

	if folderPath := c.Query("path"); folderPath != "" {
		id, err := h.browser.FindFolderByPath(ctx, folderPath)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		folderID = id
	}

	files, err := h.browser.ListPDFs(ctx, folderID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if files == nil {
		files = []*drive.File{}
	}

	c.JSON(http.StatusOK, files)
}

type ingestRequest struct {
	FileID          string `json:"file_id" binding:"required"`
	CoverFileID     string `json:"cover_file_id"`
	Title           string `json:"title"`
	IssueNumber     int    `json:"issue_number"`
	PublicationDate string `json:"publication_date"`
	Published       bool   `json:"published"`
}

// IngestFile uploads an issue whose PDF lives in Drive
func (h *DriveHandler) IngestFile(c *gin.Context) {
	var body ingestRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid ingest request: %v", err)
		return
	}

	req := drive.IngestRequest{
		FileID:      body.FileID,
		CoverFileID: body.CoverFileID,
		Title:       body.Title,
		IssueNumber: body.IssueNumber,
		Published:   body.Published,
	}
	if raw := strings.TrimSpace(body.PublicationDate); raw != "" {
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			badRequest(c, "publication_date must be YYYY-MM-DD")
			return
		}
		req.PublicationDate = date
	}

	issue, err := h.ingest.IngestIssue(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issue)
}
