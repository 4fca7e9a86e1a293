package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/service"
)

type Uploader interface {
	Upload(ctx context.Context, req service.UploadRequest) (*domain.Issue, error)
}

type IssueManager interface {
	Get(ctx context.Context, id string) (*domain.Issue, error)
	FindByNumber(ctx context.Context, issueNumber int) (*domain.Issue, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Issue, error)
	Delete(ctx context.Context, id string, issueNumber int) error
	Rename(ctx context.Context, id string, oldNumber, newNumber int, newTitle *string) (*domain.Issue, error)
}

type IssueHandler struct {
	uploads  Uploader
	issues   IssueManager
	maxBytes int64
}

// NewIssueHandler limits each uploaded part to maxBytes. Zero disables the limit.
func NewIssueHandler(uploads Uploader, issues IssueManager, maxBytes int64) *IssueHandler {
	return &IssueHandler{uploads: uploads, issues: issues, maxBytes: maxBytes}
}

// formOverhead is the room left for form fields and part headers.
const formOverhead = 1 << 20

const dateLayout = "2006-01-02"

// UploadIssue handles a multipart issue upload
func (h *IssueHandler) UploadIssue(c *gin.Context) {
	if h.maxBytes > 0 {
		// a document and a cover at most
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxBytes+formOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, "request too large: max %d bytes per file", h.maxBytes)
			return
		}
		badRequest(c, "file is required")
		return
	}
	doc, err := h.readDocument(fileHeader)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	var cover *domain.Document
	if coverHeader, err := c.FormFile("cover"); err == nil {
		if cover, err = h.readDocument(coverHeader); err != nil {
			badRequest(c, "%v", err)
			return
		}
	}

	issueNumber, err := strconv.Atoi(strings.TrimSpace(c.PostForm("issue_number")))
	if err != nil {
		badRequest(c, "issue_number must be an integer")
		return
	}

	date := time.Now().UTC()
	if raw := strings.TrimSpace(c.PostForm("publication_date")); raw != "" {
		if date, err = time.Parse(dateLayout, raw); err != nil {
			badRequest(c, "publication_date must be YYYY-MM-DD")
			return
		}
	}

	published := false
	if raw := strings.TrimSpace(c.PostForm("published")); raw != "" {
		if published, err = strconv.ParseBool(raw); err != nil {
			badRequest(c, "published must be a boolean")
			return
		}
	}

	var coverQuality float64
	if raw := strings.TrimSpace(c.PostForm("cover_quality")); raw != "" {
		if coverQuality, err = strconv.ParseFloat(raw, 64); err != nil {
			badRequest(c, "cover_quality must be a number")
			return
		}
	}

	issue, err := h.uploads.Upload(c.Request.Context(), service.UploadRequest{
		Document:        doc,
		Cover:           cover,
		Title:           c.PostForm("title"),
		IssueNumber:     issueNumber,
		PublicationDate: date,
		Published:       published,
		CoverQuality:    coverQuality,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, issue)
}

// readDocument rejects parts over the limit before reading them into memory.
func (h *IssueHandler) readDocument(fh *multipart.FileHeader) (*domain.Document, error) {
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		return nil, fmt.Errorf("%s too large: %d bytes (max %d)", fh.Filename, fh.Size, h.maxBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}

	return &domain.Document{
		Name:      fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}

// ListIssues returns issues newest first
func (h *IssueHandler) ListIssues(c *gin.Context) {
	limit := parsePositiveIntWithDefault(c.Query("limit"), 20)
	offset := parseNonNegativeInt(c.Query("offset"))

	issues, err := h.issues.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if issues == nil {
		issues = []*domain.Issue{}
	}

	c.JSON(http.StatusOK, gin.H{"issues": issues, "limit": limit, "offset": offset})
}

func (h *IssueHandler) GetIssue(c *gin.Context) {
	issue, err := h.issues.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *IssueHandler) GetIssueByNumber(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		badRequest(c, "issue number must be an integer")
		return
	}

	issue, err := h.issues.FindByNumber(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// DeleteIssue removes an issue. issue_number defaults to the stored one.
func (h *IssueHandler) DeleteIssue(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var issueNumber int
	if raw := strings.TrimSpace(c.Query("issue_number")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "issue_number must be an integer")
			return
		}
		issueNumber = n
	} else {
		issue, err := h.issues.Get(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		issueNumber = issue.IssueNumber
	}

	if err := h.issues.Delete(ctx, id, issueNumber); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type renameRequest struct {
	OldIssueNumber int     `json:"old_issue_number" binding:"required"`
	NewIssueNumber int     `json:"new_issue_number" binding:"required"`
	Title          *string `json:"title"`
}

func (h *IssueHandler) RenameIssue(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid rename request: %v", err)
		return
	}

	issue, err := h.issues.Rename(c.Request.Context(), c.Param("id"), req.OldIssueNumber, req.NewIssueNumber, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}
