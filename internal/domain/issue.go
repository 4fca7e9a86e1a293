package domain

import (
	"time"
)

const (
	MinIssueNumber = 1
	MaxIssueNumber = 9999
)

// Issue is the metadata record of one published magazine issue.
type Issue struct {
	ID              string    `db:"id" json:"id"`
	IssueNumber     int       `db:"issue_number" json:"issue_number"`
	Title           string    `db:"title" json:"title"`
	PublicationDate time.Time `db:"publication_date" json:"publication_date"`
	CoverImageURL   *string   `db:"cover_image_url" json:"cover_image_url"`
	PageCount       int       `db:"page_count" json:"page_count"`
	Published       bool      `db:"published" json:"published"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// CreateIssueDTO is the payload for an upsert keyed on IssueNumber.
type CreateIssueDTO struct {
	IssueNumber     int       `json:"issue_number" validate:"gte=1,lte=9999"`
	Title           string    `json:"title" validate:"required"`
	PublicationDate time.Time `json:"publication_date"`
	CoverImageURL   *string   `json:"cover_image_url,omitempty"`
	PageCount       int       `json:"page_count" validate:"gte=0"`
	Published       bool      `json:"published"`
}

// UpdateIssueDTO carries a partial update. Nil fields are left unchanged.
type UpdateIssueDTO struct {
	IssueNumber     *int       `json:"issue_number,omitempty"`
	Title           *string    `json:"title,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	CoverImageURL   *string    `json:"cover_image_url,omitempty"`
	PageCount       *int       `json:"page_count,omitempty"`
	Published       *bool      `json:"published,omitempty"`
}

// Apply copies the set fields of dto onto issue.
func (dto UpdateIssueDTO) Apply(issue *Issue) {
	if dto.IssueNumber != nil {
		issue.IssueNumber = *dto.IssueNumber
	}
	if dto.Title != nil {
		issue.Title = *dto.Title
	}
	if dto.PublicationDate != nil {
		issue.PublicationDate = *dto.PublicationDate
	}
	if dto.CoverImageURL != nil {
		issue.CoverImageURL = dto.CoverImageURL
	}
	if dto.PageCount != nil {
		issue.PageCount = *dto.PageCount
	}
	if dto.Published != nil {
		issue.Published = *dto.Published
	}
}

// ValidIssueNumber reports whether n is inside the accepted range.
func ValidIssueNumber(n int) bool {
	return n >= MinIssueNumber && n <= MaxIssueNumber
}

// PageImage is one rendered page, numbered from 1.
type PageImage struct {
	PageNumber int
	Blob       []byte
}

// StorageObject is an entry returned by a blob store listing.
// ID is nil for directory entries.
type StorageObject struct {
	Name string
	ID   *string
	Path string
	Size int64
}

// IsDir reports whether the entry is a directory placeholder.
func (o StorageObject) IsDir() bool {
	return o.ID == nil
}

// Document is an input file held in memory.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// Size returns the document length in bytes.
func (d *Document) Size() int64 {
	return int64(len(d.Data))
}
