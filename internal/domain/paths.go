package domain

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

const (
	CoverFileName  = "kapak.webp"
	PagesDir       = "pages"
	ImageMediaType = "image/webp"
)

// IssuePrefix is the storage directory owning every object of an issue.
func IssuePrefix(issueNumber int) string {
	return strconv.Itoa(issueNumber)
}

// PagesPrefix is the directory holding the page images of an issue.
func PagesPrefix(issueNumber int) string {
	return path.Join(IssuePrefix(issueNumber), PagesDir)
}

func CoverPath(issueNumber int) string {
	return fmt.Sprintf("%d/%s", issueNumber, CoverFileName)
}

func PagePath(issueNumber, pageNumber int) string {
	return fmt.Sprintf("%d/%s/sayfa_%03d.webp", issueNumber, PagesDir, pageNumber)
}

// RebasePath moves p from the oldNumber prefix onto the newNumber prefix.
// It returns false when p is not under oldNumber.
func RebasePath(p string, oldNumber, newNumber int) (string, bool) {
	prefix := IssuePrefix(oldNumber) + "/"
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	return IssuePrefix(newNumber) + "/" + strings.TrimPrefix(p, prefix), true
}
