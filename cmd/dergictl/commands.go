package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/drive"
	"github.com/andresuchdata/dergi/internal/service"
)

var errNoDrive = errors.New("google drive is not configured (GOOGLE_DRIVE_CREDENTIALS_JSON)")

func runMigrate(c *cli.Context) error {
	if err := fromContext(c).Migrate(c.Context); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Println("metadata schema is up to date")
	return nil
}

func runUpload(c *cli.Context) error {
	a := fromContext(c)

	var (
		doc *domain.Document
		err error
	)
	switch {
	case c.String("drive-file-id") != "":
		if a.Drive == nil {
			return errNoDrive
		}
		doc, err = a.Drive.Fetch(c.Context, c.String("drive-file-id"))
	case c.String("file") != "":
		doc, err = readLocal(c.String("file"))
	default:
		return errors.New("one of --file or --drive-file-id is required")
	}
	if err != nil {
		return err
	}

	var cover *domain.Document
	if path := c.String("cover"); path != "" {
		if cover, err = readLocal(path); err != nil {
			return err
		}
	}

	date := time.Now().UTC()
	if ts := c.Timestamp("date"); ts != nil {
		date = *ts
	}

	issue, err := a.Uploads.Upload(c.Context, service.UploadRequest{
		Document:        doc,
		Cover:           cover,
		Title:           c.String("title"),
		IssueNumber:     c.Int("issue"),
		PublicationDate: date,
		Published:       c.Bool("published"),
		OnPDFProcessing: func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rrendering %d/%d", done, total)
		},
		OnPageProgress: func(done, total int) {
			fmt.Fprintf(os.Stderr, "\ruploading %d/%d", done, total)
		},
		OnCoverProgress: func(percent int) {
			fmt.Fprintf(os.Stderr, "\rcover %d%%   ", percent)
		},
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return describe(err)
	}

	fmt.Printf("issue %d uploaded: id=%s pages=%d\n", issue.IssueNumber, issue.ID, issue.PageCount)
	return nil
}

func readLocal(path string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &domain.Document{Name: filepath.Base(path), Data: data}, nil
}

func runList(c *cli.Context) error {
	issues, err := fromContext(c).Issues.List(c.Context, c.Int("limit"), c.Int("offset"))
	if err != nil {
		return describe(err)
	}
	for _, issue := range issues {
		fmt.Printf("%5d  %-36s  %s  %3d pages  %s\n",
			issue.IssueNumber, issue.ID, issue.PublicationDate.Format("2006-01-02"), issue.PageCount, issue.Title)
	}
	return nil
}

func runDelete(c *cli.Context) error {
	if err := fromContext(c).Issues.Delete(c.Context, c.String("id"), c.Int("issue")); err != nil {
		return describe(err)
	}
	fmt.Printf("issue %d deleted\n", c.Int("issue"))
	return nil
}

func runRename(c *cli.Context) error {
	var title *string
	if c.IsSet("title") {
		t := c.String("title")
		title = &t
	}

	issue, err := fromContext(c).Issues.Rename(c.Context, c.String("id"), c.Int("from"), c.Int("to"), title)
	if err != nil {
		return describe(err)
	}
	fmt.Printf("issue %s is now number %d\n", issue.ID, issue.IssueNumber)
	return nil
}

func runDriveList(c *cli.Context) error {
	d := fromContext(c).Drive
	if d == nil {
		return errNoDrive
	}

	folderID := c.String("folder-id")
	if path := c.String("path"); path != "" {
		id, err := d.FindFolderByPath(c.Context, path)
		if err != nil {
			return err
		}
		folderID = id
	}

	files, err := d.ListPDFs(c.Context, folderID)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Printf("%s  %10d  %s\n", f.ID, f.Size, f.Name)
	}
	return nil
}

func runDrivePull(c *cli.Context) error {
	d := fromContext(c).Drive
	if d == nil {
		return errNoDrive
	}

	paths, err := drive.NewDownloader(d).DownloadFolderPDFs(c.Context, drive.DownloadOptions{
		FolderID:    c.String("folder-id"),
		DownloadDir: c.String("dir"),
	})
	for _, p := range paths {
		fmt.Println(p)
	}
	return err
}

// describe adds the error kind and, for partial failures, the failed items.
func describe(err error) error {
	msg := fmt.Sprintf("[%s] %v", domain.KindOf(err), err)
	if domain.IsRetryable(err) {
		msg += " (retryable)"
	}

	var critical *domain.InconsistencyError
	if errors.As(err, &critical) {
		msg = "CRITICAL " + msg
	}
	return cli.Exit(msg, 1)
}
