package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/metrics"
	"github.com/andresuchdata/dergi/internal/progress"
	"github.com/andresuchdata/dergi/internal/retry"
	"github.com/andresuchdata/dergi/internal/storage"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// Worker uploads rendered pages to the blob store.
type Worker struct {
	store     storage.BlobStore
	config    Config
	metrics   *metrics.Metrics
	retryOpts []retry.Option
	log       zerolog.Logger
}

// NewWorker creates a new page upload worker
func NewWorker(store storage.BlobStore, config Config, m *metrics.Metrics, retryOpts ...retry.Option) *Worker {
	if config.Concurrency < 1 {
		config.Concurrency = DefaultConcurrency
	}
	if config.Policy.MaxAttempts == 0 {
		config.Policy = retry.UploadPolicy()
	}

	return &Worker{
		store:     store,
		config:    config,
		metrics:   m,
		retryOpts: retryOpts,
		log:       logger.Component("pipeline"),
	}
}

// UploadPages stores pages under issueNumber in sequential batches of
// Config.Concurrency. Uploads inside a batch run in parallel and all of them
// settle before the next batch starts. A batch that ends with a failed page
// stops the run; later pages stay queued.
//
// onPage is called once per newly stored page after each batch, with the
// running count and the total.
func (w *Worker) UploadPages(ctx context.Context, issueNumber int, pages []domain.PageImage, onPage progress.Func) *Result {
	result := &Result{
		IssueNumber: issueNumber,
		Jobs:        make([]*PageJob, len(pages)),
	}
	for i, page := range pages {
		result.Jobs[i] = &PageJob{
			PageNumber: page.PageNumber,
			Path:       domain.PagePath(issueNumber, page.PageNumber),
			Status:     PageQueued,
		}
	}

	total := len(pages)
	width := w.config.Concurrency
	done := 0
	started := time.Now()

	w.log.Info().
		Int("issue", issueNumber).
		Int("pages", total).
		Int("concurrency", width).
		Msg("Starting page upload")

	for start := 0; start < total; start += width {
		end := min(start+width, total)

		// Siblings keep running when one upload fails, so the group never
		// sees an error.
		var g errgroup.Group
		for i := start; i < end; i++ {
			job, blob := result.Jobs[i], pages[i].Blob
			g.Go(func() error {
				w.uploadPage(ctx, job, blob)
				return nil
			})
		}
		_ = g.Wait()

		failed := 0
		for _, job := range result.Jobs[start:end] {
			switch job.Status {
			case PageCompleted:
				done++
				onPage.Report(w.log, "page_progress", done, total)
			case PageFailed:
				failed++
			}
		}

		w.log.Debug().
			Int("issue", issueNumber).
			Int("batch_start", start+1).
			Int("batch_end", end).
			Int("failed", failed).
			Msg("Batch settled")

		if failed > 0 {
			break
		}
	}

	ev := w.log.Info()
	if done < total {
		ev = w.log.Warn()
	}
	ev.Int("issue", issueNumber).
		Int("uploaded", done).
		Int("pages", total).
		Dur("elapsed", time.Since(started)).
		Msg("Page upload finished")

	return result
}

func (w *Worker) uploadPage(ctx context.Context, job *PageJob, blob []byte) {
	job.Status = PageUploading

	opts := append([]retry.Option{
		retry.WithOnRetry(func(err error, delay time.Duration) {
			w.metrics.Retry("upload")
		}),
	}, w.retryOpts...)

	err := retry.DoErr(ctx, w.config.Policy, func(ctx context.Context) error {
		job.Attempts++
		return w.store.Upload(ctx, job.Path, blob, storage.UploadOptions{
			Upsert:       true,
			ContentType:  domain.ImageMediaType,
			CacheControl: w.config.CacheControl,
		})
	}, opts...)
	if err != nil {
		job.Status = PageFailed
		job.Err = err
		w.log.Error().
			Err(err).
			Int("page", job.PageNumber).
			Int("attempts", job.Attempts).
			Msg("Page upload failed")
		return
	}

	job.Status = PageCompleted
	w.metrics.PageUploaded()
}
