// Package processor turns input documents into page images.
package processor

import (
	"context"
	"iter"
	"sync"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/progress"
	"github.com/andresuchdata/dergi/pkg/logger"
)

const (
	DefaultTargetHeight = 2400
	DefaultQuality      = 0.9
	DefaultMaxPages     = 500

	// yieldEvery is the page interval between cooperative scheduling points.
	yieldEvery = 5
)

// Options tune a single Process call.
type Options struct {
	TargetHeight int
	Quality      float64
	MaxPages     int
	// OnPage is called after each page is converted.
	OnPage progress.Func
}

func (o Options) withDefaults() Options {
	if o.TargetHeight <= 0 {
		o.TargetHeight = DefaultTargetHeight
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	return o
}

// Processor converts one document into a sequence of page images.
//
// The returned sequence is lazy and can only be ranged over once. A second
// range yields a single error. Conversion errors are yielded as the last
// element and are never retried here.
type Processor interface {
	Name() string
	CanHandle(mediaType string) bool
	Process(ctx context.Context, doc *domain.Document, opts Options) iter.Seq2[domain.PageImage, error]
}

// Availability is implemented by processors that depend on a runtime
// capability, such as an external rendering engine.
type Availability interface {
	Available(ctx context.Context) error
}

type probe struct {
	once sync.Once
	err  error
}

// Selector picks the first registered processor that handles a media type.
type Selector struct {
	mu         sync.RWMutex
	processors []Processor
	probes     []*probe
	log        zerolog.Logger
}

func NewSelector(processors ...Processor) *Selector {
	s := &Selector{log: logger.Component("processor")}
	for _, p := range processors {
		s.Register(p)
	}
	return s
}

// WithLogger replaces the selector logger.
func (s *Selector) WithLogger(l zerolog.Logger) *Selector {
	s.log = l
	return s
}

// Register adds p after the already registered processors.
func (s *Selector) Register(p Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors = append(s.processors, p)
	s.probes = append(s.probes, &probe{})
}

// Select returns a processor for mediaType. Processors whose capability
// probe failed are skipped; the probe runs once per processor and its
// result is cached.
func (s *Selector) Select(ctx context.Context, mediaType string) (Processor, error) {
	s.mu.RLock()
	processors := append([]Processor(nil), s.processors...)
	probes := append([]*probe(nil), s.probes...)
	s.mu.RUnlock()

	for i, p := range processors {
		if !p.CanHandle(mediaType) {
			continue
		}
		if err := s.available(ctx, p, probes[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("processor", p.Name()).
				Str("media_type", mediaType).
				Msg("processor unavailable")
			continue
		}
		return p, nil
	}

	return nil, domain.NewValidationError("unsupported file type: %s", mediaType)
}

func (s *Selector) available(ctx context.Context, p Processor, pr *probe) error {
	checker, ok := p.(Availability)
	if !ok {
		return nil
	}
	pr.once.Do(func() {
		pr.err = checker.Available(ctx)
	})
	return pr.err
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[domain.PageImage, error]) ([]domain.PageImage, error) {
	var pages []domain.PageImage
	for page, err := range seq {
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}
