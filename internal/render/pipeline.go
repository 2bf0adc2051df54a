// Package render turns catalogue entries without a cached SVG into decorated
// SVG markup and writes the catalogue back when anything new was produced.
package render

import (
	"context"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kamusis/symsvg/internal/catalogue"
)

// Typesetter renders TeX markup to SVG markup.
type Typesetter interface {
	Typeset(ctx context.Context, math string) (string, error)
}

// Options tunes a Pipeline.
type Options struct {
	// Concurrency caps in-flight renders; 0 dispatches everything at once.
	Concurrency int
	// RenderTimeout bounds each render; 0 means no limit.
	RenderTimeout time.Duration
}

// Pipeline renders the uncached entries of a catalogue.
type Pipeline struct {
	engine Typesetter
	log    *zap.Logger
	opts   Options
}

// New returns a Pipeline using engine, which must already be started.
func New(engine Typesetter, log *zap.Logger, opts Options) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{engine: engine, log: log, opts: opts}
}

// Job is one entry scheduled for rendering.
type Job struct {
	Category string
	Index    int
	Entry    *catalogue.Entry
}

// Result summarizes a run.
type Result struct {
	Scheduled int
	Rendered  int
	Failures  []*RenderError
}

// Err combines every render failure, or returns nil.
func (r *Result) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// WorkSet returns every entry of cat without a cached SVG, ordered by
// category name then position.
func WorkSet(cat catalogue.Catalogue) []Job {
	categories := make([]string, 0, len(cat))
	for c := range cat {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var jobs []Job
	for _, c := range categories {
		for i, e := range cat[c] {
			if !e.Cached() {
				jobs = append(jobs, Job{Category: c, Index: i, Entry: e})
			}
		}
	}
	return jobs
}

// Run renders the work set of doc and persists doc if at least one entry
// was rendered. Render failures are reported in the Result; the returned
// error is non-nil only when the catalogue could not be written.
func (p *Pipeline) Run(ctx context.Context, doc *catalogue.Document) (*Result, error) {
	jobs := WorkSet(doc.Symbols)
	p.log.Debug("work set selected",
		zap.Int("entries", doc.Symbols.Len()),
		zap.Int("uncached", len(jobs)))

	res := p.Render(ctx, jobs)
	if err := doc.PersistIfChanged(res.Rendered); err != nil {
		return res, err
	}
	if res.Rendered > 0 {
		p.log.Info("catalogue written", zap.String("path", doc.Path), zap.Int("rendered", res.Rendered))
	}
	return res, nil
}

// Render dispatches every job, waits for all of them to settle and stores
// each successful render in its entry. Jobs never cancel each other.
func (p *Pipeline) Render(ctx context.Context, jobs []Job) *Result {
	var g errgroup.Group
	if p.opts.Concurrency > 0 {
		g.SetLimit(p.opts.Concurrency)
	}

	errs := make([]*RenderError, len(jobs))
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			errs[i] = p.renderOne(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Scheduled: len(jobs)}
	for _, err := range errs {
		if err != nil {
			res.Failures = append(res.Failures, err)
			continue
		}
		res.Rendered++
	}
	return res
}

func (p *Pipeline) renderOne(ctx context.Context, job Job) *RenderError {
	if p.opts.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RenderTimeout)
		defer cancel()
	}

	start := time.Now()
	svg, err := p.engine.Typeset(ctx, job.Entry.Source)
	if err == nil && svg == "" {
		err = ErrEmptyOutput
	}
	if err != nil {
		re := &RenderError{Category: job.Category, Name: job.Entry.Name, Source: job.Entry.Source, Err: err}
		p.log.Debug("render failed",
			zap.String("category", job.Category),
			zap.String("name", job.Entry.Name),
			zap.Error(err))
		return re
	}

	job.Entry.SVG = Decorate(svg, job.Entry)
	p.log.Debug("rendered",
		zap.String("category", job.Category),
		zap.String("name", job.Entry.Name),
		zap.Duration("took", time.Since(start)))
	return nil
}
