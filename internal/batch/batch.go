// Package batch fans clip searches out to a fixed-size worker pool and
// collects their results in input order.
package batch

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/logger"
	"github.com/gwlsn/crfhunt/internal/sample"
	"github.com/gwlsn/crfhunt/internal/search"
)

// FailurePolicy decides what a clip failure does to the rest of the batch.
type FailurePolicy int

const (
	// Abort stops dispatching new searches on the first failure, lets the
	// in-flight ones finish, and returns the failure with no results.
	Abort FailurePolicy = iota
	// Continue runs every clip and returns all results, failed ones included.
	Continue
)

// Searcher runs one clip search.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// Options configures an Orchestrator.
type Options struct {
	Start    int // Starting CRF for every clip
	Target   int // Score every clip search must hit
	PoolSize int // Concurrent searches, see PoolSize
	Failure  FailurePolicy
}

// ClipResult is the outcome for the clip at Index in the input list.
type ClipResult struct {
	Index   int
	Clip    sample.Clip
	Worker  int
	Result  *search.Result // nil unless the search succeeded
	Err     error
	Skipped bool // Never started because the batch was stopped
}

// OK reports whether the clip search succeeded.
func (r ClipResult) OK() bool {
	return r.Result != nil && r.Err == nil
}

// PoolSize returns max(1, totalThreads/workersPerJob), rounding down.
// workersPerJob is the encoder's own parallelism; values below 1 count as 1.
func PoolSize(totalThreads, workersPerJob int) int {
	if workersPerJob < 1 {
		workersPerJob = 1
	}
	return max(1, totalThreads/workersPerJob)
}

// Orchestrator runs clip searches concurrently.
type Orchestrator struct {
	searcher Searcher
	opts     Options
}

// New creates an Orchestrator. A pool size below 1 is treated as 1.
func New(searcher Searcher, opts Options) *Orchestrator {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	return &Orchestrator{searcher: searcher, opts: opts}
}

// RunOne searches a single clip on the calling goroutine as worker 0.
// Used when the sampler did not split the video.
func (o *Orchestrator) RunOne(ctx context.Context, clip sample.Clip) ([]ClipResult, error) {
	r := ClipResult{Index: 0, Clip: clip, Worker: 0}
	r.Result, r.Err = o.searcher.Search(ctx, o.request(clip, 0))
	if r.Err != nil {
		r.Err = errs.WithClip(r.Err, clip.ID)
		if o.opts.Failure == Abort {
			return nil, r.Err
		}
	}
	return []ClipResult{r}, nil
}

func (o *Orchestrator) request(clip sample.Clip, worker int) search.Request {
	return search.Request{
		Clip:   clip,
		Start:  o.opts.Start,
		Target: o.opts.Target,
		Worker: worker,
	}
}

// Run searches every clip with at most PoolSize searches in flight.
// Results are returned in the order of clips regardless of completion order.
//
// Each running search holds a worker tag in [0, PoolSize) that no other
// in-flight search holds; the search names its intermediate files with it.
func (o *Orchestrator) Run(ctx context.Context, clips []sample.Clip) ([]ClipResult, error) {
	results := make([]ClipResult, len(clips))
	for i, c := range clips {
		results[i] = ClipResult{Index: i, Clip: c, Worker: -1, Skipped: true}
	}

	workers := make(chan int, o.opts.PoolSize)
	for w := 0; w < o.opts.PoolSize; w++ {
		workers <- w
	}

	var stopped atomic.Bool
	halted := func() bool { return stopped.Load() || ctx.Err() != nil }

	logger.Info("Starting clip searches",
		"clips", len(clips),
		"pool_size", o.opts.PoolSize,
		"start_crf", o.opts.Start,
		"target", o.opts.Target)

	var g errgroup.Group
	g.SetLimit(o.opts.PoolSize)

	for i, c := range clips {
		if halted() {
			break
		}
		g.Go(func() error {
			if halted() {
				return nil
			}
			worker := <-workers
			defer func() { workers <- worker }()

			r := &results[i]
			r.Worker = worker
			r.Skipped = false

			res, err := o.searcher.Search(ctx, o.request(c, worker))
			if err != nil {
				r.Err = errs.WithClip(err, c.ID)
				stage, _ := errs.StageOf(r.Err)
				logger.Error("Clip search failed", "clip", c.ID, "stage", stage, "error", err)
				if o.opts.Failure == Abort {
					stopped.Store(true)
					return r.Err
				}
				return nil
			}
			r.Result = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Qualities returns the CRFs of the successful results, in input order.
func Qualities(results []ClipResult) []int {
	qs := make([]int, 0, len(results))
	for _, r := range results {
		if r.OK() {
			qs = append(qs, r.Result.Quality)
		}
	}
	return qs
}

// Failures returns the results whose search failed.
func Failures(results []ClipResult) []ClipResult {
	var failed []ClipResult
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
