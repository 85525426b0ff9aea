// Package search finds, for one clip, the CRF whose encode scores exactly
// the target.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/logger"
	"github.com/gwlsn/crfhunt/internal/sample"
)

// SidecarExt is the index file the scorer's video source leaves next to
// the encoded clip.
const SidecarExt = ".lwi"

// Encoder encodes a clip at a CRF.
type Encoder interface {
	EncodeClip(ctx context.Context, clipPath, outputPath string, crf int) error
}

// Scorer scores an encoded clip against its original. The report is saved
// to reportPath.
type Scorer interface {
	Score(ctx context.Context, referencePath, distortedPath, reportPath string) (int, error)
}

// Options configures an Engine.
type Options struct {
	MaxIterations int    // Encode+score rounds before giving up
	MinQuality    int    // Lowest CRF the search may try
	MaxQuality    int    // Highest CRF; when not above MinQuality the range is unbounded
	EncodedDir    string // Where encoded clips are written
	ReportDir     string // Where scorer reports are written
}

// Request is one clip search.
type Request struct {
	Clip   sample.Clip
	Start  int // Starting CRF
	Target int // Score to match exactly
	Worker int // Pool slot running the search, used to name intermediate files
}

// Result is a finished clip search.
type Result struct {
	Clip       string
	Quality    int // CRF that scored exactly Target
	Score      int
	Iterations int
}

// Iteration describes one encode+score round, reported to the observer.
type Iteration struct {
	Clip      string
	Worker    int
	N         int // 1-based
	Quality   int // CRF tested
	Score     int
	Step      int // Signed CRF change applied after this round, 0 when found
	Bracketed bool
	Found     bool
}

// Observer receives every iteration. It is called from the searching
// goroutine and must be safe for concurrent use when shared between engines.
type Observer func(Iteration)

// Engine runs clip searches. An Engine holds no per-search state and may
// be shared by concurrent searches.
type Engine struct {
	encoder Encoder
	scorer  Scorer
	opts    Options
	observe Observer
}

// NewEngine creates a search engine
func NewEngine(encoder Encoder, scorer Scorer, opts Options) *Engine {
	return &Engine{encoder: encoder, scorer: scorer, opts: opts}
}

// WithObserver sets a callback invoked after every iteration.
func (e *Engine) WithObserver(fn Observer) *Engine {
	e.observe = fn
	return e
}

// ArtifactPaths returns the encoded clip and report paths for a clip on a
// worker. Names combine the clip ID and worker tag so concurrent searches
// never share a file.
func (e *Engine) ArtifactPaths(clipID string, worker int) (encoded, report string) {
	stem := strings.TrimSuffix(clipID, filepath.Ext(clipID))
	tag := fmt.Sprintf("%s_w%d", stem, worker)
	return filepath.Join(e.opts.EncodedDir, tag+".mkv"), filepath.Join(e.opts.ReportDir, tag+".txt")
}

func (e *Engine) inRange(q int) bool {
	if e.opts.MaxQuality <= e.opts.MinQuality {
		return true
	}
	return q >= e.opts.MinQuality && q <= e.opts.MaxQuality
}

// Search encodes and scores req.Clip, adjusting the CRF until the score
// equals req.Target exactly. It fails with a Timeout error after
// MaxIterations rounds, and on the first encoder, scorer or cleanup error.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	clip := req.Clip
	encodedPath, reportPath := e.ArtifactPaths(clip.ID, req.Worker)
	state := State{Quality: req.Start}
	start := time.Now()

	for n := 1; n <= e.opts.MaxIterations; n++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("search %s: %w", clip.ID, err)
		}
		if !e.inRange(state.Quality) {
			return nil, errs.Newf(errs.KindValidation, "search", clip.ID,
				"crf %d outside %d-%d", state.Quality, e.opts.MinQuality, e.opts.MaxQuality)
		}

		iterStart := time.Now()
		score, err := e.measure(ctx, clip, state.Quality, encodedPath, reportPath)
		if err != nil {
			return nil, err
		}

		it := Iteration{
			Clip:    clip.ID,
			Worker:  req.Worker,
			N:       n,
			Quality: state.Quality,
			Score:   score,
		}

		if score == req.Target {
			it.Found = true
			it.Bracketed = state.Bracketed()
			e.notify(it, time.Since(iterStart))

			logger.Info("Found crf",
				"clip", clip.ID,
				"crf", state.Quality,
				"iterations", n,
				"duration", time.Since(start).String())
			return &Result{
				Clip:       clip.ID,
				Quality:    state.Quality,
				Score:      score,
				Iterations: n,
			}, nil
		}

		next, step := state.Advance(score, req.Target)
		it.Step = step
		it.Bracketed = next.Bracketed()
		e.notify(it, time.Since(iterStart))
		state = next
	}

	return nil, errs.Newf(errs.KindTimeout, "search", clip.ID,
		"no crf scored exactly %d within %d iterations (next crf %d)", req.Target, e.opts.MaxIterations, state.Quality)
}

func (e *Engine) notify(it Iteration, took time.Duration) {
	logger.Info("Search iteration",
		"clip", it.Clip,
		"worker", it.Worker,
		"iteration", it.N,
		"crf", it.Quality,
		"score", it.Score,
		"step", it.Step,
		"bracketed", it.Bracketed,
		"time", took.String())
	if e.observe != nil {
		e.observe(it)
	}
}

// measure encodes the clip at crf and scores it. The encoded clip and its
// sidecar are removed before returning, whatever the outcome.
func (e *Engine) measure(ctx context.Context, clip sample.Clip, crf int, encodedPath, reportPath string) (score int, err error) {
	defer func() {
		if cerr := removeArtifacts(encodedPath); cerr != nil && err == nil {
			err = errs.New(errs.KindIO, "cleanup", clip.ID, cerr)
		}
	}()

	if err := e.encoder.EncodeClip(ctx, clip.Path, encodedPath, crf); err != nil {
		return 0, errs.WithClip(err, clip.ID)
	}

	score, err = e.scorer.Score(ctx, clip.Path, encodedPath, reportPath)
	if err != nil {
		return 0, errs.WithClip(err, clip.ID)
	}
	return score, nil
}

// removeArtifacts deletes an encoded clip and its sidecar index.
// Files that were never created are not an error.
func removeArtifacts(encodedPath string) error {
	for _, p := range []string{encodedPath, encodedPath + SidecarExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting %s: %w", p, err)
		}
	}
	return nil
}
