// Package pipeline runs a complete CRF hunt: sample clips from the source,
// search each clip for the CRF that hits the target score, aggregate the
// per-clip values and encode the full video with the result.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/crfhunt/internal/aggregate"
	"github.com/gwlsn/crfhunt/internal/batch"
	"github.com/gwlsn/crfhunt/internal/config"
	"github.com/gwlsn/crfhunt/internal/encode"
	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/logger"
	"github.com/gwlsn/crfhunt/internal/probe"
	"github.com/gwlsn/crfhunt/internal/report"
	"github.com/gwlsn/crfhunt/internal/runner"
	"github.com/gwlsn/crfhunt/internal/sample"
	"github.com/gwlsn/crfhunt/internal/score"
	"github.com/gwlsn/crfhunt/internal/search"
)

// Work directory subdirectories.
const (
	ClipsDir   = "clips"
	EncodedDir = "encoded"
	ReportsDir = "reports"
)

// Options are the per-invocation settings, usually from command-line flags.
type Options struct {
	Input        string
	Output       string
	Speed        string // Substituted for SPEED in the encoder template
	Workers      int    // Encoder parallelism, substituted for WORKER_NUM
	StartCRF     int
	ClipLength   int // Seconds
	ClipInterval int // Seconds between the end of one clip and the start of the next
	Policy       aggregate.Policy
	UseArch      bool // Run the scorer through "<arch> runp"
	RequireClips bool // Fail instead of searching the whole video when it is too short to split
	SearchOnly   bool // Skip the final encode
	Threads      int  // Hardware threads to share between searches; 0 means runtime.NumCPU()
}

// Summary is the outcome of a run.
type Summary struct {
	RunID      string
	WorkDir    string
	Whole      bool // The video was searched unsplit
	Clips      []sample.Clip
	PoolSize   int
	Results    []batch.ClipResult
	Aggregate  *aggregate.Summary
	SearchTime time.Duration
	Encoded    bool
	ReportPath string
}

// Pipeline wires the stages together around a shared process runner.
type Pipeline struct {
	cfg      *config.Config
	run      runner.Runner
	lookPath func(string) (string, error)
}

// New creates a Pipeline
func New(cfg *config.Config, run runner.Runner) *Pipeline {
	return &Pipeline{cfg: cfg, run: run, lookPath: exec.LookPath}
}

// WithLookPath replaces the executable lookup used by Preflight.
func (p *Pipeline) WithLookPath(fn func(string) (string, error)) *Pipeline {
	p.lookPath = fn
	return p
}

// Preflight checks that every configured tool can be found.
func (p *Pipeline) Preflight(useArch bool) error {
	tools := p.cfg.Tools(useArch)
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := tools[name]
		if _, err := p.lookPath(path); err != nil {
			return errs.New(errs.KindConfiguration, "preflight", "", fmt.Errorf("%s executable %q not found: %w", name, path, err))
		}
	}
	return nil
}

func (p *Pipeline) checkOptions(opts Options) error {
	if opts.Input == "" {
		return errs.Newf(errs.KindValidation, "input", "", "no input video given")
	}
	if _, err := os.Stat(opts.Input); err != nil {
		return errs.New(errs.KindIO, "input", "", err)
	}
	if opts.Output == "" && !opts.SearchOnly {
		return errs.Newf(errs.KindValidation, "input", "", "no output path given")
	}
	if opts.Workers < 1 {
		return errs.Newf(errs.KindValidation, "input", "", "workers must be positive, got %d", opts.Workers)
	}
	return nil
}

// Run performs the whole hunt. The work directory is removed on return
// unless the configuration keeps it.
func (p *Pipeline) Run(ctx context.Context, opts Options) (summary *Summary, err error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkOptions(opts); err != nil {
		return nil, err
	}
	if err := p.Preflight(opts.UseArch); err != nil {
		return nil, err
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	summary = &Summary{
		RunID:    uuid.NewString(),
		PoolSize: batch.PoolSize(threads, opts.Workers),
	}
	summary.WorkDir = filepath.Join(p.cfg.GetTempDir(), "crfhunt-"+summary.RunID)

	for _, sub := range []string{ClipsDir, EncodedDir, ReportsDir} {
		if err := os.MkdirAll(filepath.Join(summary.WorkDir, sub), 0755); err != nil {
			return nil, errs.New(errs.KindIO, "setup", "", fmt.Errorf("creating work dir: %w", err))
		}
	}
	if p.cfg.KeepTemp {
		logger.Info("Keeping work directory", "dir", summary.WorkDir)
	} else {
		defer os.RemoveAll(summary.WorkDir)
	}

	var rep *report.SQLiteReport
	if p.cfg.ReportPath != "" {
		rep, err = p.openReport(summary, opts)
		if err != nil {
			return nil, err
		}
		defer rep.Close()
		summary.ReportPath = rep.Path()
		defer func() {
			selected := 0
			if summary != nil && summary.Aggregate != nil {
				selected = summary.Aggregate.Selected
			}
			if ferr := rep.FinishRun(selected, err); ferr != nil {
				logger.Warn("Failed to finish report", "error", ferr)
			}
		}()
	}

	prober := probe.NewProber(p.cfg.FFprobePath, p.run)
	sampler := sample.NewSampler(p.cfg.FFmpegPath, prober, p.run)

	sampleStart := time.Now()
	clips, err := sampler.Sample(ctx, opts.Input, filepath.Join(summary.WorkDir, ClipsDir), opts.ClipLength, opts.ClipInterval)
	if err != nil {
		return nil, err
	}
	logger.Info("Sampling complete", "clips", len(clips), "duration", time.Since(sampleStart).String())
	defer sample.Cleanup(clips)

	summary.Clips = clips
	summary.Whole = sample.IsWhole(clips, opts.Input)
	if summary.Whole && opts.RequireClips {
		return nil, errs.Newf(errs.KindValidation, "sample", "",
			"clip length %ds is longer than the whole video", opts.ClipLength)
	}
	if rep != nil {
		if err := rep.SetClipCount(len(clips)); err != nil {
			logger.Warn("Failed to record clip count", "error", err)
		}
	}

	encoder := encode.NewEncoder(p.cfg.Av1anPath, p.cfg.EncodingSettings, opts.Speed, opts.Workers, p.run)
	var prefix []string
	if opts.UseArch {
		prefix = []string{p.cfg.ArchPath, "runp"}
	}
	scorer := score.NewScorer(p.cfg.Ssim2Path, prefix, opts.Workers, p.cfg.ScoreLabel, p.run)

	engine := search.NewEngine(encoder, scorer, search.Options{
		MaxIterations: p.cfg.MaxIterations,
		MinQuality:    p.cfg.MinQuality,
		MaxQuality:    p.cfg.MaxQuality,
		EncodedDir:    filepath.Join(summary.WorkDir, EncodedDir),
		ReportDir:     filepath.Join(summary.WorkDir, ReportsDir),
	})
	if rep != nil {
		engine.WithObserver(rep.Observer())
	}

	failure := batch.Abort
	if p.cfg.FailurePolicy == config.FailureContinue {
		failure = batch.Continue
	}
	orch := batch.New(engine, batch.Options{
		Start:    opts.StartCRF,
		Target:   p.cfg.TargetScore,
		PoolSize: summary.PoolSize,
		Failure:  failure,
	})

	searchStart := time.Now()
	var results []batch.ClipResult
	if summary.Whole {
		results, err = orch.RunOne(ctx, clips[0])
	} else {
		results, err = orch.Run(ctx, clips)
	}
	summary.SearchTime = time.Since(searchStart)
	if err != nil {
		return nil, err
	}
	summary.Results = results

	if rep != nil {
		if err := rep.RecordResults(results); err != nil {
			logger.Warn("Failed to record results", "error", err)
		}
	}

	for _, f := range batch.Failures(results) {
		logger.Warn("Clip excluded from aggregate", "clip", f.Clip.ID, "error", f.Err)
	}

	agg, err := aggregate.Summarize(batch.Qualities(results), opts.Policy)
	if err != nil {
		return nil, err
	}
	summary.Aggregate = agg

	logger.Info("Search complete",
		"crf", agg.Selected,
		"policy", agg.Policy.String(),
		"minimum", agg.Minimum,
		"average", agg.Average,
		"search_time", summary.SearchTime.String())

	if opts.SearchOnly {
		return summary, nil
	}

	logger.Info("Starting final encode", "input", opts.Input, "output", opts.Output, "crf", agg.Selected)
	if err := encoder.EncodeFinal(ctx, opts.Input, opts.Output, agg.Selected); err != nil {
		return nil, err
	}
	summary.Encoded = true
	return summary, nil
}

func (p *Pipeline) openReport(summary *Summary, opts Options) (*report.SQLiteReport, error) {
	rep, err := report.Create(p.cfg.ReportPath)
	if err != nil {
		return nil, err
	}
	if _, err := rep.StartRun(report.Run{
		ID:         summary.RunID,
		InputPath:  opts.Input,
		OutputPath: opts.Output,
		Target:     p.cfg.TargetScore,
		StartCRF:   opts.StartCRF,
		Policy:     opts.Policy.String(),
		PoolSize:   summary.PoolSize,
	}); err != nil {
		rep.Close()
		return nil, err
	}
	return rep, nil
}
