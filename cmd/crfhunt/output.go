package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/gwlsn/crfhunt/internal/config"
	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/pipeline"
)

func printBanner(w io.Writer, cfg *config.Config, cfgPath string, opts pipeline.Options) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                          CRFHUNT                          ║")
	fmt.Fprintln(w, "║        Per-clip CRF search for exact ssimulacra2          ║")
	versionLine := fmt.Sprintf("v%s", Version)
	padding := 59 - len(versionLine)
	fmt.Fprintf(w, "║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Input:        %s\n", opts.Input)
	if opts.SearchOnly {
		fmt.Fprintf(w, "  Output:       (search only)\n")
	} else {
		fmt.Fprintf(w, "  Output:       %s\n", opts.Output)
	}
	fmt.Fprintf(w, "  Settings:     %s\n", cfgPath)
	fmt.Fprintf(w, "  Target:       %d\n", cfg.TargetScore)
	fmt.Fprintf(w, "  Start CRF:    %d\n", opts.StartCRF)
	fmt.Fprintf(w, "  Clips:        %ds every %ds\n", opts.ClipLength, opts.ClipLength+opts.ClipInterval)
	fmt.Fprintf(w, "  Policy:       %s\n", opts.Policy)
	fmt.Fprintf(w, "  Temp path:    %s\n", cfg.GetTempDir())
	fmt.Fprintf(w, "  av1an:        %s\n", cfg.Av1anPath)
	fmt.Fprintf(w, "  ssimulacra2:  %s\n", cfg.Ssim2Path)
	fmt.Fprintln(w)
}

// printSummary writes the per-clip CRFs and the aggregate chosen for the
// final encode.
func printSummary(w io.Writer, s *pipeline.Summary, target int) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan("Search results"))
	fmt.Fprintln(w, gray(strings.Repeat("─", 61)))

	for _, r := range s.Results {
		switch {
		case r.OK():
			fmt.Fprintf(w, "  %-24s crf %s  (%d iterations)\n", r.Clip.ID, green(r.Result.Quality), r.Result.Iterations)
		case r.Skipped:
			fmt.Fprintf(w, "  %-24s %s\n", r.Clip.ID, gray("skipped"))
		default:
			fmt.Fprintf(w, "  %-24s %s\n", r.Clip.ID, red(r.Err))
		}
	}

	agg := s.Aggregate
	fmt.Fprintln(w, gray(strings.Repeat("─", 61)))
	fmt.Fprintf(w, "  Crf values:   %v\n", agg.Values)
	fmt.Fprintf(w, "  Smallest:     %d\n", agg.Minimum)
	fmt.Fprintf(w, "  Average:      %d\n", agg.Average)
	fmt.Fprintf(w, "  Selected:     %s (%s, target %d)\n", green(agg.Selected), agg.Policy, target)
	fmt.Fprintf(w, "  Search time:  %s\n", s.SearchTime.Round(time.Millisecond))
	if s.Whole {
		fmt.Fprintf(w, "  %s\n", gray("video shorter than one clip, searched unsplit"))
	}
	if s.ReportPath != "" {
		fmt.Fprintf(w, "  Report:       %s\n", s.ReportPath)
	}
	if s.Encoded {
		fmt.Fprintf(w, "  %s\n", green("Final encode complete"))
	}
}

// printFailure writes a diagnostic naming the failed stage and clip.
func printFailure(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()

	stage, clip := errs.StageOf(err)
	switch {
	case stage != "" && clip != "":
		fmt.Fprintf(w, "%s %s failed on clip %s: %v\n", red("Error:"), stage, clip, err)
	case stage != "":
		fmt.Fprintf(w, "%s %s failed: %v\n", red("Error:"), stage, err)
	default:
		fmt.Fprintf(w, "%s %v\n", red("Error:"), err)
	}
}
