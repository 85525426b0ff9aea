// Package score runs the ssimulacra2 video scorer and reads its report.
package score

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/runner"
)

// Scorer compares an encoded clip against its original.
type Scorer struct {
	ssim2Path string
	prefix    []string // launcher, e.g. ["arch", "runp"]
	workers   int
	label     string
	run       runner.Runner
}

// NewScorer creates a Scorer. label selects the report line to read (see
// ParseReport); workers is passed to the scorer as its frame thread count.
func NewScorer(ssim2Path string, prefix []string, workers int, label string, run runner.Runner) *Scorer {
	return &Scorer{
		ssim2Path: ssim2Path,
		prefix:    prefix,
		workers:   workers,
		label:     label,
		run:       run,
	}
}

// Score runs the scorer, saves its report to reportPath and returns the
// extracted score.
func (s *Scorer) Score(ctx context.Context, referencePath, distortedPath, reportPath string) (int, error) {
	clip := filepath.Base(referencePath)

	report, err := os.Create(reportPath)
	if err != nil {
		return 0, errs.New(errs.KindIO, "score", clip, fmt.Errorf("creating report: %w", err))
	}

	cmd := runner.Wrap(s.prefix, s.ssim2Path,
		"video", "-f", strconv.Itoa(s.workers), referencePath, distortedPath)
	cmd.Stdout = report

	_, runErr := s.run.Run(ctx, cmd)
	if closeErr := report.Close(); closeErr != nil && runErr == nil {
		return 0, errs.New(errs.KindIO, "score", clip, fmt.Errorf("writing report: %w", closeErr))
	}
	if runErr != nil {
		return 0, errs.New(errs.KindExternalTool, "score", clip, fmt.Errorf("while scoring %s: %w", distortedPath, runErr))
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		return 0, errs.New(errs.KindIO, "score", clip, fmt.Errorf("reading report: %w", err))
	}

	value, err := ParseReport(string(data), s.label)
	if err != nil {
		return 0, errs.New(errs.KindParse, "score", clip, fmt.Errorf("%s: %w", reportPath, err))
	}
	return value, nil
}

// ParseReport extracts the integer part of a "Label: 12.345" line.
// With an empty label the last non-empty line is used; otherwise the line
// whose text before the colon matches label, ignoring case.
func ParseReport(report, label string) (int, error) {
	line, err := findLine(report, label)
	if err != nil {
		return 0, err
	}

	_, value, ok := strings.Cut(line, ":")
	if !ok {
		return 0, fmt.Errorf("no colon in report line %q", line)
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, fmt.Errorf("no value in report line %q", line)
	}

	// Integer part only: "89.97" is 89
	whole, _, _ := strings.Cut(fields[0], ".")
	n, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q in report line %q", fields[0], line)
	}
	return n, nil
}

func findLine(report, label string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(report, "\r\n", "\n"), "\n")

	if label == "" {
		for i := len(lines) - 1; i >= 0; i-- {
			if l := strings.TrimSpace(lines[i]); l != "" {
				return l, nil
			}
		}
		return "", fmt.Errorf("empty report")
	}

	for _, l := range lines {
		name, _, ok := strings.Cut(l, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), label) {
			return strings.TrimSpace(l), nil
		}
	}
	return "", fmt.Errorf("no %q line in report", label)
}
