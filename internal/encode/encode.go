// Package encode runs the encoder from a user-supplied argument template.
package encode

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/gwlsn/crfhunt/internal/config"
	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/logger"
	"github.com/gwlsn/crfhunt/internal/runner"
)

// quotePath wraps a path in double quotes, escaping characters the
// template parser treats specially.
func quotePath(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	p = strings.ReplaceAll(p, `"`, `\"`)
	return `"` + p + `"`
}

// Format substitutes the template placeholders in a single pass, so a
// placeholder name appearing inside a substituted path is left alone.
func Format(template, input, output, speed string, crf, workers int) string {
	r := strings.NewReplacer(
		config.TokenInput, quotePath(input),
		config.TokenSpeed, speed,
		config.TokenCRF, strconv.Itoa(crf),
		config.TokenWorkerNum, strconv.Itoa(workers),
		config.TokenOutput, quotePath(output),
	)
	return r.Replace(template)
}

// SplitArgs splits a formatted template into an argument list.
// Shell operators are rejected: the encoder is never run through a shell.
func SplitArgs(line string) ([]string, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(line)
	if err != nil {
		return nil, err
	}
	if p.Position != -1 {
		return nil, fmt.Errorf("unsupported shell operator at offset %d in %q", p.Position, line)
	}
	return args, nil
}

// Encoder runs av1an with the configured settings template.
type Encoder struct {
	av1anPath string
	template  string
	speed     string
	workers   int
	run       runner.Runner
}

// NewEncoder creates an Encoder. workers is passed to the template as
// WORKER_NUM and is the encoder's own parallelism, not ours.
func NewEncoder(av1anPath, template, speed string, workers int, run runner.Runner) *Encoder {
	return &Encoder{
		av1anPath: av1anPath,
		template:  template,
		speed:     speed,
		workers:   workers,
		run:       run,
	}
}

// Command builds the encoder invocation for one input/output/CRF triple.
func (e *Encoder) Command(inputPath, outputPath string, crf int) (runner.Command, error) {
	line := Format(e.template, inputPath, outputPath, e.speed, crf, e.workers)
	args, err := SplitArgs(line)
	if err != nil {
		return runner.Command{}, errs.New(errs.KindConfiguration, "encode", "", fmt.Errorf("encoding_settings: %w", err))
	}
	return runner.Command{Path: e.av1anPath, Args: args}, nil
}

// EncodeClip encodes a clip at crf into outputPath with output captured.
func (e *Encoder) EncodeClip(ctx context.Context, clipPath, outputPath string, crf int) error {
	return e.encode(ctx, "encode", clipPath, outputPath, crf, false)
}

// EncodeFinal encodes the full video at crf, streaming encoder progress to
// the terminal.
func (e *Encoder) EncodeFinal(ctx context.Context, inputPath, outputPath string, crf int) error {
	return e.encode(ctx, "final-encode", inputPath, outputPath, crf, true)
}

func (e *Encoder) encode(ctx context.Context, stage, inputPath, outputPath string, crf int, inherit bool) error {
	clip := filepath.Base(inputPath)

	cmd, err := e.Command(inputPath, outputPath, crf)
	if err != nil {
		return errs.WithClip(err, clip)
	}
	cmd.Inherit = inherit

	logger.Debug("Running encoder", "stage", stage, "clip", clip, "cmd", cmd.String())
	if _, err := e.run.Run(ctx, cmd); err != nil {
		return errs.New(errs.KindExternalTool, stage, clip, fmt.Errorf("cannot encode %s at crf %d: %w", inputPath, crf, err))
	}
	return nil
}
