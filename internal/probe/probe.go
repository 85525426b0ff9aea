package probe

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/runner"
)

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	Duration string `json:"duration"`
}

// Prober wraps ffprobe functionality
type Prober struct {
	ffprobePath string
	run         runner.Runner
}

// NewProber creates a new Prober with the given ffprobe path
func NewProber(ffprobePath string, run runner.Runner) *Prober {
	return &Prober{ffprobePath: ffprobePath, run: run}
}

// Duration returns the length of the first video stream. Containers that
// do not record a stream duration (Matroska) fall back to the format duration.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	res, err := p.run.Run(ctx, runner.Command{
		Path: p.ffprobePath,
		Args: []string{
			"-v", "error",
			"-select_streams", "v:0",
			"-show_entries", "stream=duration:format=duration",
			"-print_format", "json",
			path,
		},
	})
	if err != nil {
		return 0, errs.New(errs.KindExternalTool, "probe", path, err)
	}

	d, err := parseDuration(res.Stdout)
	if err != nil {
		return 0, errs.New(errs.KindParse, "probe", path, err)
	}
	return d, nil
}

// parseDuration extracts the duration from ffprobe JSON output
func parseDuration(output string) (time.Duration, error) {
	var probeOutput ffprobeOutput
	if err := json.Unmarshal([]byte(output), &probeOutput); err != nil {
		return 0, err
	}

	candidates := make([]string, 0, len(probeOutput.Streams)+1)
	for _, s := range probeOutput.Streams {
		candidates = append(candidates, s.Duration)
	}
	candidates = append(candidates, probeOutput.Format.Duration)

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || c == "N/A" {
			continue
		}
		sec, err := strconv.ParseFloat(c, 64)
		if err != nil || sec < 0 {
			continue
		}
		return time.Duration(sec * float64(time.Second)), nil
	}
	return 0, errNoDuration
}
