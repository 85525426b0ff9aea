// Package sample cuts short clips out of a source video so the quality
// search can run on cheap proxies instead of the whole file.
package sample

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/logger"
	"github.com/gwlsn/crfhunt/internal/runner"
)

// Clip is one excerpt of the source video. A clip with Whole set is the
// source itself: the video was shorter than the requested clip length.
type Clip struct {
	ID       string        // File name, unique within a run (e.g. "360-380-1.mkv")
	Path     string        // Path to the clip file
	Start    time.Duration // Position in source video
	Duration time.Duration // Nominal clip duration
	Whole    bool          // True if Path is the unsplit source video
}

// DurationProber reports the length of a video.
type DurationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Sampler extracts clips with ffmpeg stream copy.
type Sampler struct {
	ffmpegPath string
	prober     DurationProber
	run        runner.Runner
}

// NewSampler creates a new Sampler
func NewSampler(ffmpegPath string, prober DurationProber, run runner.Runner) *Sampler {
	return &Sampler{ffmpegPath: ffmpegPath, prober: prober, run: run}
}

// Positions returns the start second of every clip: one clip every
// clipLength+interval seconds starting at 0, while the start is inside the video.
func Positions(videoSeconds, clipLength, interval int) []int {
	var starts []int
	for pos := 0; pos < videoSeconds; pos += clipLength + interval {
		starts = append(starts, pos)
	}
	return starts
}

// ClipName returns the file name for the clip starting at start.
func ClipName(start, clipLength, index int) string {
	return fmt.Sprintf("%d-%d-%d.mkv", start, start+clipLength, index)
}

// Sample cuts clips of clipLength seconds every interval seconds from
// inputPath into clipDir. If the video is shorter than clipLength it
// returns a single Whole clip whose Path is inputPath: the caller should
// search the whole video instead of fanning out.
func (s *Sampler) Sample(ctx context.Context, inputPath, clipDir string, clipLength, interval int) ([]Clip, error) {
	if clipLength <= 0 {
		return nil, errs.Newf(errs.KindValidation, "sample", "", "clip length must be positive, got %d", clipLength)
	}
	if interval < 0 {
		return nil, errs.Newf(errs.KindValidation, "sample", "", "clip interval must not be negative, got %d", interval)
	}

	duration, err := s.prober.Duration(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	// Whole seconds, truncated
	videoSeconds := int(duration / time.Second)

	if videoSeconds < clipLength {
		logger.Info("Video shorter than clip length, searching whole video",
			"input", inputPath,
			"video_seconds", videoSeconds,
			"clip_length", clipLength)
		return []Clip{{
			ID:       filepath.Base(inputPath),
			Path:     inputPath,
			Duration: duration,
			Whole:    true,
		}}, nil
	}

	if err := os.MkdirAll(clipDir, 0755); err != nil {
		return nil, errs.New(errs.KindIO, "sample", "", fmt.Errorf("creating clip dir: %w", err))
	}

	starts := Positions(videoSeconds, clipLength, interval)
	clips := make([]Clip, 0, len(starts))

	for i, start := range starts {
		name := ClipName(start, clipLength, i)
		clipPath := filepath.Join(clipDir, name)

		// Stream copy extraction - fast, keyframe-aligned
		_, err := s.run.Run(ctx, runner.Command{
			Path: s.ffmpegPath,
			Args: []string{
				"-ss", strconv.Itoa(start),
				"-i", inputPath,
				"-t", strconv.Itoa(clipLength),
				"-c:v", "copy",
				"-an", "-sn",
				"-y",
				clipPath,
			},
		})
		if err != nil {
			logger.Error("FFmpeg clip extraction failed", "clip", name, "error", err)
			Cleanup(clips)
			return nil, errs.New(errs.KindExternalTool, "sample", name, err)
		}

		clips = append(clips, Clip{
			ID:       name,
			Path:     clipPath,
			Start:    time.Duration(start) * time.Second,
			Duration: time.Duration(clipLength) * time.Second,
		})
	}

	logger.Info("Created all the clips", "count", len(clips), "dir", clipDir)
	return clips, nil
}

// IsWhole reports whether clips is the no-split result for inputPath.
func IsWhole(clips []Clip, inputPath string) bool {
	return len(clips) == 1 && clips[0].Path == inputPath
}

// Cleanup removes extracted clip files. The source video is never removed.
func Cleanup(clips []Clip) {
	for _, c := range clips {
		if c.Whole {
			continue
		}
		os.Remove(c.Path)
	}
}
