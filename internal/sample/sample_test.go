package sample

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/runner"
)

type fixedDuration time.Duration

func (d fixedDuration) Duration(ctx context.Context, path string) (time.Duration, error) {
	return time.Duration(d), nil
}

// recordingRunner pretends to be ffmpeg: it creates the output file named
// by the last argument and records every command.
type recordingRunner struct {
	mu      sync.Mutex
	cmds    []runner.Command
	failOn  int // 1-based call number to fail, 0 = never
	touched []string
}

func (r *recordingRunner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	if r.failOn == len(r.cmds) {
		return &runner.Result{ExitCode: 1}, errors.New("ffmpeg exited with status 1")
	}
	out := cmd.Args[len(cmd.Args)-1]
	if err := os.WriteFile(out, []byte("clip"), 0644); err != nil {
		return nil, err
	}
	r.touched = append(r.touched, out)
	return &runner.Result{}, nil
}

func TestPositions(t *testing.T) {
	tests := []struct {
		name                        string
		video, clipLength, interval int
		want                        []int
	}{
		{"defaults over 25 minutes", 1500, 20, 360, []int{0, 380, 760, 1140}},
		{"exact multiple excluded", 760, 20, 360, []int{0, 380}},
		{"no interval", 60, 20, 0, []int{0, 20, 40}},
		{"single clip", 100, 20, 360, []int{0}},
		{"empty video", 0, 20, 360, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Positions(tt.video, tt.clipLength, tt.interval))
		})
	}
}

func TestClipName(t *testing.T) {
	assert.Equal(t, "0-20-0.mkv", ClipName(0, 20, 0))
	assert.Equal(t, "380-400-1.mkv", ClipName(380, 20, 1))
}

func TestSampleShortVideoReturnsSentinel(t *testing.T) {
	run := &recordingRunner{}
	s := NewSampler("ffmpeg", fixedDuration(15*time.Second), run)

	clips, err := s.Sample(context.Background(), "/media/short.mkv", t.TempDir(), 20, 360)
	require.NoError(t, err)
	require.Len(t, clips, 1)

	assert.True(t, clips[0].Whole)
	assert.Equal(t, "/media/short.mkv", clips[0].Path)
	assert.True(t, IsWhole(clips, "/media/short.mkv"))
	assert.Empty(t, run.cmds, "no extraction should run for a short video")
}

func TestSampleExtractsClipsInOrder(t *testing.T) {
	run := &recordingRunner{}
	dir := filepath.Join(t.TempDir(), "clips")
	s := NewSampler("/usr/bin/ffmpeg", fixedDuration(800500*time.Millisecond), run)

	clips, err := s.Sample(context.Background(), "/media/movie.mkv", dir, 20, 360)
	require.NoError(t, err)
	require.Len(t, clips, 3)

	wantIDs := []string{"0-20-0.mkv", "380-400-1.mkv", "760-780-2.mkv"}
	for i, c := range clips {
		assert.Equal(t, wantIDs[i], c.ID)
		assert.Equal(t, filepath.Join(dir, wantIDs[i]), c.Path)
		assert.Equal(t, 20*time.Second, c.Duration)
		assert.False(t, c.Whole)
		assert.FileExists(t, c.Path)
	}
	assert.Equal(t, 380*time.Second, clips[1].Start)
	assert.False(t, IsWhole(clips, "/media/movie.mkv"))

	require.Len(t, run.cmds, 3)
	assert.Equal(t, "/usr/bin/ffmpeg", run.cmds[1].Path)
	assert.Equal(t, []string{
		"-ss", "380", "-i", "/media/movie.mkv", "-t", "20",
		"-c:v", "copy", "-an", "-sn", "-y", filepath.Join(dir, "380-400-1.mkv"),
	}, run.cmds[1].Args)
}

func TestSampleVideoEqualToClipLengthIsSplit(t *testing.T) {
	run := &recordingRunner{}
	s := NewSampler("ffmpeg", fixedDuration(20*time.Second), run)

	clips, err := s.Sample(context.Background(), "/media/x.mkv", t.TempDir(), 20, 360)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.False(t, clips[0].Whole)
	assert.Equal(t, "0-20-0.mkv", clips[0].ID)
}

func TestSampleExtractionFailureCleansUp(t *testing.T) {
	run := &recordingRunner{failOn: 2}
	s := NewSampler("ffmpeg", fixedDuration(1000*time.Second), run)

	_, err := s.Sample(context.Background(), "/media/x.mkv", t.TempDir(), 20, 360)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternalTool)

	stage, clip := errs.StageOf(err)
	assert.Equal(t, "sample", stage)
	assert.Equal(t, "380-400-1.mkv", clip)

	for _, p := range run.touched {
		assert.NoFileExists(t, p)
	}
}

func TestSampleRejectsBadLengths(t *testing.T) {
	s := NewSampler("ffmpeg", fixedDuration(time.Hour), &recordingRunner{})

	_, err := s.Sample(context.Background(), "x.mkv", t.TempDir(), 0, 360)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = s.Sample(context.Background(), "x.mkv", t.TempDir(), 20, -1)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCleanupKeepsSourceVideo(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.mkv")
	clip := filepath.Join(dir, "0-20-0.mkv")
	require.NoError(t, os.WriteFile(src, nil, 0644))
	require.NoError(t, os.WriteFile(clip, nil, 0644))

	Cleanup([]Clip{{Path: src, Whole: true}})
	assert.FileExists(t, src)

	Cleanup([]Clip{{Path: clip}})
	assert.NoFileExists(t, clip)
}
