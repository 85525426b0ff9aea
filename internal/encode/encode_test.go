package encode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/runner"
)

const template = `-i INPUT -o OUTPUT --encoder svt-av1 --workers WORKER_NUM --video-params "--preset SPEED --crf CRF"`

func TestFormat(t *testing.T) {
	got := Format(template, "clips/0-20-0.mkv", "encoded/0-20-0_w0.mkv", "6", 45, 4)
	want := `-i "clips/0-20-0.mkv" -o "encoded/0-20-0_w0.mkv" --encoder svt-av1 --workers 4 --video-params "--preset 6 --crf 45"`
	assert.Equal(t, want, got)
}

func TestFormatDoesNotResubstituteInsidePaths(t *testing.T) {
	got := Format("-i INPUT --crf CRF", "/media/CRF_OUTPUT.mkv", "out.mkv", "6", 30, 1)
	assert.Equal(t, `-i "/media/CRF_OUTPUT.mkv" --crf 30`, got)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []string
		wantErr bool
	}{
		{
			name: "quoted groups",
			line: `-i "my clip.mkv" --video-params "--preset 6 --crf 45"`,
			want: []string{"-i", "my clip.mkv", "--video-params", "--preset 6 --crf 45"},
		},
		{
			name: "escaped quote and backslash",
			line: `-i "C:\\Videos\\a \"b\".mkv"`,
			want: []string{"-i", `C:\Videos\a "b".mkv`},
		},
		{
			name:    "unclosed quote",
			line:    `-i "broken`,
			wantErr: true,
		},
		{
			name:    "redirection rejected",
			line:    `-i a.mkv > log.txt`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitArgs(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeClipRunsAv1an(t *testing.T) {
	var got runner.Command
	fake := runner.Func(func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
		got = cmd
		return &runner.Result{}, nil
	})

	enc := NewEncoder("/opt/av1an", template, "4", 2, fake)
	require.NoError(t, enc.EncodeClip(context.Background(), "clips/a b.mkv", "encoded/a_w1.mkv", 37))

	assert.Equal(t, "/opt/av1an", got.Path)
	assert.Equal(t, []string{
		"-i", "clips/a b.mkv",
		"-o", "encoded/a_w1.mkv",
		"--encoder", "svt-av1",
		"--workers", "2",
		"--video-params", "--preset 4 --crf 37",
	}, got.Args)
	assert.False(t, got.Inherit)
}

func TestEncodeFinalInheritsOutput(t *testing.T) {
	var got runner.Command
	fake := runner.Func(func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
		got = cmd
		return &runner.Result{}, nil
	})

	enc := NewEncoder("av1an", template, "6", 4, fake)
	require.NoError(t, enc.EncodeFinal(context.Background(), "/media/movie.mkv", "/out/movie.mkv", 30))
	assert.True(t, got.Inherit)
}

func TestEncodeFailureIsExternalToolError(t *testing.T) {
	fake := runner.Func(func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
		return &runner.Result{ExitCode: 1}, errors.New("av1an exited with status 1")
	})

	enc := NewEncoder("av1an", template, "6", 4, fake)
	err := enc.EncodeClip(context.Background(), "clips/0-20-0.mkv", "out.mkv", 45)

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternalTool)
	stage, clip := errs.StageOf(err)
	assert.Equal(t, "encode", stage)
	assert.Equal(t, "0-20-0.mkv", clip)
}

func TestEncodeBadTemplateIsConfigurationError(t *testing.T) {
	called := false
	fake := runner.Func(func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
		called = true
		return &runner.Result{}, nil
	})

	enc := NewEncoder("av1an", `-i INPUT -o OUTPUT --crf CRF "`, "6", 4, fake)
	err := enc.EncodeClip(context.Background(), "a.mkv", "b.mkv", 45)

	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.False(t, called)
}
