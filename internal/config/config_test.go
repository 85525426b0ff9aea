package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gwlsn/crfhunt/internal/errs"
)

const validTemplate = `-i INPUT -o OUTPUT --encoder svt-av1 --workers WORKER_NUM --video-params "--preset SPEED --crf CRF"`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TargetScore != 90 {
		t.Errorf("TargetScore = %d, want 90", cfg.TargetScore)
	}
	if cfg.MaxIterations != 40 {
		t.Errorf("MaxIterations = %d, want 40", cfg.MaxIterations)
	}
	if cfg.FailurePolicy != FailureAbort {
		t.Errorf("FailurePolicy = %q, want %q", cfg.FailurePolicy, FailureAbort)
	}
}

func TestLoadPathsJSON(t *testing.T) {
	path := writeFile(t, "paths.json", `{
  "av1an": "/usr/bin/av1an",
  "ssim2": "/usr/bin/ssimulacra2_rs",
  "arch": "arch.exe",
  "ffmpeg": "/usr/bin/ffmpeg",
  "ffprobe": "/usr/bin/ffprobe",
  "encoding_settings": "-i INPUT -o OUTPUT --crf CRF"
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"av1an", cfg.Av1anPath, "/usr/bin/av1an"},
		{"ssim2", cfg.Ssim2Path, "/usr/bin/ssimulacra2_rs"},
		{"arch", cfg.ArchPath, "arch.exe"},
		{"ffmpeg", cfg.FFmpegPath, "/usr/bin/ffmpeg"},
		{"ffprobe", cfg.FFprobePath, "/usr/bin/ffprobe"},
		{"encoding_settings", cfg.EncodingSettings, "-i INPUT -o OUTPUT --crf CRF"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadYAMLAppliesDefaultsForEmptyValues(t *testing.T) {
	path := writeFile(t, "crfhunt.yaml", "encoding_settings: \"-i INPUT -o OUTPUT --crf CRF\"\nmax_iterations: 0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Av1anPath != "av1an" {
		t.Errorf("Av1anPath = %q, want av1an", cfg.Av1anPath)
	}
	if cfg.MaxIterations != 40 {
		t.Errorf("MaxIterations = %d, want 40", cfg.MaxIterations)
	}
	if cfg.MaxQuality != 63 {
		t.Errorf("MaxQuality = %d, want 63", cfg.MaxQuality)
	}
}

func TestLoadMalformedIsConfigurationError(t *testing.T) {
	path := writeFile(t, "bad.yaml", "av1an: [unclosed\n")

	_, err := Load(path)
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Errorf("Load() error = %v, want ErrConfiguration", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty template", func(c *Config) { c.EncodingSettings = "  " }, true},
		{"missing INPUT", func(c *Config) { c.EncodingSettings = "-o OUTPUT --crf CRF" }, true},
		{"missing OUTPUT", func(c *Config) { c.EncodingSettings = "-i INPUT --crf CRF" }, true},
		{"missing CRF", func(c *Config) { c.EncodingSettings = "-i INPUT -o OUTPUT" }, true},
		{"inverted range", func(c *Config) { c.MinQuality, c.MaxQuality = 50, 10 }, true},
		{"negative min", func(c *Config) { c.MinQuality = -1 }, true},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, true},
		{"continue policy", func(c *Config) { c.FailurePolicy = FailureContinue }, false},
		{"unknown policy", func(c *Config) { c.FailurePolicy = "retry" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.EncodingSettings = validTemplate
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "crfhunt.yaml")
	cfg := DefaultConfig()
	cfg.EncodingSettings = validTemplate
	cfg.ScoreLabel = "95th Percentile"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.EncodingSettings != validTemplate {
		t.Errorf("EncodingSettings = %q, want %q", loaded.EncodingSettings, validTemplate)
	}
	if loaded.ScoreLabel != "95th Percentile" {
		t.Errorf("ScoreLabel = %q, want %q", loaded.ScoreLabel, "95th Percentile")
	}
}

func TestTools(t *testing.T) {
	cfg := DefaultConfig()

	if _, ok := cfg.Tools(false)["arch"]; ok {
		t.Error("Tools(false) should not include arch")
	}
	tools := cfg.Tools(true)
	if tools["arch"] != "arch" {
		t.Errorf("Tools(true)[arch] = %q, want arch", tools["arch"])
	}
	if len(tools) != 5 {
		t.Errorf("len(Tools(true)) = %d, want 5", len(tools))
	}
}

func TestGetTempDir(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GetTempDir() != os.TempDir() {
		t.Errorf("GetTempDir() = %q, want %q", cfg.GetTempDir(), os.TempDir())
	}
	cfg.TempPath = "/scratch"
	if cfg.GetTempDir() != "/scratch" {
		t.Errorf("GetTempDir() = %q, want /scratch", cfg.GetTempDir())
	}
}
