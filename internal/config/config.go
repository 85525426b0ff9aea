package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gwlsn/crfhunt/internal/errs"
)

// Failure policies for a batch of clip searches.
const (
	FailureAbort    = "abort"
	FailureContinue = "continue"
)

// Template placeholders substituted into EncodingSettings.
const (
	TokenInput     = "INPUT"
	TokenOutput    = "OUTPUT"
	TokenSpeed     = "SPEED"
	TokenCRF       = "CRF"
	TokenWorkerNum = "WORKER_NUM"
)

// Config is the settings file. JSON is a subset of YAML, so a paths.json
// with the same keys loads as well.
type Config struct {
	// Av1anPath is the encoder used for clip and final encodes (default: "av1an")
	Av1anPath string `yaml:"av1an"`

	// Ssim2Path is the ssimulacra2 video scorer (default: "ssimulacra2_rs")
	Ssim2Path string `yaml:"ssim2"`

	// ArchPath is the launcher used to reach the scorer when it lives inside
	// an Arch WSL distribution; only used with --inside-arch-wsl (default: "arch")
	ArchPath string `yaml:"arch"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg"`

	// FFprobePath is the path to ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe"`

	// EncodingSettings is the raw av1an argument template. INPUT and OUTPUT
	// are replaced with quoted paths; SPEED, CRF and WORKER_NUM verbatim.
	EncodingSettings string `yaml:"encoding_settings"`

	// TempPath is where the per-run work directory is created
	// If empty, the system temp directory is used
	TempPath string `yaml:"temp_path"`

	// KeepTemp leaves the work directory in place after the run
	KeepTemp bool `yaml:"keep_temp"`

	// LogLevel is one of debug, info, warn, error (default info)
	LogLevel string `yaml:"log_level"`

	// TargetScore is the exact score each clip search tries to hit (default 90)
	TargetScore int `yaml:"target_score"`

	// MaxIterations caps the encode+score rounds per clip (default 40)
	MaxIterations int `yaml:"max_iterations"`

	// MinQuality and MaxQuality bound the CRF the search may try (default 0-63)
	MinQuality int `yaml:"min_quality"`
	MaxQuality int `yaml:"max_quality"`

	// ScoreLabel selects the report line the score is read from, matched
	// against the text before the colon (e.g. "95th Percentile").
	// Empty means the last non-empty line of the report.
	ScoreLabel string `yaml:"score_label"`

	// FailurePolicy is "abort" (default) or "continue"
	FailurePolicy string `yaml:"failure_policy"`

	// ReportPath enables the per-run SQLite report when set
	ReportPath string `yaml:"report_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Av1anPath:     "av1an",
		Ssim2Path:     "ssimulacra2_rs",
		ArchPath:      "arch",
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		TempPath:      "", // system temp dir
		LogLevel:      "info",
		TargetScore:   90,
		MaxIterations: 40,
		MinQuality:    0,
		MaxQuality:    63,
		FailurePolicy: FailureAbort,
	}
}

// Load reads config from a YAML (or JSON) file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, errs.New(errs.KindConfiguration, "config", "", fmt.Errorf("read %s: %w", path, err))
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.New(errs.KindConfiguration, "config", "", fmt.Errorf("%s formatted incorrectly: %w", path, err))
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills empty values left by a partial settings file
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Av1anPath == "" {
		c.Av1anPath = def.Av1anPath
	}
	if c.Ssim2Path == "" {
		c.Ssim2Path = def.Ssim2Path
	}
	if c.ArchPath == "" {
		c.ArchPath = def.ArchPath
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = def.FFmpegPath
	}
	if c.FFprobePath == "" {
		c.FFprobePath = def.FFprobePath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.TargetScore == 0 {
		c.TargetScore = def.TargetScore
	}
	if c.MaxIterations < 1 {
		c.MaxIterations = def.MaxIterations
	}
	if c.MaxQuality == 0 {
		c.MaxQuality = def.MaxQuality
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = def.FailurePolicy
	}
}

// Validate reports settings the search cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.EncodingSettings) == "" {
		return errs.Newf(errs.KindConfiguration, "config", "", "encoding_settings is empty")
	}
	for _, tok := range []string{TokenInput, TokenOutput, TokenCRF} {
		if !strings.Contains(c.EncodingSettings, tok) {
			return errs.Newf(errs.KindConfiguration, "config", "", "encoding_settings is missing the %s placeholder", tok)
		}
	}
	if c.MinQuality < 0 || c.MinQuality > c.MaxQuality {
		return errs.Newf(errs.KindConfiguration, "config", "", "invalid quality range %d-%d", c.MinQuality, c.MaxQuality)
	}
	if c.MaxIterations < 1 {
		return errs.Newf(errs.KindConfiguration, "config", "", "max_iterations must be positive, got %d", c.MaxIterations)
	}
	switch c.FailurePolicy {
	case FailureAbort, FailureContinue:
	default:
		return errs.Newf(errs.KindConfiguration, "config", "", "unknown failure_policy %q", c.FailurePolicy)
	}
	return nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetTempDir returns the directory the run's work directory is created in
func (c *Config) GetTempDir() string {
	if c.TempPath != "" {
		return c.TempPath
	}
	return os.TempDir()
}

// Tools returns the executables a run needs, keyed by config name.
// The arch launcher is only included when useArch is set.
func (c *Config) Tools(useArch bool) map[string]string {
	tools := map[string]string{
		"av1an":   c.Av1anPath,
		"ssim2":   c.Ssim2Path,
		"ffmpeg":  c.FFmpegPath,
		"ffprobe": c.FFprobePath,
	}
	if useArch {
		tools["arch"] = c.ArchPath
	}
	return tools
}
