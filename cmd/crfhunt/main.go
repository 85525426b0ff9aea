package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gwlsn/crfhunt/internal/aggregate"
	"github.com/gwlsn/crfhunt/internal/config"
	"github.com/gwlsn/crfhunt/internal/logger"
	"github.com/gwlsn/crfhunt/internal/pipeline"
	"github.com/gwlsn/crfhunt/internal/runner"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

type flags struct {
	input         string
	output        string
	speed         string
	workers       int
	crf           int
	clipLength    int
	clipInterval  int
	crfOption     string
	insideArch    bool
	configPath    string
	logLevel      string
	target        int
	maxIterations int
	keepTemp      bool
	reportPath    string
	continueOnErr bool
	requireClips  bool
	searchOnly    bool
}

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	if err := newRootCmd().Execute(); err != nil {
		printFailure(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "crfhunt",
		Short: "Find the CRF that scores exactly 90 in ssimulacra2 and encode with it",
		Long: `crfhunt samples short clips from a video, searches each clip for the
av1an CRF whose encode scores exactly the target ssimulacra2 score, reduces
the per-clip values to one CRF and encodes the full video with it.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.input, "input", "i", "", "Path to the source video")
	fs.StringVarP(&f.output, "output", "o", "", "Path for the final encode")
	fs.StringVarP(&f.speed, "speed", "s", "", "Encoder speed, substituted for SPEED")
	fs.IntVarP(&f.workers, "workers", "w", 0, "Encoder workers, substituted for WORKER_NUM")
	fs.IntVarP(&f.crf, "crf", "c", 45, "Starting CRF for every clip")
	fs.IntVarP(&f.clipLength, "clip-length", "l", 20, "Clip length in seconds")
	fs.IntVarP(&f.clipInterval, "clip-interval", "n", 360, "Seconds between clips")
	fs.StringVarP(&f.crfOption, "crf-option", "u", "smallest", "How per-clip CRFs are combined: smallest or average")
	fs.BoolVarP(&f.insideArch, "inside-arch-wsl", "a", false, "Run the scorer through the arch launcher")
	fs.StringVar(&f.configPath, "config", "", "Path to settings file (default: $CONFIG_PATH or ./paths.json)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.IntVar(&f.target, "target", 0, "Score every clip must hit (default from settings, 90)")
	fs.IntVar(&f.maxIterations, "max-iterations", 0, "Encode+score rounds per clip before giving up")
	fs.BoolVar(&f.keepTemp, "keep-temp", false, "Keep the work directory")
	fs.StringVar(&f.reportPath, "report", "", "Write a SQLite report of the run to this path")
	fs.BoolVar(&f.continueOnErr, "continue-on-error", false, "Aggregate the clips that succeeded instead of stopping at the first failure")
	fs.BoolVar(&f.requireClips, "require-clips", false, "Fail when the video is shorter than one clip")
	fs.BoolVar(&f.searchOnly, "search-only", false, "Print the CRF without running the final encode")

	for _, name := range []string{"input", "speed", "workers"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func configPath(f flags) string {
	if f.configPath != "" {
		return f.configPath
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return "paths.json"
}

// applyOverrides layers environment and flag values over the settings file.
func applyOverrides(cfg *config.Config, f flags) {
	if envTemp := os.Getenv("TEMP_PATH"); envTemp != "" {
		cfg.TempPath = envTemp
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.target > 0 {
		cfg.TargetScore = f.target
	}
	if f.maxIterations > 0 {
		cfg.MaxIterations = f.maxIterations
	}
	if f.keepTemp {
		cfg.KeepTemp = true
	}
	if f.reportPath != "" {
		cfg.ReportPath = f.reportPath
	}
	if f.continueOnErr {
		cfg.FailurePolicy = config.FailureContinue
	}
}

func run(cmd *cobra.Command, f flags) error {
	cfgPath := configPath(f)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, f)

	logger.Init(cfg.LogLevel)

	policy, err := aggregate.ParsePolicy(f.crfOption)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Input:        f.input,
		Output:       f.output,
		Speed:        f.speed,
		Workers:      f.workers,
		StartCRF:     f.crf,
		ClipLength:   f.clipLength,
		ClipInterval: f.clipInterval,
		Policy:       policy,
		UseArch:      f.insideArch,
		RequireClips: f.requireClips,
		SearchOnly:   f.searchOnly,
	}

	out := cmd.OutOrStdout()
	printBanner(out, cfg, cfgPath, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("crfhunt started", "version", Version, "input", opts.Input, "target", cfg.TargetScore)

	summary, err := pipeline.New(cfg, runner.NewExecRunner()).Run(ctx, opts)
	if err != nil {
		return err
	}

	printSummary(out, summary, cfg.TargetScore)
	return nil
}
