// Package main provides the CLI entry point for dovetail.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/five82/dovetail"
	"github.com/five82/dovetail/internal/config"
	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/reporter"
)

const (
	appName    = "dovetail"
	appVersion = "0.1.0"
)

// app carries the state shared by every command once the root pre-run has loaded it.
type app struct {
	configPath string
	verbose    bool
	jsonOutput bool
	noLog      bool

	cfg    *config.Config
	runLog *logging.RunLog
	rep    reporter.Reporter
}

var cli = &app{}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Re-encode HDR phone video while keeping Dolby Vision",
	Long: `dovetail re-encodes HDR video from phone albums while keeping Dolby Vision
dynamic metadata. It drives ffmpeg, ffprobe, dovi_tool, mp4muxer and exiftool
as one operation, verifies outputs for device compatibility, and skips album
files it has already processed.

Examples:
  dovetail transcode IMG_0001.MOV -o out/      # One video with the default preset
  dovetail sync ~/Pictures/Trip -o ~/Exports   # Process new album files
  dovetail sync ~/Pictures/Trip --dry-run      # Show what a sync would do
  dovetail watch ~/Pictures/Trip               # Re-sync whenever the album changes
  dovetail status ~/Pictures/Trip              # Summarize the album
  dovetail verify out/IMG_0001.mp4             # Check device compatibility
  dovetail check                               # Show where each tool resolves`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return cli.setup()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return cli.runLog.Close()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cli.configPath, "config", "", "Config file (default "+config.DefaultPath()+")")
	flags.BoolVarP(&cli.verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&cli.jsonOutput, "json", false, "Emit progress as JSON lines on stdout")
	flags.BoolVar(&cli.noLog, "no-log", false, "Disable log file creation")

	rootCmd.AddCommand(
		transcodeCmd(),
		syncCmd(),
		watchCmd(),
		favoritesCmd(),
		statusCmd(),
		verifyCmd(),
		compareCmd(),
		profilesCmd(),
		checkCmd(),
		versionCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	cli.reportError(err)
	_ = cli.runLog.Close()
	if derrors.IsCancelled(err) {
		os.Exit(130)
	}
	os.Exit(1)
}

// setup loads configuration, opens the run log and picks the reporter.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	runLog, err := logging.Setup(cfg.Paths.LogDir, a.verbose, a.noLog)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.runLog = runLog

	level := logging.LevelInfo
	if a.verbose {
		level = logging.LevelDebug
	}
	logging.Init(level, runLog.Writer(), false)

	if cfg.Source != "" {
		runLog.Info("Config file: %s", cfg.Source)
	}
	runLog.Info("Work dir: %s", cfg.Paths.WorkDir)
	runLog.Info("Parallel jobs: %d (cpu slots %d, gpu slots %d)",
		cfg.Processing.ParallelJobs, cfg.CPUSlots(), cfg.Processing.GPUSlots)

	if a.jsonOutput {
		a.rep = reporter.NewJSONReporter()
	} else {
		a.rep = reporter.NewTerminalReporter(a.verbose)
	}
	return nil
}

func (a *app) engine() (*dovetail.Engine, error) {
	return dovetail.New(
		dovetail.WithConfig(a.cfg),
		dovetail.WithReporter(a.rep),
		dovetail.WithLogger(logging.Global()),
	)
}

// reportError shows err through the reporter when one is set up, with any
// hint attached to it as the suggestion.
func (a *app) reportError(err error) {
	a.runLog.Error("%v", err)
	if a.rep == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := derrors.Hint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		return
	}

	title := "Error"
	if kind, ok := derrors.KindOf(err); ok {
		title = kind.String()
	}
	a.rep.Error(reporter.ReporterError{
		Title:      title,
		Message:    err.Error(),
		Suggestion: derrors.Hint(err),
	})
}
