package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/five82/dovetail"
	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/util"
	"github.com/five82/dovetail/internal/watch"
)

func transcodeCmd() *cobra.Command {
	var opts dovetail.TranscodeOptions
	cmd := &cobra.Command{
		Use:   "transcode <video>",
		Short: "Run one video through a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("invalid input path: %w", err)
			}
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			e.Hardware()
			cli.runLog.Info("Processing single file: %s", input)
			result, err := e.Transcode(cmd.Context(), input, opts)
			if err != nil {
				return err
			}
			cli.runLog.Info("Output: %s (%s, %s)", result.OutputPath,
				util.FormatSizeChange(util.CalculateSizeReduction(result.InputSize, result.OutputSize)), util.FormatElapsed(result.Duration))
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Preset, "profile", "p", "", "Preset name (default from config)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "Output directory (default paths.output_base)")
	cmd.Flags().BoolVar(&opts.KeepArtifacts, "keep-artifacts", false, "Keep intermediate artifacts after the run")
	return cmd
}

// albumFlags registers the flags shared by commands that read an album.
func albumFlags(cmd *cobra.Command, opts *dovetail.SyncOptions, minSizeMB *int) {
	cmd.Flags().StringVarP(&opts.Preset, "profile", "p", "", "Preset name (default from config)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "Output directory (default paths.output_base)")
	cmd.Flags().IntVar(minSizeMB, "min-size", 0, "Copy QuickTime videos smaller than this many MB instead of transcoding")
}

func syncCmd() *cobra.Command {
	var (
		opts      dovetail.SyncOptions
		minSizeMB int
	)
	cmd := &cobra.Command{
		Use:   "sync <album>",
		Short: "Process every album file the manifest has not seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Limit < 0 || minSizeMB < 0 {
				return derrors.NewConfigError("--limit and --min-size must not be negative")
			}
			opts.MinSize = int64(minSizeMB) << 20
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			e.Hardware()
			summary, err := e.Sync(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if summary.DryRun {
				cli.runLog.Info("Dry run %s: %d to process (%d transcodes), %d up to date, %d deferred",
					summary.BatchID, len(summary.Plan.ToProcess), summary.Plan.Transcodes(), summary.Skipped(), summary.Deferred())
				return nil
			}
			cli.runLog.Info("Batch %s: %d succeeded, %d failed, %d skipped, %d copied, %d deferred",
				summary.BatchID, summary.Succeeded, summary.Failed, summary.Skipped(), summary.Copied, summary.Deferred())
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d assets failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}
	albumFlags(cmd, &opts, &minSizeMB)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Show what would be done without making changes")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Reprocess files the manifest already records")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Transcode at most this many videos (0 = unlimited)")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		opts      dovetail.SyncOptions
		minSizeMB int
		debounce  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <album>",
		Short: "Sync the album whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minSizeMB < 0 {
				return derrors.NewConfigError("--min-size must not be negative")
			}
			opts.MinSize = int64(minSizeMB) << 20
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			e.Hardware()
			cli.runLog.Info("Watching %s (debounce %s)", args[0], debounce)
			return e.Watch(cmd.Context(), args[0], opts, watch.WithDebounce(debounce))
		},
	}
	albumFlags(cmd, &opts, &minSizeMB)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a re-sync")
	return cmd
}

func favoritesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "favorites <album>",
		Short: "List the album files rated as favorites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			favs, err := e.Favorites(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			name := filepath.Base(filepath.Clean(args[0]))
			if len(favs) == 0 {
				fmt.Fprintf(out, "No favorites found in %s\n", name)
				return nil
			}
			fmt.Fprintf(out, "Favorites in %s: (%d files)\n\n", name, len(favs))
			for _, a := range favs {
				fmt.Fprintf(out, "  %s\n", a.Name())
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var (
		opts      dovetail.SyncOptions
		minSizeMB int
	)
	cmd := &cobra.Command{
		Use:   "status <album>",
		Short: "Summarize an album and how much of it is already processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.MinSize = int64(minSizeMB) << 20
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			st, err := e.Status(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			printStatus(cmd, st)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "Output directory (default paths.output_base)")
	cmd.Flags().IntVar(&minSizeMB, "min-size", 0, "Count QuickTime videos smaller than this many MB as copies")
	return cmd
}

func printStatus(cmd *cobra.Command, st *dovetail.AlbumStatus) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	row := func(metric string, value any) { fmt.Fprintf(w, "%s\t%v\n", metric, value) }
	row("Path", st.Dir)
	row("Total files", st.Total())
	row("Videos", st.Videos)
	row("Clips", st.Clips)
	row("Photos", st.Photos)
	row("Live Photos", st.LivePhotos)
	row("Favorites", st.Favorites)
	row("Sidecars", st.Sidecars)
	row("Ignored", st.Ignored)
	row("Size", util.FormatBytesReadable(st.Bytes))
	if st.OutputDir == "" {
		row("Processed", "unknown (no output directory)")
	} else {
		row("Output", st.OutputDir)
		row("Processed", st.Processed)
		row("Pending", st.Pending)
	}
	_ = w.Flush()
}

func verifyCmd() *cobra.Command {
	var reference string
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check one file against the device-compatibility rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			report, err := e.Verify(cmd.Context(), args[0], reference)
			if err != nil {
				return err
			}
			return report.Err()
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "", "Source file to compare tags and duration against")
	return cmd
}

func compareCmd() *cobra.Command {
	var (
		presets   []string
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "compare <video>",
		Short: "Run several presets on one video and compare sizes and speeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("invalid input path: %w", err)
			}
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			results, err := e.Compare(cmd.Context(), input, outputDir, presets)
			if len(results) > 0 && !cli.jsonOutput {
				printComparisons(results)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&presets, "profile", "p", nil, "Presets to compare (default all)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default paths.output_base)")
	return cmd
}

func printComparisons(results []dovetail.Comparison) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tSTATUS\tSIZE\tRATIO\tSPEED")
	for _, c := range results {
		if !c.Result.Succeeded() {
			fmt.Fprintf(w, "%s\tfailed at %s\t-\t-\t-\n", c.Preset, c.Result.FailedStage)
			continue
		}
		fmt.Fprintf(w, "%s\tok\t%s\t%s\t%s\n", c.Preset, util.FormatBytesReadable(c.Result.OutputSize),
			util.FormatRatio(c.CompressionRatio()), util.FormatRatio(c.SpeedRatio()))
	}
	_ = w.Flush()
}

func profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the registered presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			def := cli.cfg.Transcode.DefaultProfile
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, p := range e.Profiles() {
				marker := " "
				if p.Name == def {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %s\t%s\t%s\n", marker, p.Name, p.Summary(), p.Description)
			}
			return w.Flush()
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show where each external tool resolves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := cli.engine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			statuses, err := e.Check()
			green, red := color.New(color.FgGreen), color.New(color.FgRed)
			out := cmd.OutOrStdout()
			for _, st := range statuses {
				if st.Found {
					fmt.Fprintf(out, "%s %-10s %s (%s)\n", green.Sprint("✓"), st.Name, st.Path, st.From)
				} else {
					fmt.Fprintf(out, "%s %-10s not found\n", red.Sprint("✗"), st.Name)
				}
			}
			if err != nil {
				return derrors.Wrap(err, "tool check failed")
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, appVersion)
		},
	}
}
