// Package cmd implements the CLI commands for framecut.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/framecut/internal/config"
	"github.com/jmylchreest/framecut/internal/cut"
	"github.com/jmylchreest/framecut/internal/observability"
	"github.com/jmylchreest/framecut/internal/timespec"
	"github.com/jmylchreest/framecut/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// cfg is the resolved configuration, loaded in PersistentPreRunE.
var cfg *config.Config

// rootCmd runs the cut itself; everything else is a subcommand.
var rootCmd = &cobra.Command{
	Use:     "framecut <input> <output>",
	Short:   "Frame-accurate smart cutting of compressed video",
	Version: version.Short(),
	Long: `framecut cuts compressed video with frame accuracy while re-encoding only
the short stretches between each cut point and the next keyframe. Everything
else is copied packet by packet, so output quality and speed stay close to a
pure stream copy.

Time tokens accept seconds (90, 12.5), clock times (HH:MM:SS.fff, MM:SS),
frame indices (300f), the literals s/start and e/end, and any of those
prefixed with '-' to count from the end of the file.`,
	Example: `  framecut in.mp4 out.mp4 -k 10,20,40,50
  framecut in.mkv out.mkv --cut 0,5,15,20
  framecut in.ts out.mp4 -k s,e
  framecut in.mp4 'clip_#.mp4' -k 10,20,40,50 --segments`,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCut,
}

// Execute runs the root command and maps errors to exit codes.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return cut.ExitOK
	}

	code := cut.ExitCode(err)
	if errors.Is(err, errUsage) {
		code = cut.ExitArgs
	}
	fmt.Fprintf(os.Stderr, "framecut: %v\n", err)
	return code
}

// errUsage marks cobra-level argument errors.
var errUsage = errors.New("usage error")

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfigAndLogging()
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.framecut.yaml, then $HOME/.framecut.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")

	rootCmd.Flags().StringP("keep", "k", "", "comma-separated time token pairs to keep")
	rootCmd.Flags().StringP("cut", "c", "", "comma-separated time token pairs to remove")
	rootCmd.Flags().Bool("keyframe-mode", false, "cut on keyframes only, never re-encode")
	rootCmd.Flags().Bool("segments", false, "write one output file per kept interval")
	rootCmd.Flags().String("quality", "", "boundary re-encode quality (low, normal, high, indistinguishable, near_lossless, lossless)")
	rootCmd.Flags().Int("max-gop-frames", 0, "cap on the re-encode decode window")
	rootCmd.Flags().Bool("preserve-timestamps", false, "keep the input timestamp epoch instead of starting at zero")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(planCmd)
}

// initConfigAndLogging loads configuration and wires the default logger.
// Priority: CLI flag > FRAMECUT_* env > config file > default.
func initConfigAndLogging() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	cfg = loaded

	logCfg := cfg.Logging
	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// runCut executes the main command.
func runCut(cmd *cobra.Command, args []string) error {
	opts := cut.OptionsFromConfig(cfg)
	opts.InputPath = args[0]
	opts.OutputPath = args[1]

	keep, _ := cmd.Flags().GetString("keep")
	cutList, _ := cmd.Flags().GetString("cut")
	opts.KeepTokens = timespec.SplitTokens(keep)
	opts.CutTokens = timespec.SplitTokens(cutList)

	opts.KeyframeMode, _ = cmd.Flags().GetBool("keyframe-mode")
	opts.SegmentMode, _ = cmd.Flags().GetBool("segments")
	overrideString(cmd.Flags(), "quality", &opts.Quality)
	overrideInt(cmd.Flags(), "max-gop-frames", &opts.MaxGOPFrames)
	overrideBool(cmd.Flags(), "preserve-timestamps", &opts.PreserveTimestamps)

	job := cut.NewJob(opts, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		job.Cancel()
	}()

	return job.Run(ctx)
}

// overrideString applies a flag value only when the user set it explicitly,
// preserving config/env precedence for defaults.
func overrideString(fs *pflag.FlagSet, name string, dst *string) {
	if fs.Changed(name) {
		*dst, _ = fs.GetString(name)
	}
}

func overrideInt(fs *pflag.FlagSet, name string, dst *int) {
	if fs.Changed(name) {
		*dst, _ = fs.GetInt(name)
	}
}

func overrideBool(fs *pflag.FlagSet, name string, dst *bool) {
	if fs.Changed(name) {
		*dst, _ = fs.GetBool(name)
	}
}
