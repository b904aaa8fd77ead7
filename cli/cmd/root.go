// Package cmd provides the Cobra commands for the fluxpack CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	outputFmt string
	noHeaders bool
	quiet     bool
	debug     bool

	// Shared across commands
	cfg       *config.Config
	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fluxpack",
	Short: "fluxpack - bundle JavaScript modules into a single library",
	Long: `fluxpack resolves a module graph from its entry points, runs each module
through the transform pipeline and emits a wrapped bundle with source maps.

Get started:
  fluxpack build         Build the bundle once
  fluxpack serve         Serve the bundle and rebuild on changes
  fluxpack config show   Show the effective configuration`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Silence errors only when --quiet is used
		cmd.SilenceErrors = quiet
	},
}

// Execute runs the CLI until the command finishes or the process is
// interrupted.
func Execute() error {
	observability.Version = Version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./fluxpack.yaml or ./config/fluxpack.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging points the global logger at stderr: human readable on a
// terminal, JSON otherwise.
func setupLogging(level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(level)
}

// loadConfig sets up logging, loads the configuration and creates the
// output formatter. Commands use it as PreRunE.
func loadConfig(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	switch {
	case debug:
		level = zerolog.DebugLevel
	case quiet:
		level = zerolog.WarnLevel
	}
	setupLogging(level)

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
	} else if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}
	formatter = output.NewFormatterTo(format, cmd.OutOrStdout(), noHeaders, quiet)
	formatter.ErrWriter = cmd.ErrOrStderr()
	return nil
}

// GetFormatter returns the output formatter (for use by subcommands)
func GetFormatter() *output.Formatter {
	if formatter == nil {
		format, _ := output.ParseFormat(outputFmt)
		formatter = output.NewFormatter(format, noHeaders, quiet)
	}
	return formatter
}
