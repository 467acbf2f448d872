package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/voicequota/pkg/cli"
	"mercator-hq/voicequota/pkg/config"
	"mercator-hq/voicequota/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "voicequota",
	Short: "Voice-input usage metering and quota enforcement",
	Long: `voicequota meters speech-to-text usage per user and enforces a quota
window before any transcription is paid for.

Server:
  serve     run the HTTP API (/api/ai-usage, /api/transcribe)
  ledger    inspect or reset usage records in the configured backend

Client:
  dictate   record from the microphone and transcribe
  usage     show the usage indicator`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads --config with environment overrides. When optional is
// set and the file does not exist, defaults plus environment are used, so
// client commands work without a config file.
func loadConfig(optional bool) (*config.Config, error) {
	path := cfgFile
	if optional {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err.Error())
	}
	return cfg, nil
}

// setupClientLogging sends logs to stderr as text, at debug with --verbose
// and warn otherwise.
func setupClientLogging() {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(config.LoggingConfig{Level: level, Format: "text", RedactPII: true}, os.Stderr)
	if err != nil {
		return
	}
	slog.SetDefault(logger.Logger)
}
