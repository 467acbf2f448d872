package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/voicequota/pkg/cli"
	"mercator-hq/voicequota/pkg/config"
	"mercator-hq/voicequota/pkg/security/secrets"
	"mercator-hq/voicequota/pkg/server"
	"mercator-hq/voicequota/pkg/telemetry/logging"
	"mercator-hq/voicequota/pkg/telemetry/tracing"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voice usage API server",
	Long: `Start the HTTP server that meters transcription usage.

The server authenticates each request, checks the caller's quota window,
forwards admitted clips to the transcription provider and debits the
measured duration from the usage ledger.

API keys and the log level are reloaded when the config file changes or
on SIGHUP. Quota policy and storage settings need a restart.

Examples:
  # Start with default config
  voicequota serve

  # Override listen address
  voicequota serve --listen 0.0.0.0:8080

  # Validate config and resolve secrets without starting
  voicequota serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
	serveCmd.Flags().BoolVar(&serveFlags.watch, "watch", true, "reload API keys and log level when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}
	cfg := config.GetConfig()

	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}

	logger, err := logging.New(cfg.Telemetry.Logging, nil)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	secretManager, err := secrets.FromConfig(cfg.Security.Secrets)
	if err != nil {
		return cli.NewConfigError("security.secrets", err.Error())
	}
	defer secretManager.Close()

	if err := secretManager.ResolveConfig(ctx, cfg); err != nil {
		return cli.NewConfigError("security.secrets", err.Error())
	}

	if serveFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg)

	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	srv, err := server.New(ctx, cfg, server.Options{
		Build: server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate},
	})
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer srv.Close()

	applyReload := func(prev, next *config.Config) {
		if err := secretManager.ResolveConfig(ctx, next); err != nil {
			slog.Error("reloaded configuration has unresolved secrets, keeping API keys", "error", err)
			return
		}
		srv.ApplyConfig(next)
		if level := next.Telemetry.Logging.Level; prev == nil || level != prev.Telemetry.Logging.Level {
			if err := logger.SetLevel(level); err != nil {
				slog.Warn("invalid log level in reloaded configuration", "level", level, "error", err)
			}
		}
	}

	if serveFlags.watch {
		watcher := config.NewWatcher(cfgFile, 0, applyReload)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	hup, stopHUP := cli.ReloadSignals()
	defer stopHUP()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				secretManager.Refresh()
				prev, next, err := config.ReloadConfig(cfgFile)
				if err != nil {
					slog.Error("configuration reload failed", "error", err)
					continue
				}
				slog.Info("configuration reloaded on SIGHUP")
				applyReload(prev, next)
			}
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Listening on %s (ledger: %s)\n", cfg.Server.ListenAddress, srv.Ledger().Backend())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	if err := srv.Run(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "voicequota v%s\n", Version)
	fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(out, "✓ Configuration loaded")
	fmt.Fprintf(out, "✓ Quota: %d seconds per %s, %d seconds per clip\n",
		cfg.Quota.MaxSecondsPerWindow, cfg.Quota.WindowDuration, cfg.Quota.MaxSingleRequestSeconds)

	slog.Debug("transcription provider", "provider", cfg.Transcription.Provider, "model", cfg.Transcription.Model)
	if cfg.Telemetry.Tracing.Enabled {
		slog.Debug("tracing enabled", "endpoint", cfg.Telemetry.Tracing.Endpoint)
	}
}
