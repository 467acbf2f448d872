package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/voicequota/pkg/cli"
	"mercator-hq/voicequota/pkg/client"
	"mercator-hq/voicequota/pkg/config"
	"mercator-hq/voicequota/pkg/indicator"
)

// connFlags are shared by the commands that talk to a server.
type connFlags struct {
	server string
	token  string
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "server base URL (default from client.server_url)")
	cmd.Flags().StringVar(&f.token, "token", "", "API key or session token (default from client.token)")
}

// dial builds an API client, flags taking precedence over cfg.
func (f *connFlags) dial(cfg *config.Config) (*client.Client, error) {
	server, token := cfg.Client.ServerURL, cfg.Client.Token
	if f.server != "" {
		server = f.server
	}
	if f.token != "" {
		token = f.token
	}
	if token == "" {
		return nil, cli.NewConfigError("client.token", "a token is required (--token or VOICEQUOTA_CLIENT_TOKEN)")
	}
	c, err := client.New(server, token)
	if err != nil {
		return nil, cli.NewConfigError("client.server_url", err.Error())
	}
	return c, nil
}

var usageFlags struct {
	conn     connFlags
	watch    bool
	interval time.Duration
	output   string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show remaining voice quota",
	Long: `Fetch the caller's usage snapshot and print the usage indicator.

With --watch the snapshot is refreshed on the poll interval and the reset
countdown is redrawn every second. A failed refresh keeps the last known
snapshot on screen, marked stale.

Examples:
  voicequota usage --token dev-key-alice
  voicequota usage --watch --interval 10s
  voicequota usage -o json`,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageFlags.conn.register(usageCmd)
	usageCmd.Flags().BoolVarP(&usageFlags.watch, "watch", "w", false, "keep refreshing until interrupted")
	usageCmd.Flags().DurationVar(&usageFlags.interval, "interval", 0, "refresh interval (default from client.poll_interval)")
	usageCmd.Flags().StringVarP(&usageFlags.output, "output", "o", "text", "output format (text, json)")
}

func runUsage(cmd *cobra.Command, args []string) error {
	setupClientLogging()

	format, err := cli.ParseOutputFormat(usageFlags.output)
	if err != nil {
		return err
	}
	if format == cli.FormatCSV {
		return cli.NewConfigError("output", "usage supports text or json")
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	c, err := usageFlags.conn.dial(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	if !usageFlags.watch {
		snap, err := c.Usage(ctx)
		if err != nil {
			return cli.NewCommandError("usage", err)
		}
		if format == cli.FormatJSON {
			return cli.NewFormatter(format).FormatTo(out, snap)
		}
		fmt.Fprintln(out, indicator.Render(indicator.View{Snapshot: snap, FetchedAt: time.Now()}, time.Now()))
		return nil
	}

	interval := usageFlags.interval
	if interval <= 0 {
		interval = cfg.Client.PollInterval
	}
	poller := indicator.NewPoller(c, interval)

	if format == cli.FormatJSON {
		enc := &cli.JSONFormatter{}
		poller.Run(ctx, func(v indicator.View) {
			if v.Snapshot != nil && !v.Stale {
				_ = enc.FormatTo(out, v.Snapshot)
			}
		})
		return nil
	}

	go poller.Run(ctx, nil)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		fmt.Fprintf(out, "\r\033[K%s", indicator.Render(poller.View(), time.Now()))
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case <-tick.C:
		}
	}
}
