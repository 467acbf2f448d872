package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/voicequota/pkg/cli"
	"mercator-hq/voicequota/pkg/limits"
	"mercator-hq/voicequota/pkg/limits/ledger"
	"mercator-hq/voicequota/pkg/limits/storage"
	"mercator-hq/voicequota/pkg/server"
)

var ledgerFlags struct {
	user   string
	output string
	maxAge time.Duration
	yes    bool
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain the usage ledger",
	Long: `Operate on the usage ledger configured under storage in the config
file. These commands open the backend directly; for sqlite, stop the
server first or use a driver that allows concurrent access.

Examples:
  voicequota ledger show
  voicequota ledger show --user alice -o json
  voicequota ledger reset --user alice --yes
  voicequota ledger prune --max-age 720h`,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List usage records",
	RunE:  runLedgerShow,
}

var ledgerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a user's usage record",
	RunE:  runLedgerReset,
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records whose window ended long ago",
	RunE:  runLedgerPrune,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd, ledgerResetCmd, ledgerPruneCmd)

	ledgerShowCmd.Flags().StringVarP(&ledgerFlags.user, "user", "u", "", "show a single user")
	ledgerShowCmd.Flags().StringVarP(&ledgerFlags.output, "output", "o", "text", "output format (text, json, csv)")

	ledgerResetCmd.Flags().StringVarP(&ledgerFlags.user, "user", "u", "", "user to reset (required)")
	ledgerResetCmd.Flags().BoolVarP(&ledgerFlags.yes, "yes", "y", false, "do not ask for confirmation")
	_ = ledgerResetCmd.MarkFlagRequired("user")

	ledgerPruneCmd.Flags().DurationVar(&ledgerFlags.maxAge, "max-age", 0, "age past window end (default from storage.retention.max_age)")
}

// openLedger opens the configured backend. The caller closes the backend.
func openLedger(ctx context.Context) (*ledger.Ledger, storage.Backend, time.Duration, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, nil, 0, err
	}
	backend, err := storage.Open(ctx, server.StorageOptions(cfg))
	if err != nil {
		return nil, nil, 0, cli.NewCommandError("ledger", err)
	}
	l, err := ledger.New(backend, server.QuotaPolicy(cfg),
		ledger.WithLogger(slog.Default().With("component", "limits.ledger")))
	if err != nil {
		backend.Close()
		return nil, nil, 0, cli.NewConfigError("quota", err.Error())
	}
	return l, backend, cfg.Storage.Retention.MaxAge, nil
}

// usageTable renders ledger records.
type usageTable struct {
	policy  limits.QuotaPolicy
	records []limits.UsageRecord
}

func (t usageTable) Header() []string {
	return []string{"USER", "CONSUMED_S", "REMAINING_S", "USED_%", "REQUESTS", "WINDOW_END"}
}

func (t usageTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.records))
	for i := range t.records {
		r := &t.records[i]
		rows = append(rows, []string{
			r.UserID,
			strconv.FormatInt(r.ConsumedSeconds, 10),
			strconv.FormatInt(r.Remaining(t.policy), 10),
			strconv.FormatFloat(r.PercentUsed(t.policy), 'f', 1, 64),
			strconv.FormatInt(r.RequestCount, 10),
			r.WindowEnd.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

type usageRecordJSON struct {
	UserID           string    `json:"user_id"`
	ConsumedSeconds  int64     `json:"consumed_seconds"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	RequestCount     int64     `json:"request_count"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
}

func (t usageTable) json() []usageRecordJSON {
	out := make([]usageRecordJSON, 0, len(t.records))
	for i := range t.records {
		r := &t.records[i]
		out = append(out, usageRecordJSON{
			UserID:           r.UserID,
			ConsumedSeconds:  r.ConsumedSeconds,
			RemainingSeconds: r.Remaining(t.policy),
			RequestCount:     r.RequestCount,
			WindowStart:      r.WindowStart,
			WindowEnd:        r.WindowEnd,
		})
	}
	return out
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	setupClientLogging()
	format, err := cli.ParseOutputFormat(ledgerFlags.output)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	l, backend, _, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	var records []limits.UsageRecord
	if ledgerFlags.user != "" {
		rec, err := l.Snapshot(ctx, ledgerFlags.user)
		if err != nil {
			return cli.NewCommandError("ledger show", err)
		}
		records = []limits.UsageRecord{rec}
	} else {
		records, err = l.List(ctx)
		if err != nil {
			return cli.NewCommandError("ledger show", err)
		}
	}

	table := usageTable{policy: l.Policy(), records: records}
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table.json())
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}

func runLedgerReset(cmd *cobra.Command, args []string) error {
	setupClientLogging()
	if !ledgerFlags.yes {
		fmt.Fprintf(cmd.OutOrStdout(), "Reset usage for %q? [y/N] ", ledgerFlags.user)
		var answer string
		_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
		if answer != "y" && answer != "Y" && answer != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	ctx := cmd.Context()
	l, backend, _, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := l.Reset(ctx, ledgerFlags.user); err != nil {
		return cli.NewCommandError("ledger reset", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Usage for %s reset\n", ledgerFlags.user)
	return nil
}

func runLedgerPrune(cmd *cobra.Command, args []string) error {
	setupClientLogging()
	ctx := cmd.Context()
	l, backend, maxAge, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	if ledgerFlags.maxAge > 0 {
		maxAge = ledgerFlags.maxAge
	}
	n, err := l.Prune(ctx, maxAge)
	if err != nil {
		return cli.NewCommandError("ledger prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d record(s) older than %s past window end\n", n, maxAge)
	return nil
}
