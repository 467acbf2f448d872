package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mercator-hq/voicequota/pkg/api/types"
	"mercator-hq/voicequota/pkg/capture"
	"mercator-hq/voicequota/pkg/cli"
	"mercator-hq/voicequota/pkg/client"
	"mercator-hq/voicequota/pkg/indicator"
)

var dictateFlags struct {
	conn     connFlags
	language string
	plain    bool
	output   string
}

var dictateCmd = &cobra.Command{
	Use:   "dictate",
	Short: "Record from the microphone and transcribe",
	Long: `Record one clip from the default microphone and send it for
transcription.

Recording stops on Enter, after the configured stretch of silence, or at
the hard cap. Esc (or Ctrl+C) cancels; a clip already uploading is still
billed by the server but its text is discarded.

The transcript goes to stdout so it can be piped. The usage indicator and
any notices go to stderr.

Examples:
  voicequota dictate --token dev-key-alice
  voicequota dictate --language de | pbcopy
  voicequota dictate --plain -o json`,
	RunE: runDictate,
}

func init() {
	rootCmd.AddCommand(dictateCmd)

	dictateFlags.conn.register(dictateCmd)
	dictateCmd.Flags().StringVarP(&dictateFlags.language, "language", "l", "", "dictation language (default from client.language)")
	dictateCmd.Flags().BoolVar(&dictateFlags.plain, "plain", false, "line-oriented output instead of the interactive view")
	dictateCmd.Flags().StringVarP(&dictateFlags.output, "output", "o", "text", "output format (text, json)")
}

// dictation is one record-and-submit cycle, shared by the plain and
// interactive front ends.
type dictation struct {
	rec      *capture.Recorder
	api      *client.Client
	poller   *indicator.Poller
	language string
}

func (d *dictation) send(ctx context.Context, clip *capture.Clip) (*types.TranscribeResponse, error) {
	// The upload outlives an interrupt so the server can finish billing it.
	return d.api.Transcribe(context.WithoutCancel(ctx), clip.WAV, d.language, clip.Duration)
}

// submit uploads clip and folds the returned usage into the indicator.
func (d *dictation) submit(ctx context.Context, clip *capture.Clip) (*types.TranscribeResponse, error) {
	resp, err := capture.Submit(ctx, d.rec, clip, d.send)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Decision != nil {
			d.poller.Refresh(ctx)
		}
		return nil, err
	}
	if resp.Usage != nil {
		d.poller.Update(resp.Usage)
	}
	return resp, nil
}

func runDictate(cmd *cobra.Command, args []string) error {
	setupClientLogging()

	format, err := cli.ParseOutputFormat(dictateFlags.output)
	if err != nil {
		return err
	}
	if format == cli.FormatCSV {
		return cli.NewConfigError("output", "dictate supports text or json")
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	api, err := dictateFlags.conn.dial(cfg)
	if err != nil {
		return err
	}
	language := cfg.Client.Language
	if dictateFlags.language != "" {
		language = dictateFlags.language
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	poller := indicator.NewPoller(api, cfg.Client.PollInterval)
	if v := poller.Refresh(ctx); indicator.Disabled(v.Snapshot) {
		fmt.Fprintln(cmd.ErrOrStderr(), indicator.Render(v, time.Now()))
		return cli.NewCommandError("dictate", cli.ErrQuotaExhausted)
	}

	src, err := capture.NewMalgoSource()
	if err != nil {
		return cli.NewCommandError("dictate", err)
	}
	defer src.Close()

	capCfg := capture.Config{
		SilenceTimeout:   cfg.Client.SilenceTimeout,
		SilenceThreshold: cfg.Client.SilenceThreshold,
		MaxDuration:      cfg.Client.MaxRecording,
	}
	d := &dictation{api: api, poller: poller, language: language}

	var resp *types.TranscribeResponse
	if !dictateFlags.plain && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd())) {
		resp, err = runDictateTUI(ctx, d, src, capCfg)
	} else {
		resp, err = runDictatePlain(ctx, d, src, capCfg, cmd.InOrStdin(), cmd.ErrOrStderr())
	}
	if err != nil {
		return dictateError(err)
	}

	stderr := cmd.ErrOrStderr()
	if resp.Warning != "" {
		fmt.Fprintln(stderr, "warning:", resp.Warning)
	}
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	fmt.Fprintln(stderr, indicator.Render(poller.View(), time.Now()))
	return nil
}

func runDictatePlain(ctx context.Context, d *dictation, src capture.Source, capCfg capture.Config, in io.Reader, out io.Writer) (*types.TranscribeResponse, error) {
	meter := cli.NewLevelMeter(out)
	d.rec = capture.NewRecorder(src, capCfg,
		capture.WithLogger(slog.Default().With("component", "capture")),
		capture.WithObserver(func(s capture.Status) { meter.Update(s.Elapsed, s.Level) }),
	)

	fmt.Fprintln(out, "Recording. Press Enter to stop, Ctrl+C to cancel.")
	go func() {
		// A closed or non-interactive stdin leaves stopping to silence.
		if _, err := bufio.NewReader(in).ReadString('\n'); err == nil {
			d.rec.Stop()
		}
	}()
	go func() {
		<-ctx.Done()
		d.rec.Cancel()
	}()

	clip, err := d.rec.Record(ctx)
	if err != nil {
		meter.Finish("")
		return nil, err
	}
	finish := fmt.Sprintf("captured %.1fs (%s)", clip.Duration.Seconds(), clip.Reason)
	if clip.Notice != "" {
		finish = clip.Notice
	}
	meter.Finish(finish)

	fmt.Fprintln(out, "Transcribing…")
	return d.submit(ctx, clip)
}

// dictateError maps capture and API failures onto CLI errors.
func dictateError(err error) error {
	switch {
	case errors.Is(err, capture.ErrNoAudio):
		return cli.NewCommandError("dictate", cli.ErrNoAudio)
	case errors.Is(err, capture.ErrCancelled), errors.Is(err, context.Canceled):
		return cli.NewCommandError("dictate", capture.ErrCancelled)
	case errors.Is(err, capture.ErrPermissionDenied):
		return cli.NewCommandError("dictate", fmt.Errorf("%w: allow microphone access for this terminal and retry", err))
	}
	return cli.NewCommandError("dictate", err)
}
