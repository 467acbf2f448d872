/*
Package cli holds helpers shared by the voicequota commands: output
formatting, the recording level meter, signal handling and exit codes.

Output formatting:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, usage); err != nil {
		return err
	}

Results that implement Table print as aligned columns in text mode and as
CSV with --output csv.

Signal handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit codes distinguish quota exhaustion (3) and authentication failures (4)
from generic errors so scripts can react to them.
*/
package cli
