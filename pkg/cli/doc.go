/*
Package cli provides command-line utilities for the gatehouse command.

Output Formatting:

Commands that print structured results (for example audit queries) support
text and JSON output:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, records); err != nil {
		return err
	}

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
	// Use ctx for operations that should be cancelled on shutdown
*/
package cli
