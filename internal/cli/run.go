package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"diariodigest/internal/config"

	"github.com/spf13/cobra"
)

var (
	flagDate string
	flagTo   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch one date, or a range, and deliver its digest",
	Long: `Run resolves the edition of each date, extracts its publications and
delivers one digest per date to the configured sinks. A date that cannot be
retrieved still yields a digest carrying an explanatory note.

Examples:
  diariodigest run --date 14-07-2025
  diariodigest run --date 01-07-2025 --to 31-07-2025`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&flagDate, "date", "", "Gazette date (DD-MM-YYYY)")
	runCmd.Flags().StringVar(&flagTo, "to", "", "Last date of a range, inclusive (DD-MM-YYYY)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	dates, err := dateRange(flagDate, flagTo)
	if err != nil {
		return err
	}
	app, err := NewApp(config.Cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()
	return app.RunDates(ctx, dates)
}
