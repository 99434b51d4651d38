// Package cli implements the diariodigest commands using Cobra.
package cli

import (
	"fmt"
	"os"

	"diariodigest/internal/config"
	"diariodigest/internal/edition"
	"diariodigest/internal/logger"
	sentryutil "diariodigest/internal/sentry"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "diariodigest",
	Short: "diariodigest: daily digests of the Diario Oficial",
	Long: `diariodigest resolves the edition number of a Diario Oficial date, scrapes
its sub-pages for publications, flags the relevant ones and delivers a digest.

Usage:
  diariodigest run --date 14-07-2025
  diariodigest serve`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Load()
		logger.Configure(config.Cfg.LogLevel, config.Cfg.LogPretty)
		sentryutil.Init()
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	sentryutil.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dateRange parses --date and the optional --to into the dates to process.
// A single --date is taken as given; a range keeps business days only, since
// weekend editions are special and cannot be estimated.
func dateRange(from, to string) ([]edition.Date, error) {
	if from == "" {
		return nil, fmt.Errorf("--date is required (DD-MM-YYYY)")
	}
	start, err := edition.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("invalid --date: %w", err)
	}
	if to == "" {
		return []edition.Date{start}, nil
	}
	end, err := edition.ParseDate(to)
	if err != nil {
		return nil, fmt.Errorf("invalid --to: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("--to %s is before --date %s", to, from)
	}
	var dates []edition.Date
	for _, d := range edition.Range(start, end) {
		if d.IsBusinessDay() {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("no business days between %s and %s", from, to)
	}
	return dates, nil
}
