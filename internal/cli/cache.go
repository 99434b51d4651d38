package cli

import (
	"encoding/json"
	"fmt"

	"diariodigest/internal/config"
	"diariodigest/internal/edition"

	"github.com/spf13/cobra"
)

var flagEdition string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the edition number of a date",
	Long: `Resolve prints the edition number of a date with its method and
confidence. The result is written back to the edition cache.

Example:
  diariodigest resolve --date 14-07-2025`,
	Args: cobra.NoArgs,
	RunE: runResolve,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report anomalies in the edition cache",
	Long: `Audit lists edition numbers bound to more than one date, edition numbers
that go backwards as dates advance, and non-numeric entries. It exits with an
error when any anomaly is found.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Rebind a date to a verified edition number",
	Long: `Repair overwrites the cache binding of a date. It is the only way to change
an existing binding; the new edition must not be confirmed for another date.
Estimates holding it are dropped.

Example:
  diariodigest repair --date 15-07-2025 --edition 44198`,
	Args: cobra.NoArgs,
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(resolveCmd, auditCmd, repairCmd)
	resolveCmd.Flags().StringVar(&flagDate, "date", "", "Gazette date (DD-MM-YYYY)")
	repairCmd.Flags().StringVar(&flagDate, "date", "", "Gazette date (DD-MM-YYYY)")
	repairCmd.Flags().StringVar(&flagEdition, "edition", "", "Verified edition number")
}

func runResolve(cmd *cobra.Command, args []string) error {
	dates, err := dateRange(flagDate, "")
	if err != nil {
		return err
	}
	app, err := NewApp(config.Cfg, false)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	res, err := app.Resolver.Resolve(ctx, dates[0])
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(struct {
		Date string `json:"date"`
		edition.Resolution
	}{dates[0].String(), res}, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	anomalies := cache.Audit()
	for _, a := range anomalies {
		fmt.Fprintln(cmd.OutOrStdout(), a.String())
	}
	if len(anomalies) > 0 {
		return fmt.Errorf("%d anomalies in %s", len(anomalies), cache.Path())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, no anomalies\n", cache.Path(), len(cache.Entries()))
	return nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	dates, err := dateRange(flagDate, "")
	if err != nil {
		return err
	}
	if flagEdition == "" {
		return fmt.Errorf("--edition is required")
	}
	cache, err := openCache()
	if err != nil {
		return err
	}
	if other, ok := cache.BoundDate(flagEdition, dates[0]); ok && !cache.Provisional(other) {
		return fmt.Errorf("edition %s is bound to %s; repair that date first", flagEdition, other)
	}
	if err := cache.Update(dates[0], flagEdition); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", dates[0], flagEdition)
	return nil
}

func openCache() (*edition.Cache, error) {
	cfg := config.Cfg
	return edition.Open(cfg.CachePath,
		edition.WithPolicy(edition.ParsePolicy(cfg.CachePolicy)),
		edition.WithAuditLog(cfg.AuditLogPath))
}
