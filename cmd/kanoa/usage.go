package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpt/kanoa/internal/app"
	"github.com/fpt/kanoa/internal/config"
	"github.com/fpt/kanoa/pkg/usage"
)

func newUsageCmd(g *globalFlags) *cobra.Command {
	var (
		ledgerPath string
		since      string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage and cost from the usage ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ledgerPath
			if path == "" {
				settings, err := config.LoadSettings(g.settingsPath)
				if err != nil {
					return err
				}
				path = settings.Usage.LedgerPath
			}
			if path == "" {
				uc, err := config.DefaultUserConfig()
				if err != nil {
					return err
				}
				path = uc.UsageLedgerPath()
			}

			ledger, err := usage.OpenLedger(path)
			if err != nil {
				return err
			}
			defer ledger.Close()

			out := cmd.OutOrStdout()
			if sessionID != "" {
				records, err := ledger.Session(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				sum := usage.NewSession(usage.WithID(sessionID))
				for _, r := range records {
					sum.Record(cmd.Context(), r)
				}
				return app.WriteSummary(out, sum.Summary())
			}

			sinceTime := beginningOfMonth()
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				sinceTime = t
			}
			totals, err := ledger.Totals(cmd.Context(), sinceTime)
			if err != nil {
				return err
			}
			return app.WriteLedgerTotals(out, totals)
		},
	}

	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "path to the usage ledger (default from settings, then ~/.kanoa/usage.db)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	cmd.Flags().StringVar(&sessionID, "session", "", "show one session instead of totals")
	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
