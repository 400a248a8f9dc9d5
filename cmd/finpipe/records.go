package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"finpipe/internal/app"
	"finpipe/internal/httpapi"
)

var errNoStore = errors.New("storage is disabled in this config")

func maturityCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maturity",
		Short: "Maturity batch operations",
	}
	var (
		asOf    string
		timeout time.Duration
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Complete every investment due by --as-of and send the batch emails",
		Long: `Complete every active investment whose maturity date is at or before
--as-of, then notify each owner and send the admin summary.

Examples:
  finpipe maturity run
  finpipe maturity run --as-of 2025-03-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(app.Options{ConfigPath: rf.config, EnvFile: rf.envFile})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Service() == nil {
				return errNoStore
			}
			at, err := httpapi.ParseAsOf(asOf, time.Now())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := a.Service().RunMaturity(ctx, at)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	run.Flags().StringVar(&asOf, "as-of", "", "cutoff date (YYYY-MM-DD or RFC 3339); default now")
	run.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "upper bound for the whole run")
	cmd.AddCommand(run)
	return cmd
}

func activityCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "activity <owner-id>",
		Short: "Print an owner's merged activity timeline and stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(app.Options{ConfigPath: rf.config, EnvFile: rf.envFile})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Feed() == nil {
				return errNoStore
			}
			feed, err := a.Feed().Aggregate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(feed)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
