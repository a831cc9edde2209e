package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newReportCmd(configPath *string) *cobra.Command {
	var (
		period string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show spend for the current task, today, the last week or month",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := models.ParseReportPeriod(period)
			if !ok {
				return fmt.Errorf("invalid --period %q (use current-task, today, week or month)", period)
			}

			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.pipeline.Report(p)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatReport(report))
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", string(models.PeriodToday), "current-task, today, week or month")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newLimitsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show or change the persisted spend limits",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the current spend limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprint(cmd.OutOrStdout(), formatLimits(a.pipeline.Limits()))
			return nil
		},
	}

	var daily, perTask string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change spend limits; unset flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			var partial models.CostLimits
			var err error
			if cmd.Flags().Changed("daily") {
				if partial.Daily, err = parseUSD("daily", daily); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("per-task") {
				if partial.PerTask, err = parseUSD("per-task", perTask); err != nil {
					return err
				}
			}
			if partial.Daily == nil && partial.PerTask == nil {
				return fmt.Errorf("nothing to change: pass --daily and/or --per-task")
			}

			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprint(cmd.OutOrStdout(), formatLimits(a.pipeline.UpdateLimits(partial)))
			return nil
		},
	}
	set.Flags().StringVar(&daily, "daily", "", "daily limit in USD")
	set.Flags().StringVar(&perTask, "per-task", "", "per-task limit in USD")

	cmd.AddCommand(show, set)
	return cmd
}

func parseUSD(flag, value string) (*decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid --%s: must not be negative", flag)
	}
	return &d, nil
}

func newSelfTestCmd(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Check that the primary model answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := a.pipeline.SelfTest(ctx); err != nil {
				return fmt.Errorf("self-test failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s answered\n", a.cfg.Models.Primary.Model)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}
