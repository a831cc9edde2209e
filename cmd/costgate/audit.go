package main

import (
	"fmt"
	"time"

	"github.com/pario-ai/costgate/pkg/audit"
	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/spf13/cobra"
)

func newAuditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the model call audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(configPath),
		newAuditStatsCmd(configPath),
		newAuditCleanupCmd(configPath),
	)
	return cmd
}

func newAuditSearchCmd(configPath *string) *cobra.Command {
	var (
		model   string
		task    string
		outcome string
		since   string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search logged call attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Model:   model,
				TaskID:  task,
				Outcome: models.AttemptOutcome(outcome),
				Limit:   limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			attempts, err := l.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAttempts(attempts))
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().StringVar(&task, "task", "", "filter by task ID")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome: success, transient, model_unavailable, permanent")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max attempts to return")
	return cmd
}

func newAuditStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show attempt counts by model, day and outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete attempts older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}
