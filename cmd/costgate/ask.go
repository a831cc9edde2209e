package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/pipeline"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newAskCmd(configPath *string) *cobra.Command {
	var (
		contextText   string
		instructions  string
		effort        string
		maxTokens     int
		taskBudget    string
		confirm       bool
		resourcesPath string
		stream        bool
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one budget-governed request",
		Long:  "Send one budget-governed request. The prompt is read from stdin when no argument is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}
			if prompt == "" {
				return fmt.Errorf("a prompt is required")
			}

			req := pipeline.Request{
				Prompt:          prompt,
				Context:         contextText,
				Instructions:    instructions,
				ReasoningEffort: models.ReasoningEffort(effort),
				Confirm:         confirm,
				Stream:          stream,
			}
			if !req.ReasoningEffort.Valid() {
				return fmt.Errorf("invalid --effort %q (use minimal, low, medium or high)", effort)
			}
			if maxTokens > 0 {
				req.MaxTokens = &maxTokens
			}
			if taskBudget != "" {
				d, err := decimal.NewFromString(taskBudget)
				if err != nil {
					return fmt.Errorf("invalid --budget: %w", err)
				}
				req.TaskBudget = &d
			}
			if resourcesPath != "" {
				data, err := os.ReadFile(resourcesPath)
				if err != nil {
					return fmt.Errorf("read resources: %w", err)
				}
				req.Resources = data
			}

			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.pipeline.Run(cmd.Context(), req)
			return printResult(cmd, res, asJSON)
		},
	}

	cmd.Flags().StringVar(&contextText, "context", "", "background context placed before the prompt")
	cmd.Flags().StringVar(&instructions, "instructions", "", "developer instructions")
	cmd.Flags().StringVar(&effort, "effort", "", "reasoning effort: minimal, low, medium, high")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "output length preference")
	cmd.Flags().StringVar(&taskBudget, "budget", "", "per-task budget in USD for this request")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm spending when the daily budget is nearly exhausted")
	cmd.Flags().StringVar(&resourcesPath, "resources", "", "JSON or text file attached as resources")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the upstream response")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

// printResult writes res and maps non-OK statuses to exit codes: 2 when
// confirmation is needed, 1 otherwise.
func printResult(cmd *cobra.Command, res *pipeline.Result, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if res.OK() {
		fmt.Fprintln(out, res.Display())
		fmt.Fprintln(cmd.ErrOrStderr(), formatUsage(res))
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), res.Display())
		if res.Status == pipeline.StatusNeedsConfirmation {
			fmt.Fprintln(cmd.ErrOrStderr(), "Re-run with --confirm to proceed.")
		}
	}

	switch res.Status {
	case pipeline.StatusOK:
		return nil
	case pipeline.StatusNeedsConfirmation:
		return exitError{code: 2}
	default:
		return exitError{code: 1}
	}
}
