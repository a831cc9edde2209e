package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pario-ai/costgate/pkg/conversation"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const chatHelp = `Commands:
  /summarize [n]   compress history, keeping the n most recent messages
  /export [file]   write the conversation as JSON (stdout without a file)
  /meta            show conversation metadata
  /budget <usd>    set the conversation budget
  /window <n>      set the context window
  /report          show today's spend
  /help            show this help
  /quit            leave`

func newChatCmd(configPath *string) *cobra.Command {
	var (
		topic        string
		instructions string
		budgetLimit  string
		window       int
		importPath   string
		effort       string
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive budget-governed conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Listen
			}
			if metricsAddr != "" {
				stop := serveMetrics(metricsAddr, a.logger)
				defer stop()
			}

			id, err := startConversation(a.pipeline, topic, instructions, budgetLimit, importPath)
			if err != nil {
				return err
			}
			if window > 0 {
				if _, err := a.pipeline.SetOptions(id, conversation.Options{ContextLimit: &window}); err != nil {
					return err
				}
			}

			s := &chatSession{
				p:      a.pipeline,
				id:     id,
				effort: models.ReasoningEffort(effort),
				in:     bufio.NewScanner(cmd.InOrStdin()),
				out:    cmd.OutOrStdout(),
			}
			fmt.Fprintf(s.out, "Conversation %s. Type /help for commands.\n", id)
			return s.loop(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "chat", "conversation topic")
	cmd.Flags().StringVar(&instructions, "instructions", "", "developer instructions pinned to the conversation")
	cmd.Flags().StringVar(&budgetLimit, "budget", "", "conversation budget in USD")
	cmd.Flags().IntVar(&window, "window", 0, "number of history messages sent per turn")
	cmd.Flags().StringVar(&importPath, "import", "", "resume an exported conversation file")
	cmd.Flags().StringVar(&effort, "effort", "", "reasoning effort: minimal, low, medium, high")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func startConversation(p *pipeline.Pipeline, topic, instructions, budgetLimit, importPath string) (string, error) {
	if importPath != "" {
		data, err := os.ReadFile(importPath)
		if err != nil {
			return "", fmt.Errorf("read conversation: %w", err)
		}
		return p.Import(data)
	}
	var limit *decimal.Decimal
	if budgetLimit != "" {
		d, err := decimal.NewFromString(budgetLimit)
		if err != nil {
			return "", fmt.Errorf("invalid --budget: %w", err)
		}
		limit = &d
	}
	return p.Start(topic, instructions, limit), nil
}

func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

type chatSession struct {
	p      *pipeline.Pipeline
	id     string
	effort models.ReasoningEffort
	in     *bufio.Scanner
	out    io.Writer
}

func (s *chatSession) loop(ctx context.Context) error {
	for {
		fmt.Fprint(s.out, "> ")
		if !s.in.Scan() {
			fmt.Fprintln(s.out)
			return s.in.Err()
		}
		line := strings.TrimSpace(s.in.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			if quit := s.command(ctx, line); quit {
				return nil
			}
		default:
			s.send(ctx, line)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *chatSession) send(ctx context.Context, msg string) {
	req := pipeline.ContinueRequest{ConversationID: s.id, Message: msg, ReasoningEffort: s.effort}
	res := s.p.Continue(ctx, req)
	if res.Status == pipeline.StatusNeedsConfirmation && s.confirm(res.Message) {
		req.Confirm = true
		res = s.p.Continue(ctx, req)
	}
	s.print(res)
}

func (s *chatSession) confirm(reason string) bool {
	fmt.Fprintf(s.out, "%s\nProceed? [y/N] ", reason)
	if !s.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(s.in.Text()))
	return answer == "y" || answer == "yes"
}

func (s *chatSession) print(res *pipeline.Result) {
	fmt.Fprintln(s.out, res.Display())
	if res.OK() {
		fmt.Fprintln(s.out, formatUsage(res))
	}
}

// command runs a slash command and reports whether the session should end.
func (s *chatSession) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
	case "/summarize":
		keep := 0
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Fprintf(s.out, "invalid count %q\n", arg)
				return false
			}
			keep = n
		}
		res := s.p.Summarize(ctx, s.id, keep, false)
		if res.Status == pipeline.StatusNeedsConfirmation && s.confirm(res.Message) {
			res = s.p.Summarize(ctx, s.id, keep, true)
		}
		s.print(res)
	case "/export":
		data, err := s.p.Export(s.id)
		if err != nil {
			fmt.Fprintln(s.out, err)
			return false
		}
		if arg == "" {
			fmt.Fprintln(s.out, string(data))
			return false
		}
		if err := os.WriteFile(arg, data, 0o600); err != nil {
			fmt.Fprintln(s.out, err)
			return false
		}
		fmt.Fprintf(s.out, "Exported to %s.\n", arg)
	case "/meta":
		meta, err := s.p.Metadata(s.id)
		if err != nil {
			fmt.Fprintln(s.out, err)
			return false
		}
		data, _ := json.MarshalIndent(meta, "", "  ")
		fmt.Fprintln(s.out, string(data))
	case "/budget":
		d, err := decimal.NewFromString(arg)
		if err != nil {
			fmt.Fprintf(s.out, "invalid budget %q\n", arg)
			return false
		}
		if _, err := s.p.SetOptions(s.id, conversation.Options{BudgetLimit: &d}); err != nil {
			fmt.Fprintln(s.out, err)
			return false
		}
		fmt.Fprintf(s.out, "Conversation budget set to $%s.\n", d.StringFixed(2))
	case "/window":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			fmt.Fprintf(s.out, "invalid window %q\n", arg)
			return false
		}
		if _, err := s.p.SetOptions(s.id, conversation.Options{ContextLimit: &n}); err != nil {
			fmt.Fprintln(s.out, err)
			return false
		}
		fmt.Fprintf(s.out, "Context window set to %d messages.\n", n)
	case "/report":
		fmt.Fprint(s.out, formatReport(s.p.Report(models.PeriodToday)))
	default:
		fmt.Fprintf(s.out, "unknown command %s, try /help\n", fields[0])
	}
	return false
}
