package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

// exitError ends the process with code after the command has already
// reported the problem itself.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	// A .env file is optional.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var configPath string
	root := &cobra.Command{
		Use:           "costgate",
		Short:         "costgate: budget-governed LLM requests with model fallback",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("COSTGATE_CONFIG"), "path to costgate config file")

	root.AddCommand(
		newAskCmd(&configPath),
		newChatCmd(&configPath),
		newReportCmd(&configPath),
		newLimitsCmd(&configPath),
		newSelfTestCmd(&configPath),
		newAuditCmd(&configPath),
	)

	err := root.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var ee exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
