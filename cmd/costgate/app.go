package main

import (
	"fmt"

	"github.com/pario-ai/costgate/pkg/audit"
	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/conversation"
	"github.com/pario-ai/costgate/pkg/gateway"
	"github.com/pario-ai/costgate/pkg/ledger"
	"github.com/pario-ai/costgate/pkg/logging"
	"github.com/pario-ai/costgate/pkg/pipeline"
	"github.com/pario-ai/costgate/pkg/pricing"
	"github.com/pario-ai/costgate/pkg/resource"
	"github.com/pario-ai/costgate/pkg/router"
	"go.uber.org/zap"
)

// app is the fully wired set of components behind every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	ledger   *ledger.Ledger
	audit    *audit.Logger
	pipeline *pipeline.Pipeline
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	chain, err := router.New(cfg).Chain()
	if err != nil {
		return nil, fmt.Errorf("resolve models: %w", err)
	}

	prices := pricing.New(cfg.Pricing)
	prices.SetDefault(chain.Primary.Model)

	a := &app{
		cfg:    cfg,
		logger: logger,
		ledger: ledger.New(cfg.LedgerPath, ledger.WithLogger(logger.Named("ledger"))),
	}

	gwOpts := []gateway.Option{gateway.WithLogger(logger.Named("gateway"))}
	if cfg.Audit.Enabled {
		a.audit, err = audit.New(cfg.Audit, logger.Named("audit"))
		if err != nil {
			return nil, fmt.Errorf("init audit log: %w", err)
		}
		gwOpts = append(gwOpts, gateway.WithObserver(a.audit))
	}
	gw := gateway.New(cfg, chain, prices, gwOpts...)

	a.pipeline = pipeline.New(pipeline.Components{
		Gateway:      gw,
		Governor:     budget.NewGovernor(a.ledger, cfg.Limits, cfg.Conversations.BudgetMultiplier, logger.Named("governor")),
		Planner:      budget.NewPlanner(cfg.Planner, prices, chain.Primary.Model),
		Normalizer:   resource.New(cfg.Resources, logger.Named("resource")),
		Store:        conversation.New(cfg.Conversations, conversation.WithLogger(logger.Named("conversation"))),
		PrimaryModel: chain.Primary.Model,
		Logger:       logger.Named("pipeline"),
	})

	logger.Debug("costgate ready",
		zap.String("primary", chain.Primary.Model),
		zap.Int("fallbacks", len(chain.Fallbacks)),
		zap.String("ledger", cfg.LedgerPath),
		zap.Bool("audit", cfg.Audit.Enabled))
	return a, nil
}

// Close flushes the ledger and releases the audit database.
func (a *app) Close() {
	if err := a.ledger.Flush(); err != nil {
		a.logger.Error("flush ledger", zap.Error(err))
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("close audit log", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
