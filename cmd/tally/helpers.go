package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/groups"
	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/provider"
	"github.com/tallyhq/tally/internal/rates"
	"github.com/tallyhq/tally/internal/service"
	"github.com/tallyhq/tally/internal/storage"
	"github.com/tallyhq/tally/internal/syncer"
)

// app bundles the wired services behind each command.
type app struct {
	cfg    *config.Config
	store  service.Store
	locks  *common.KeyedMutex
	recalc *ledger.Recalculator
	ledger *ledger.Service
	groups *groups.Engine
}

// initApp opens the database, runs migrations, and wires the core
// services. The caller must Close the store.
func initApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	locks := common.NewKeyedMutex()
	rateSource := rates.NewHTTPRateSource(cfg.RatesURL)
	recalc := ledger.NewRecalculator(store, rateSource, locks, cfg.DefaultCurrency)
	engine := groups.New(store)

	return &app{
		cfg:    cfg,
		store:  store,
		locks:  locks,
		recalc: recalc,
		ledger: ledger.NewService(store, recalc, engine),
		groups: engine,
	}, nil
}

// Close releases the application's resources.
func (a *app) Close() error {
	return a.store.Close()
}

// providerClient creates the aggregation provider client from the loaded
// credentials.
func (a *app) providerClient() (provider.Client, error) {
	if err := a.cfg.RequirePlaid(); err != nil {
		return nil, err
	}
	return provider.NewPlaidClient(a.cfg.Plaid)
}

// orchestrator wires a sync orchestrator over the shared lock set.
func (a *app) orchestrator() (*syncer.Orchestrator, error) {
	client, err := a.providerClient()
	if err != nil {
		return nil, err
	}
	return syncer.NewOrchestrator(a.store, client, a.recalc, a.locks), nil
}

// actingUser resolves the caller identity every query is scoped by.
func actingUser() string {
	return viper.GetString("user")
}
