// Package ledger maintains account balances and the manual transaction
// entry path.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/service"
)

// Recalculator recomputes the denormalized running balances of an account
// by replaying its transactions forward in (timestamp, id) order. It is a
// full replay from the cutoff, not an incremental patch: the cost is
// O(transactions after cutoff), and the result is correct regardless of
// what the previous balances were.
type Recalculator struct {
	store           service.Store
	rates           service.RateSource
	locks           *common.KeyedMutex
	defaultCurrency string
	logger          *slog.Logger
}

// NewRecalculator creates a balance recalculator. rates may be nil, in
// which case default-currency amounts are left unstamped.
func NewRecalculator(store service.Store, rates service.RateSource, locks *common.KeyedMutex, defaultCurrency string) *Recalculator {
	return &Recalculator{
		store:           store,
		rates:           rates,
		locks:           locks,
		defaultCurrency: defaultCurrency,
		logger:          slog.Default().With("component", "ledger"),
	}
}

// Recompute replays the account's transactions at or after the cutoff and
// rewrites each running balance. A nil cutoff replays the whole account
// from its initial balance. Replays are serialized per account.
func (r *Recalculator) Recompute(ctx context.Context, accountID string, from *time.Time) error {
	r.locks.Lock(AccountLockKey(accountID))
	defer r.locks.Unlock(AccountLockKey(accountID))

	return r.replay(ctx, r.store, accountID, from)
}

// RecomputeIn is Recompute running against an explicit store handle, used
// to replay inside an open transaction. The caller must already hold the
// account lock.
func (r *Recalculator) RecomputeIn(ctx context.Context, store service.Store, accountID string, from *time.Time) error {
	return r.replay(ctx, store, accountID, from)
}

func (r *Recalculator) replay(ctx context.Context, store service.Store, accountID string, from *time.Time) error {
	var cutoff time.Time
	if from != nil {
		cutoff = *from
	}

	running, err := store.PrecedingBalance(ctx, accountID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to resolve preceding balance: %w", err)
	}

	txns, err := store.ListTransactionsForReplay(ctx, accountID, from)
	if err != nil {
		return fmt.Errorf("failed to load transactions for replay: %w", err)
	}
	if len(txns) == 0 {
		return nil
	}

	currency, err := store.AccountCurrency(ctx, accountID)
	if err != nil {
		return err
	}

	for i := range txns {
		txn := &txns[i]
		running = running.Add(txn.Amount)

		amountDefault := txn.AmountDefault
		if amountDefault == nil {
			amountDefault = r.convert(ctx, txn.Amount, currency, txn.Timestamp)
		}

		if err := store.SetTransactionBalance(ctx, txn.ID, running, amountDefault); err != nil {
			return fmt.Errorf("failed to persist balance for transaction %s: %w", txn.ID, err)
		}
	}

	r.logger.Debug("Recomputed balances",
		"account_id", accountID,
		"from", cutoff,
		"transactions", len(txns),
		"final_balance", running)

	return nil
}

// convert stamps the default-currency amount. Conversion failure degrades
// to an unstamped value; it never blocks the balance write.
func (r *Recalculator) convert(ctx context.Context, amount decimal.Decimal, currency string, asOf time.Time) *decimal.Decimal {
	if r.rates == nil || r.defaultCurrency == "" {
		return nil
	}

	rate, err := r.rates.Rate(ctx, currency, r.defaultCurrency, asOf)
	if err != nil {
		r.logger.Warn("Currency conversion unavailable",
			"from", currency,
			"to", r.defaultCurrency,
			"error", err)
		return nil
	}

	converted := amount.Mul(rate).Round(2)
	return &converted
}

// AccountLockKey is the shared lock-set key serializing balance replays of
// one account, across both the manual entry path and the sync path.
func AccountLockKey(accountID string) string {
	return "account:" + accountID
}
