// Package syncer orchestrates cursor-based transaction sync between the
// aggregation provider and the ledger store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/groups"
	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/normalize"
	"github.com/tallyhq/tally/internal/provider"
	"github.com/tallyhq/tally/internal/service"
)

// Orchestrator drives the sync loop: fetch a delta page, apply it together
// with its balance replays and the advanced cursor in one database
// transaction, repeat while the provider reports more. At most one sync
// runs per link.
type Orchestrator struct {
	store    service.Store
	provider provider.Client
	recalc   *ledger.Recalculator
	locks    *common.KeyedMutex
	logger   *slog.Logger
}

// NewOrchestrator creates a sync orchestrator. The lock set is shared with
// the balance recalculator so account replays serialize across both paths.
func NewOrchestrator(store service.Store, client provider.Client, recalc *ledger.Recalculator, locks *common.KeyedMutex) *Orchestrator {
	return &Orchestrator{
		store:    store,
		provider: client,
		recalc:   recalc,
		locks:    locks,
		logger:   slog.Default().With("component", "syncer"),
	}
}

// Stats summarizes one sync pass.
type Stats struct {
	Pages    int
	Added    int
	Modified int
	Removed  int
	Skipped  int
	Cursor   string
}

// Sync runs a full sync pass for one institution link. A concurrent sync
// on the same link returns ErrSyncInProgress. Each provider page is
// applied atomically with its cursor, so a failure or cancellation between
// pages leaves a valid, resumable state.
func (o *Orchestrator) Sync(ctx context.Context, userID, linkID string) (*Stats, error) {
	link, err := o.store.GetLink(ctx, userID, linkID)
	if err != nil {
		return nil, err
	}

	if !o.locks.TryLock(linkLockKey(linkID)) {
		return nil, fmt.Errorf("link %s: %w", linkID, common.ErrSyncInProgress)
	}
	defer o.locks.Unlock(linkLockKey(linkID))

	stats := &Stats{}
	cursor := link.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		delta, err := o.provider.SyncTransactions(ctx, link.AccessToken, cursor)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch delta for link %s: %w", linkID, err)
		}

		if err := o.applyDelta(ctx, link, delta, stats); err != nil {
			return stats, err
		}
		stats.Pages++
		stats.Cursor = delta.NextCursor

		if !delta.HasMore {
			break
		}
		cursor = &delta.NextCursor
	}

	o.logger.Info("Sync complete",
		"link_id", linkID,
		"pages", stats.Pages,
		"added", stats.Added,
		"modified", stats.Modified,
		"removed", stats.Removed,
		"skipped", stats.Skipped)

	return stats, nil
}

// applyDelta applies one provider page, the balance replays it forces, and
// the advanced cursor inside a single database transaction: a page either
// lands whole, with correct balances, or not at all.
//
// The link's account locks are taken before the transaction opens and held
// until it resolves. Lock-then-transact is the ordering every replay path
// follows, so the sync and manual entry paths cannot deadlock.
func (o *Orchestrator) applyDelta(ctx context.Context, link *model.InstitutionLink, delta *provider.Delta, stats *Stats) error {
	unlock, err := o.lockLinkAccounts(ctx, link.ID)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	engine := groups.New(tx)
	touched := make(map[string]time.Time)

	for _, rec := range delta.Added {
		applied, ts, accountID, err := o.applyAdd(ctx, tx, link, rec)
		if err != nil {
			return err
		}
		if applied {
			stats.Added++
			touch(touched, accountID, ts)
		} else {
			stats.Skipped++
		}
	}

	for _, rec := range delta.Modified {
		existing, err := tx.GetTransactionByExternalID(ctx, link.ID, rec.ExternalID)
		if errors.Is(err, common.ErrNotFound) {
			// A modification for a record never seen: apply it as an add.
			applied, ts, accountID, err := o.applyAdd(ctx, tx, link, rec)
			if err != nil {
				return err
			}
			if applied {
				stats.Added++
				touch(touched, accountID, ts)
			} else {
				stats.Skipped++
			}
			continue
		}
		if err != nil {
			return err
		}

		restored, err := normalize.Normalize(rec, link.Pattern)
		if err != nil {
			return err
		}

		// In-place update: identity, account, group membership, and
		// category survive; the provider-derived fields are replaced.
		replayFrom := existing.Timestamp
		existing.Amount = restored.Amount
		existing.Timestamp = restored.Timestamp
		existing.Name = restored.Name
		existing.RawPayload = restored.RawPayload
		existing.AmountDefault = nil
		if err := tx.UpdateTransaction(ctx, existing); err != nil {
			return err
		}
		stats.Modified++
		touch(touched, existing.AccountID, replayFrom)
		touch(touched, existing.AccountID, restored.Timestamp)
	}

	for _, externalID := range delta.Removed {
		existing, err := tx.GetTransactionByExternalID(ctx, link.ID, externalID)
		if errors.Is(err, common.ErrNotFound) {
			o.logger.Warn("Provider removed an unknown transaction", "external_id", externalID)
			continue
		}
		if err != nil {
			return err
		}

		if err := tx.DeleteTransaction(ctx, existing.ID); err != nil {
			return err
		}
		if existing.GroupID != "" {
			if err := engine.Enforce(ctx, existing.GroupID); err != nil {
				return err
			}
		}
		stats.Removed++
		touch(touched, existing.AccountID, existing.Timestamp)
	}

	if err := o.replayTouched(ctx, tx, touched); err != nil {
		return err
	}

	// An empty next cursor carries no position to advance to.
	if delta.NextCursor != "" {
		if err := tx.UpdateLinkCursor(ctx, link.ID, delta.NextCursor); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync page: %w", err)
	}
	return nil
}

// lockLinkAccounts acquires the replay locks of every account under the
// link, in sorted order. The caller holds them across the page transaction.
func (o *Orchestrator) lockLinkAccounts(ctx context.Context, linkID string) (func(), error) {
	accounts, err := o.store.ListAccountsByLink(ctx, linkID)
	if err != nil {
		return nil, err
	}

	accountIDs := make([]string, 0, len(accounts))
	for i := range accounts {
		accountIDs = append(accountIDs, accounts[i].ID)
	}
	sort.Strings(accountIDs)

	for _, accountID := range accountIDs {
		o.locks.Lock(ledger.AccountLockKey(accountID))
	}
	return func() {
		for _, accountID := range accountIDs {
			o.locks.Unlock(ledger.AccountLockKey(accountID))
		}
	}, nil
}

// replayTouched replays balances for every touched account inside the open
// transaction, each from its minimum touched timestamp.
func (o *Orchestrator) replayTouched(ctx context.Context, tx service.Tx, touched map[string]time.Time) error {
	accountIDs := make([]string, 0, len(touched))
	for accountID := range touched {
		accountIDs = append(accountIDs, accountID)
	}
	sort.Strings(accountIDs)

	for _, accountID := range accountIDs {
		from := touched[accountID]
		if err := o.recalc.RecomputeIn(ctx, tx, accountID, &from); err != nil {
			return fmt.Errorf("failed to recompute account %s: %w", accountID, err)
		}
	}
	return nil
}

// applyAdd normalizes and inserts one added record. A duplicate external
// identifier means the page was already applied (a retried sync); the
// record is logged and skipped, never fatal.
func (o *Orchestrator) applyAdd(ctx context.Context, tx service.Tx, link *model.InstitutionLink, rec provider.Record) (bool, time.Time, string, error) {
	account, err := tx.GetAccountByProviderID(ctx, link.ID, rec.ProviderAccountID)
	if errors.Is(err, common.ErrNotFound) {
		o.logger.Warn("Skipping transaction on unknown provider account",
			"link_id", link.ID,
			"provider_account_id", rec.ProviderAccountID)
		return false, time.Time{}, "", nil
	}
	if err != nil {
		return false, time.Time{}, "", err
	}

	txn, err := normalize.Normalize(rec, link.Pattern)
	if err != nil {
		return false, time.Time{}, "", err
	}
	txn.ID = uuid.NewString()
	txn.AccountID = account.ID

	if err := tx.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, common.ErrDuplicate) {
			o.logger.Info("Skipping duplicate transaction", "external_id", rec.ExternalID)
			return false, time.Time{}, "", nil
		}
		return false, time.Time{}, "", err
	}
	return true, txn.Timestamp, account.ID, nil
}

// Backfill fetches a historical date range page by page and inserts any
// transactions the cursor feed never delivered. The link's cursor is not
// touched. Existing rows are skipped by external identifier.
func (o *Orchestrator) Backfill(ctx context.Context, userID, linkID string, start, end time.Time) (*Stats, error) {
	link, err := o.store.GetLink(ctx, userID, linkID)
	if err != nil {
		return nil, err
	}

	if !o.locks.TryLock(linkLockKey(linkID)) {
		return nil, fmt.Errorf("link %s: %w", linkID, common.ErrSyncInProgress)
	}
	defer o.locks.Unlock(linkLockKey(linkID))

	stats := &Stats{}
	var offset int32
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		page, err := o.provider.ListTransactions(ctx, link.AccessToken, start, end, offset)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch range for link %s: %w", linkID, err)
		}
		if len(page.Items) == 0 {
			break
		}

		delta := &provider.Delta{Added: page.Items}
		if err := o.applyBackfillPage(ctx, link, delta, stats); err != nil {
			return stats, err
		}
		stats.Pages++

		offset += int32(len(page.Items))
		if offset >= page.Total {
			break
		}
	}

	o.logger.Info("Backfill complete",
		"link_id", linkID,
		"pages", stats.Pages,
		"added", stats.Added,
		"skipped", stats.Skipped)

	return stats, nil
}

func (o *Orchestrator) applyBackfillPage(ctx context.Context, link *model.InstitutionLink, delta *provider.Delta, stats *Stats) error {
	unlock, err := o.lockLinkAccounts(ctx, link.ID)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	touched := make(map[string]time.Time)
	for _, rec := range delta.Added {
		applied, ts, accountID, err := o.applyAdd(ctx, tx, link, rec)
		if err != nil {
			return err
		}
		if applied {
			stats.Added++
			touch(touched, accountID, ts)
		} else {
			stats.Skipped++
		}
	}

	if err := o.replayTouched(ctx, tx, touched); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit backfill page: %w", err)
	}
	return nil
}

// HandleWebhook reacts to a provider "updates available" notification. The
// webhook is only a trigger; it carries no transaction data, so the
// response is simply a sync pass.
func (o *Orchestrator) HandleWebhook(ctx context.Context, userID, linkID string) (*Stats, error) {
	o.logger.Info("Webhook received", "link_id", linkID)
	return o.Sync(ctx, userID, linkID)
}

func touch(touched map[string]time.Time, accountID string, ts time.Time) {
	if existing, ok := touched[accountID]; !ok || ts.Before(existing) {
		touched[accountID] = ts
	}
}

// linkLockKey is the lock-set key enforcing at most one sync per link.
func linkLockKey(linkID string) string {
	return "link:" + linkID
}
