package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/normalize"
	"github.com/tallyhq/tally/internal/service"
)

// GroupEnforcer re-evaluates a group after a membership change and
// dissolves it when fewer than two members remain.
type GroupEnforcer interface {
	Enforce(ctx context.Context, groupID string) error
}

// Service is the manual entry path: user-created transactions, edits,
// deletes, file imports, and reset-to-provider-data. Every mutation
// holds the account lock and replays balances before releasing it.
type Service struct {
	store  service.Store
	recalc *Recalculator
	groups GroupEnforcer
	logger *slog.Logger
}

// NewService creates a manual entry service.
func NewService(store service.Store, recalc *Recalculator, groups GroupEnforcer) *Service {
	return &Service{
		store:  store,
		recalc: recalc,
		groups: groups,
		logger: slog.Default().With("component", "ledger"),
	}
}

// TransactionUpdate holds the user-editable transaction fields. Nil fields
// are left unchanged.
type TransactionUpdate struct {
	Amount     *decimal.Decimal
	Timestamp  *time.Time
	Name       *string
	CategoryID *string
}

// AddTransaction creates a user-entered transaction on an owned account.
func (s *Service) AddTransaction(ctx context.Context, userID, accountID string, amount decimal.Decimal, timestamp time.Time, name, categoryID string) (*model.Transaction, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: transaction name is required", common.ErrValidation)
	}
	if _, err := s.store.GetAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}

	txn := model.NewTransaction(accountID, amount, timestamp.UTC(), name)
	txn.CategoryID = categoryID

	s.recalc.locks.Lock(AccountLockKey(accountID))
	defer s.recalc.locks.Unlock(AccountLockKey(accountID))

	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.recalc.replay(ctx, s.store, accountID, &txn.Timestamp); err != nil {
		return nil, err
	}

	s.logger.Info("Added transaction",
		"transaction_id", txn.ID,
		"account_id", accountID,
		"amount", amount)

	return s.store.GetTransaction(ctx, userID, txn.ID)
}

// UpdateTransaction edits a user-entered transaction. Provider-owned rows
// reject direct edits; use ResetToProviderData to restore them instead.
func (s *Service) UpdateTransaction(ctx context.Context, userID, id string, upd TransactionUpdate) (*model.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if txn.IsProviderOwned() {
		return nil, fmt.Errorf("%w: transaction %s is provider-sourced", common.ErrForbidden, id)
	}

	// Replay must cover the transaction's old position as well as its new
	// one, so the cutoff is the earlier of the two timestamps.
	replayFrom := txn.Timestamp
	if upd.Amount != nil {
		txn.Amount = *upd.Amount
		txn.AmountDefault = nil
	}
	if upd.Timestamp != nil {
		txn.Timestamp = upd.Timestamp.UTC()
		txn.AmountDefault = nil
		if txn.Timestamp.Before(replayFrom) {
			replayFrom = txn.Timestamp
		}
	}
	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, fmt.Errorf("%w: transaction name is required", common.ErrValidation)
		}
		txn.Name = *upd.Name
	}
	if upd.CategoryID != nil {
		txn.CategoryID = *upd.CategoryID
	}

	s.recalc.locks.Lock(AccountLockKey(txn.AccountID))
	defer s.recalc.locks.Unlock(AccountLockKey(txn.AccountID))

	if err := s.store.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.recalc.replay(ctx, s.store, txn.AccountID, &replayFrom); err != nil {
		return nil, err
	}

	return s.store.GetTransaction(ctx, userID, id)
}

// DeleteTransaction removes a user-entered transaction, re-evaluating its
// former group and replaying balances from its position.
func (s *Service) DeleteTransaction(ctx context.Context, userID, id string) error {
	txn, err := s.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return err
	}
	if txn.IsProviderOwned() {
		return fmt.Errorf("%w: transaction %s is provider-sourced", common.ErrForbidden, id)
	}

	s.recalc.locks.Lock(AccountLockKey(txn.AccountID))
	defer s.recalc.locks.Unlock(AccountLockKey(txn.AccountID))

	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	if txn.GroupID != "" {
		if err := s.groups.Enforce(ctx, txn.GroupID); err != nil {
			return err
		}
	}

	return s.recalc.replay(ctx, s.store, txn.AccountID, &txn.Timestamp)
}

// ResetToProviderData discards user edits on a provider-sourced transaction
// by re-normalizing its stored raw payload, applying the owning link's
// current replacement pattern. Group and category assignments survive.
func (s *Service) ResetToProviderData(ctx context.Context, userID, id string) (*model.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !txn.IsProviderOwned() {
		return nil, fmt.Errorf("%w: transaction %s has no provider data", common.ErrValidation, id)
	}

	account, err := s.store.GetAccount(ctx, userID, txn.AccountID)
	if err != nil {
		return nil, err
	}

	var pattern *model.ReplacementPattern
	if account.Institutional != nil {
		link, err := s.store.GetLink(ctx, userID, account.Institutional.LinkID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		if link != nil {
			pattern = link.Pattern
		}
	}

	restored, err := normalize.ResetFromPayload(txn.RawPayload, pattern)
	if err != nil {
		return nil, err
	}

	replayFrom := txn.Timestamp
	if restored.Timestamp.Before(replayFrom) {
		replayFrom = restored.Timestamp
	}

	txn.Amount = restored.Amount
	txn.Timestamp = restored.Timestamp
	txn.Name = restored.Name
	txn.AmountDefault = nil

	s.recalc.locks.Lock(AccountLockKey(txn.AccountID))
	defer s.recalc.locks.Unlock(AccountLockKey(txn.AccountID))

	if err := s.store.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.recalc.replay(ctx, s.store, txn.AccountID, &replayFrom); err != nil {
		return nil, err
	}

	s.logger.Info("Reset transaction to provider data", "transaction_id", id)
	return s.store.GetTransaction(ctx, userID, id)
}

// DeleteAccount removes a manual account and its transactions. Accounts
// tied to an institution link are managed through the link and reject
// direct deletion.
func (s *Service) DeleteAccount(ctx context.Context, userID, id string) error {
	account, err := s.store.GetAccount(ctx, userID, id)
	if err != nil {
		return err
	}
	if account.Institutional != nil {
		return fmt.Errorf("%w: account %s belongs to an institution link", common.ErrForbidden, id)
	}
	return s.store.DeleteAccount(ctx, userID, id)
}

// ImportStats summarizes a file import.
type ImportStats struct {
	Imported int
	Skipped  int
}

// ImportTransactions loads parsed statement rows onto a manual account.
// Rows whose external identifier already exists are skipped, which makes
// re-importing overlapping statements safe. Balances are replayed once
// from the earliest imported timestamp.
func (s *Service) ImportTransactions(ctx context.Context, userID, accountID string, txns []model.Transaction) (*ImportStats, error) {
	account, err := s.store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if account.Institutional != nil {
		return nil, fmt.Errorf("%w: account %s is synced from its institution", common.ErrForbidden, accountID)
	}
	if len(txns) == 0 {
		return &ImportStats{}, nil
	}

	s.recalc.locks.Lock(AccountLockKey(accountID))
	defer s.recalc.locks.Unlock(AccountLockKey(accountID))

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stats := &ImportStats{}
	var earliest time.Time
	for i := range txns {
		txn := txns[i]
		txn.ID = uuid.NewString()
		txn.AccountID = accountID

		if err := tx.CreateTransaction(ctx, &txn); err != nil {
			if errors.Is(err, common.ErrDuplicate) {
				s.logger.Debug("Skipping already-imported transaction",
					"external_id", txn.ExternalID)
				stats.Skipped++
				continue
			}
			return nil, err
		}
		stats.Imported++
		if earliest.IsZero() || txn.Timestamp.Before(earliest) {
			earliest = txn.Timestamp
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}

	if stats.Imported > 0 {
		if err := s.recalc.replay(ctx, s.store, accountID, &earliest); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Imported transactions",
		"account_id", accountID,
		"imported", stats.Imported,
		"skipped", stats.Skipped)

	return stats, nil
}
