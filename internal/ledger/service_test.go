package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/groups"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/service"
)

func newTestService(t *testing.T) (*Service, service.Store) {
	t.Helper()
	store := newTestStore(t)
	recalc := newTestRecalculator(store, nil)
	return NewService(store, recalc, groups.New(store)), store
}

func TestService_AddTransaction(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account := mustAccount(t, store, "USD", decimal.RequireFromString("100.00"))

	txn, err := svc.AddTransaction(ctx, "user1", account.ID,
		decimal.RequireFromString("-25.00"), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		"Groceries", "food")
	require.NoError(t, err)

	assert.Equal(t, "Groceries", txn.Name)
	assert.Equal(t, "food", txn.CategoryID)
	assert.True(t, txn.AccountBalance.Equal(decimal.RequireFromString("75.00")), "got %s", txn.AccountBalance)
	assert.False(t, txn.IsProviderOwned())
}

func TestService_AddTransaction_UnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AddTransaction(context.Background(), "user1", "nope",
		decimal.Zero, time.Now(), "X", "")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestService_UpdateTransaction_RejectsProviderOwned(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account := mustAccount(t, store, "USD", decimal.Zero)
	txn := mustTxn(t, store, account.ID, "synced-1", "-10.00", time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	txn.ExternalID = "ext-1"
	// Recreate with the external id set.
	require.NoError(t, store.DeleteTransaction(ctx, txn.ID))
	require.NoError(t, store.CreateTransaction(ctx, txn))

	name := "edited"
	_, err := svc.UpdateTransaction(ctx, "user1", txn.ID, TransactionUpdate{Name: &name})
	assert.ErrorIs(t, err, common.ErrForbidden)

	assert.ErrorIs(t, svc.DeleteTransaction(ctx, "user1", txn.ID), common.ErrForbidden)
}

func TestService_UpdateTransaction_BackdateReplaysBothPositions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account := mustAccount(t, store, "USD", decimal.RequireFromString("50.00"))
	t1 := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC)

	early := mustTxn(t, store, account.ID, "early", "-10.00", t1)
	late := mustTxn(t, store, account.ID, "late", "-5.00", t2)
	recalc := newTestRecalculator(store, nil)
	require.NoError(t, recalc.Recompute(ctx, account.ID, nil))

	// Move the late transaction before the early one.
	newTS := t1.AddDate(0, 0, -5)
	updated, err := svc.UpdateTransaction(ctx, "user1", late.ID, TransactionUpdate{Timestamp: &newTS})
	require.NoError(t, err)
	assert.True(t, updated.AccountBalance.Equal(decimal.RequireFromString("45.00")), "got %s", updated.AccountBalance)

	assert.True(t, balanceOf(t, store, early.ID).Equal(decimal.RequireFromString("35.00")))
}

func TestService_DeleteTransaction_DissolvesPair(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account := mustAccount(t, store, "USD", decimal.Zero)
	t1 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	a := mustTxn(t, store, account.ID, "leg-a", "-100.00", t1)
	b := mustTxn(t, store, account.ID, "leg-b", "100.00", t1)

	engine := groups.New(store)
	group, err := engine.Pair(ctx, "user1", a.ID, b.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, "user1", a.ID))

	// One member left: the group is gone and the survivor released.
	_, err = store.GetGroup(ctx, "user1", group.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	survivor, err := store.GetTransaction(ctx, "user1", b.ID)
	require.NoError(t, err)
	assert.Empty(t, survivor.GroupID)
}

func TestService_ResetToProviderData(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account := mustAccount(t, store, "USD", decimal.RequireFromString("100.00"))

	raw, err := json.Marshal(map[string]any{
		"transaction_id": "ext-reset",
		"account_id":     "pa1",
		"amount":         12.34,
		"name":           "POS COFFEE SHOP 1234",
		"pending":        false,
		"date":           "2025-05-10",
	})
	require.NoError(t, err)

	txn := model.NewTransaction(account.ID, decimal.RequireFromString("-12.34"),
		time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), "COFFEE SHOP")
	txn.ExternalID = "ext-reset"
	txn.RawPayload = raw
	require.NoError(t, store.CreateTransaction(ctx, txn))

	// User edits drift the row away from provider data.
	txn.Name = "renamed by hand"
	txn.Amount = decimal.RequireFromString("-99.99")
	require.NoError(t, store.UpdateTransaction(ctx, txn))

	restored, err := svc.ResetToProviderData(ctx, "user1", txn.ID)
	require.NoError(t, err)

	assert.Equal(t, "POS COFFEE SHOP 1234", restored.Name)
	assert.True(t, restored.Amount.Equal(decimal.RequireFromString("-12.34")), "got %s", restored.Amount)
	assert.True(t, restored.AccountBalance.Equal(decimal.RequireFromString("87.66")), "got %s", restored.AccountBalance)
}

func TestService_ResetToProviderData_RejectsManualRows(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account := mustAccount(t, store, "USD", decimal.Zero)
	txn := mustTxn(t, store, account.ID, "manual-1", "-1.00", time.Date(2025, 5, 11, 0, 0, 0, 0, time.UTC))

	_, err := svc.ResetToProviderData(ctx, "user1", txn.ID)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestService_ImportTransactions_SkipsDuplicates(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account := mustAccount(t, store, "USD", decimal.RequireFromString("10.00"))
	rows := []model.Transaction{
		{Amount: decimal.RequireFromString("-3.00"), Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Name: "A", ExternalID: "fit-1"},
		{Amount: decimal.RequireFromString("-4.00"), Timestamp: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), Name: "B", ExternalID: "fit-2"},
	}

	stats, err := svc.ImportTransactions(ctx, "user1", account.ID, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Imported)
	assert.Equal(t, 0, stats.Skipped)

	// Re-importing the overlapping statement is a no-op.
	stats, err = svc.ImportTransactions(ctx, "user1", account.ID, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Imported)
	assert.Equal(t, 2, stats.Skipped)

	txns, err := store.ListTransactions(ctx, "user1", service.TransactionFilter{AccountID: account.ID})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}
