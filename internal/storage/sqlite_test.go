package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func createTestLink(t *testing.T, store *SQLiteStorage, userID string) *model.InstitutionLink {
	t.Helper()
	link := &model.InstitutionLink{
		ID:              uuid.NewString(),
		UserID:          userID,
		InstitutionName: "Test Bank",
		ProviderItemID:  uuid.NewString(),
		AccessToken:     "access-" + uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.CreateLink(context.Background(), link))
	return link
}

func createTestManualAccount(t *testing.T, store *SQLiteStorage, userID string, initial decimal.Decimal) *model.Account {
	t.Helper()
	account := model.NewManualAccount(userID, "Wallet", "USD", model.SubtypeCash, initial)
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func TestSQLiteStorage_AccountLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	account := createTestManualAccount(t, store, "user1", decimal.RequireFromString("100.00"))

	got, err := store.GetAccount(ctx, "user1", account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Name, got.Name)
	assert.Equal(t, "USD", got.Currency)
	assert.True(t, got.InitialBalance.Equal(decimal.RequireFromString("100.00")))
	require.NotNil(t, got.Manual)
	assert.Nil(t, got.Institutional)
	assert.Equal(t, "user1", got.Manual.UserID)

	got.Name = "Cash Wallet"
	require.NoError(t, store.UpdateAccount(ctx, "user1", got))
	got, err = store.GetAccount(ctx, "user1", account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cash Wallet", got.Name)

	require.NoError(t, store.DeleteAccount(ctx, "user1", account.ID))
	_, err = store.GetAccount(ctx, "user1", account.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_InstitutionalAccount(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	link := createTestLink(t, store, "user1")
	account := model.NewInstitutionalAccount(link.ID, "provider-acc-1", "Checking", "USD",
		model.SubtypeDepository, decimal.Zero)
	require.NoError(t, store.CreateAccount(ctx, account))

	// Ownership resolves through the link.
	got, err := store.GetAccount(ctx, "user1", account.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Institutional)
	assert.Equal(t, link.ID, got.Institutional.LinkID)

	byProvider, err := store.GetAccountByProviderID(ctx, link.ID, "provider-acc-1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byProvider.ID)

	// Deleting the link cascades to its accounts.
	require.NoError(t, store.DeleteLink(ctx, "user1", link.ID))
	_, err = store.GetAccount(ctx, "user1", account.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_OwnershipIsolation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	account := createTestManualAccount(t, store, "alice", decimal.Zero)

	// Another user cannot see, update, or delete the account.
	_, err := store.GetAccount(ctx, "mallory", account.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	account.Name = "hijacked"
	assert.ErrorIs(t, store.UpdateAccount(ctx, "mallory", account), common.ErrNotFound)
	assert.ErrorIs(t, store.DeleteAccount(ctx, "mallory", account.ID), common.ErrNotFound)

	accounts, err := store.ListAccounts(ctx, "mallory")
	require.NoError(t, err)
	assert.Empty(t, accounts)

	accounts, err = store.ListAccounts(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestSQLiteStorage_TransactionOwnershipThroughLink(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	link := createTestLink(t, store, "alice")
	account := model.NewInstitutionalAccount(link.ID, "pa1", "Checking", "USD",
		model.SubtypeDepository, decimal.Zero)
	require.NoError(t, store.CreateAccount(ctx, account))

	txn := model.NewTransaction(account.ID, decimal.RequireFromString("-12.50"),
		time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), "COFFEE")
	require.NoError(t, store.CreateTransaction(ctx, txn))

	got, err := store.GetTransaction(ctx, "alice", txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "COFFEE", got.Name)

	_, err = store.GetTransaction(ctx, "mallory", txn.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_ListAccountsByLink(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	link := createTestLink(t, store, "alice")
	checking := model.NewInstitutionalAccount(link.ID, "pa1", "Checking", "USD",
		model.SubtypeDepository, decimal.Zero)
	savings := model.NewInstitutionalAccount(link.ID, "pa2", "Savings", "USD",
		model.SubtypeDepository, decimal.Zero)
	require.NoError(t, store.CreateAccount(ctx, checking))
	require.NoError(t, store.CreateAccount(ctx, savings))

	// A manual account and another link's account stay out of the listing.
	createTestManualAccount(t, store, "alice", decimal.Zero)
	other := createTestLink(t, store, "alice")
	foreign := model.NewInstitutionalAccount(other.ID, "pa1", "Other Checking", "USD",
		model.SubtypeDepository, decimal.Zero)
	require.NoError(t, store.CreateAccount(ctx, foreign))

	accounts, err := store.ListAccountsByLink(ctx, link.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	for _, a := range accounts {
		require.NotNil(t, a.Institutional)
		assert.Equal(t, link.ID, a.Institutional.LinkID)
	}
}
