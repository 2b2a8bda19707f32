package syncer

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
	"github.com/tallyhq/tally/internal/groups"
	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/provider"
	"github.com/tallyhq/tally/internal/service"
	"github.com/tallyhq/tally/internal/storage"
)

type testEnv struct {
	store   service.Store
	mock    *provider.MockClient
	orch    *Orchestrator
	locks   *common.KeyedMutex
	link    *model.InstitutionLink
	account *model.Account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	link := &model.InstitutionLink{
		ID:              uuid.NewString(),
		UserID:          "user1",
		InstitutionName: "Test Bank",
		ProviderItemID:  "item-1",
		AccessToken:     "access-1",
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.CreateLink(ctx, link))

	account := model.NewInstitutionalAccount(link.ID, "pa1", "Checking", "USD",
		model.SubtypeDepository, decimal.RequireFromString("100.00"))
	require.NoError(t, store.CreateAccount(ctx, account))

	locks := common.NewKeyedMutex()
	recalc := ledger.NewRecalculator(store, nil, locks, "USD")
	mock := provider.NewMockClient()

	return &testEnv{
		store:   store,
		mock:    mock,
		orch:    NewOrchestrator(store, mock, recalc, locks),
		locks:   locks,
		link:    link,
		account: account,
	}
}

func record(externalID, amount string, date time.Time) provider.Record {
	return provider.Record{
		ExternalID:        externalID,
		ProviderAccountID: "pa1",
		Amount:            decimal.RequireFromString(amount),
		Name:              "PROVIDER " + externalID,
		Currency:          "USD",
		Date:              date,
	}
}

func scriptDeltas(mock *provider.MockClient, deltas ...*provider.Delta) {
	i := 0
	mock.SyncTransactionsFn = func(_ context.Context, _ string, _ *string) (*provider.Delta, error) {
		if i >= len(deltas) {
			return &provider.Delta{NextCursor: "exhausted"}, nil
		}
		d := deltas[i]
		i++
		return d, nil
	}
}

func TestOrchestrator_SyncAddsTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t1 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC)
	scriptDeltas(env.mock, &provider.Delta{
		Added:      []provider.Record{record("ext-1", "30.00", t1), record("ext-2", "-50.00", t2)},
		NextCursor: "cursor-1",
	})

	stats, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, "cursor-1", stats.Cursor)

	// Provider debits become negative ledger amounts, and balances are
	// replayed from the initial balance.
	txn, err := env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-1")
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("-30.00")), "got %s", txn.Amount)
	assert.True(t, txn.AccountBalance.Equal(decimal.RequireFromString("70.00")), "got %s", txn.AccountBalance)

	txn, err = env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-2")
	require.NoError(t, err)
	assert.True(t, txn.AccountBalance.Equal(decimal.RequireFromString("120.00")), "got %s", txn.AccountBalance)

	// The cursor advanced with the batch.
	link, err := env.store.GetLink(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	require.NotNil(t, link.Cursor)
	assert.Equal(t, "cursor-1", *link.Cursor)
}

func TestOrchestrator_SyncIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t1 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	delta := &provider.Delta{
		Added:      []provider.Record{record("ext-1", "25.00", t1)},
		NextCursor: "cursor-1",
	}
	scriptDeltas(env.mock, delta, delta)

	_, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)

	// A retried sync of the same delta skips the duplicate and leaves the
	// ledger unchanged.
	stats, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 1, stats.Skipped)

	txns, err := env.store.ListTransactions(ctx, "user1", service.TransactionFilter{AccountID: env.account.ID})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, txns[0].AccountBalance.Equal(decimal.RequireFromString("75.00")), "got %s", txns[0].AccountBalance)
}

func TestOrchestrator_SyncPagesUntilDone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t1 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	scriptDeltas(env.mock,
		&provider.Delta{Added: []provider.Record{record("ext-1", "10.00", t1)}, NextCursor: "page-1", HasMore: true},
		&provider.Delta{Added: []provider.Record{record("ext-2", "20.00", t1.AddDate(0, 0, 1))}, NextCursor: "page-2"},
	)

	stats, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, "page-2", stats.Cursor)

	// The second fetch carried the first page's cursor.
	require.Len(t, env.mock.SyncCalls, 2)
	assert.Nil(t, env.mock.SyncCalls[0].Cursor)
	require.NotNil(t, env.mock.SyncCalls[1].Cursor)
	assert.Equal(t, "page-1", *env.mock.SyncCalls[1].Cursor)
}

func TestOrchestrator_SyncModifiesInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t1 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	scriptDeltas(env.mock,
		&provider.Delta{Added: []provider.Record{record("ext-1", "10.00", t1)}, NextCursor: "c1"},
		&provider.Delta{Modified: []provider.Record{record("ext-1", "15.00", t1)}, NextCursor: "c2"},
	)

	_, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)

	before, err := env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-1")
	require.NoError(t, err)

	// Group the transaction, then sync the modification.
	other := model.NewTransaction(env.account.ID, decimal.RequireFromString("10.00"), t1, "OTHER")
	require.NoError(t, env.store.CreateTransaction(ctx, other))
	engine := groups.New(env.store)
	group, err := engine.Pair(ctx, "user1", before.ID, other.ID)
	require.NoError(t, err)

	stats, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Modified)

	after, err := env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "identity survives provider edits")
	assert.Equal(t, group.ID, after.GroupID, "group membership survives provider edits")
	assert.True(t, after.Amount.Equal(decimal.RequireFromString("-15.00")), "got %s", after.Amount)
}

func TestOrchestrator_SyncRemovalDissolvesPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t1 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	scriptDeltas(env.mock,
		&provider.Delta{Added: []provider.Record{record("ext-1", "-40.00", t1), record("ext-2", "40.00", t1)}, NextCursor: "c1"},
		&provider.Delta{Removed: []string{"ext-1"}, NextCursor: "c2"},
	)

	_, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)

	a, err := env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-1")
	require.NoError(t, err)
	b, err := env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-2")
	require.NoError(t, err)
	engine := groups.New(env.store)
	group, err := engine.Pair(ctx, "user1", a.ID, b.ID)
	require.NoError(t, err)

	stats, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	_, err = env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// The two-member group lost a leg and dissolved with it.
	_, err = env.store.GetGroup(ctx, "user1", group.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	survivor, err := env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-2")
	require.NoError(t, err)
	assert.Empty(t, survivor.GroupID)
}

func TestOrchestrator_AuthErrorLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mock.SyncTransactionsFn = func(_ context.Context, _ string, _ *string) (*provider.Delta, error) {
		return nil, common.ErrAuthExpired
	}

	_, err := env.orch.Sync(ctx, "user1", env.link.ID)
	assert.ErrorIs(t, err, common.ErrAuthExpired)

	link, err := env.store.GetLink(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	assert.Nil(t, link.Cursor)

	txns, err := env.store.ListTransactions(ctx, "user1", service.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestOrchestrator_ConcurrentSyncRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.locks.Lock("link:" + env.link.ID)
	defer env.locks.Unlock("link:" + env.link.ID)

	_, err := env.orch.Sync(ctx, "user1", env.link.ID)
	assert.ErrorIs(t, err, common.ErrSyncInProgress)
}

func TestOrchestrator_SyncUnknownLink(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.Sync(context.Background(), "user1", uuid.NewString())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOrchestrator_Backfill(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	env.mock.ListTransactionsFn = func(_ context.Context, _ string, _, _ time.Time, offset int32) (*provider.Page, error) {
		if offset > 0 {
			return &provider.Page{Total: 2}, nil
		}
		return &provider.Page{
			Items: []provider.Record{record("hist-1", "5.00", t1), record("hist-2", "7.00", t1.AddDate(0, 0, 1))},
			Total: 2,
		}, nil
	}

	stats, err := env.orch.Backfill(ctx, "user1", env.link.ID, t1.AddDate(0, 0, -30), t1.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)

	// Backfill never touches the cursor.
	link, err := env.store.GetLink(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	assert.Nil(t, link.Cursor)
}

// balanceWriteLog records which store handle balance writes went through.
type balanceWriteLog struct {
	insideTx  int
	outsideTx int
}

type recordingStore struct {
	service.Store
	log *balanceWriteLog
}

func (s *recordingStore) BeginTx(ctx context.Context) (service.Tx, error) {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingTx{Tx: tx, log: s.log}, nil
}

func (s *recordingStore) SetTransactionBalance(ctx context.Context, id string, balance decimal.Decimal, amountDefault *decimal.Decimal) error {
	s.log.outsideTx++
	return s.Store.SetTransactionBalance(ctx, id, balance, amountDefault)
}

type recordingTx struct {
	service.Tx
	log *balanceWriteLog
}

func (t *recordingTx) SetTransactionBalance(ctx context.Context, id string, balance decimal.Decimal, amountDefault *decimal.Decimal) error {
	t.log.insideTx++
	return t.Tx.SetTransactionBalance(ctx, id, balance, amountDefault)
}

func TestOrchestrator_BalancesCommitWithPage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	log := &balanceWriteLog{}
	wrapped := &recordingStore{Store: env.store, log: log}
	recalc := ledger.NewRecalculator(wrapped, nil, env.locks, "USD")
	orch := NewOrchestrator(wrapped, env.mock, recalc, env.locks)

	t1 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	scriptDeltas(env.mock, &provider.Delta{
		Added:      []provider.Record{record("ext-1", "30.00", t1), record("ext-2", "-50.00", t1.AddDate(0, 0, 1))},
		NextCursor: "cursor-1",
	})

	_, err := orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)

	// Balances are replayed inside the page transaction, never after its
	// commit: the page, its balances, and its cursor land together.
	assert.Equal(t, 2, log.insideTx)
	assert.Zero(t, log.outsideTx)

	txn, err := env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-2")
	require.NoError(t, err)
	assert.True(t, txn.AccountBalance.Equal(decimal.RequireFromString("120.00")), "got %s", txn.AccountBalance)
}

func TestOrchestrator_EmptyNextCursorIsNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t1 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	scriptDeltas(env.mock,
		&provider.Delta{Added: []provider.Record{record("ext-1", "10.00", t1)}, NextCursor: "c1"},
		&provider.Delta{Added: []provider.Record{record("ext-2", "20.00", t1.AddDate(0, 0, 1))}},
	)

	_, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)

	stats, err := env.orch.Sync(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)

	// The page applied, but the empty cursor did not clobber the stored one.
	_, err = env.store.GetTransactionByExternalID(ctx, env.link.ID, "ext-2")
	require.NoError(t, err)

	link, err := env.store.GetLink(ctx, "user1", env.link.ID)
	require.NoError(t, err)
	require.NotNil(t, link.Cursor)
	assert.Equal(t, "c1", *link.Cursor)
}
