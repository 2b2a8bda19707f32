// Package service defines the interfaces shared across application services.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	AccountID string
	Start     *time.Time
	End       *time.Time
	Limit     int
	Offset    int
}

// Store defines the contract for the ledger persistence layer. Every read
// and mutation of an owned entity is scoped by the owning user, resolved
// directly or transitively through the institution link; cross-user access
// surfaces as ErrNotFound.
type Store interface {
	// Account operations
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, userID, id string) (*model.Account, error)
	GetAccountByProviderID(ctx context.Context, linkID, providerAccountID string) (*model.Account, error)
	ListAccountsByLink(ctx context.Context, linkID string) ([]model.Account, error)
	AccountCurrency(ctx context.Context, accountID string) (string, error)
	ListAccounts(ctx context.Context, userID string) ([]model.Account, error)
	UpdateAccount(ctx context.Context, userID string, account *model.Account) error
	DeleteAccount(ctx context.Context, userID, id string) error

	// Transaction operations
	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (*model.Transaction, error)
	GetTransactionByExternalID(ctx context.Context, linkID, externalID string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]model.Transaction, error)
	ListTransactionsForReplay(ctx context.Context, accountID string, from *time.Time) ([]model.Transaction, error)
	PrecedingBalance(ctx context.Context, accountID string, before time.Time) (decimal.Decimal, error)
	SetTransactionBalance(ctx context.Context, id string, balance decimal.Decimal, amountDefault *decimal.Decimal) error
	UpdateTransaction(ctx context.Context, txn *model.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	// Group operations
	CreateGroup(ctx context.Context, group *model.TransactionGroup) error
	GetGroup(ctx context.Context, userID, id string) (*model.TransactionGroup, error)
	ListGroups(ctx context.Context, userID string) ([]model.TransactionGroup, error)
	RenameGroup(ctx context.Context, userID, id, name string) error
	DeleteGroup(ctx context.Context, id string) error
	SetTransactionGroup(ctx context.Context, txnID string, groupID *string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]model.Transaction, error)
	CountGroupMembers(ctx context.Context, groupID string) (int, error)

	// Institution link operations
	CreateLink(ctx context.Context, link *model.InstitutionLink) error
	GetLink(ctx context.Context, userID, id string) (*model.InstitutionLink, error)
	ListLinks(ctx context.Context, userID string) ([]model.InstitutionLink, error)
	UpdateLinkCursor(ctx context.Context, linkID, cursor string) error
	SetLinkPattern(ctx context.Context, userID, linkID string, pattern *model.ReplacementPattern) error
	SetLinkCSVProfile(ctx context.Context, userID, linkID string, profile *model.CSVProfile) error
	DeleteLink(ctx context.Context, userID, id string) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a database transaction over the full store contract. Mutations made
// through a Tx become visible only on Commit.
type Tx interface {
	Commit() error
	Rollback() error
	Store
}

// RateSource converts between currencies at a point in time.
type RateSource interface {
	Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
