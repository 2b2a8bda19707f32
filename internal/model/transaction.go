package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is a single monetary movement on an account. Amounts use the
// credit-positive convention: money in is positive, money out is negative.
type Transaction struct {
	ID        string
	AccountID string
	Amount    decimal.Decimal
	Timestamp time.Time
	Name      string

	// CategoryID is an optional reference to a user-defined category.
	CategoryID string

	// AccountBalance is the running account balance as of this transaction.
	// It is denormalized and recomputed by the balance recalculator after
	// every write that can shift balances.
	AccountBalance decimal.Decimal

	// AmountDefault is the amount converted to the user's default currency
	// at this transaction's timestamp. Nil when conversion was unavailable
	// at write time.
	AmountDefault *decimal.Decimal

	// ExternalID is the provider's transaction identifier. It is set iff
	// the transaction was sourced from the aggregation provider, and is
	// unique across all transactions.
	ExternalID string

	// RawPayload is the provider-native record stored verbatim. It backs
	// the reset-to-provider-data operation.
	RawPayload []byte

	// GroupID is the transaction's movement membership, if any.
	GroupID string

	CreatedAt time.Time
}

// NewTransaction creates a transaction with a fresh identifier.
func NewTransaction(accountID string, amount decimal.Decimal, timestamp time.Time, name string) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Timestamp: timestamp,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// IsProviderOwned reports whether the transaction came from the aggregation
// provider. Provider-owned rows reject direct edits.
func (t *Transaction) IsProviderOwned() bool {
	return t.ExternalID != ""
}
