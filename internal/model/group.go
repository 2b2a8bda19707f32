package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionGroup aggregates related transactions into one user-visible
// movement, such as a transfer pair or a purchase and its refund. A group
// represents two or more transactions or does not exist: membership dropping
// below two dissolves the group.
type TransactionGroup struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

// GroupSummary is the derived, read-only view of a group.
type GroupSummary struct {
	ID   string
	Name string

	// Timestamp is the earliest member timestamp.
	Timestamp time.Time

	// AmountDefault is the sum of member amounts in the user's default
	// currency.
	AmountDefault decimal.Decimal

	// CategoryID is the majority category across members; empty when no
	// member carries a category.
	CategoryID string

	Members int
}
