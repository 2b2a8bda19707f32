// Package provider wraps the external account-aggregation API consumed by
// the sync engine.
package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one provider-native transaction. The raw payload is preserved
// verbatim so stored transactions can be re-derived from provider data.
type Record struct {
	ExternalID        string
	ProviderAccountID string

	// Amount uses the provider convention: positive values are debits
	// (money out). The normalizer flips the sign.
	Amount decimal.Decimal

	Name     string
	Currency string
	Pending  bool

	// Date is the provider's coarse posting date.
	Date time.Time

	// Datetime, AuthorizedDate and AuthorizedDatetime are the provider's
	// more precise timestamps when available.
	Datetime           *time.Time
	AuthorizedDate     *time.Time
	AuthorizedDatetime *time.Time

	// Raw is the provider's record serialized verbatim.
	Raw []byte
}

// Delta is one page of the provider's incremental sync feed.
type Delta struct {
	Added    []Record
	Modified []Record

	// Removed holds external identifiers of transactions the provider has
	// withdrawn.
	Removed []string

	NextCursor string
	HasMore    bool
}

// Page is one page of the provider's date-ranged transaction listing.
type Page struct {
	Items []Record
	Total int32
}

// Account describes one account within a provider item.
type Account struct {
	ProviderAccountID string
	Name              string
	Mask              string
	Subtype           string
	Currency          string
	Balance           decimal.Decimal
}
