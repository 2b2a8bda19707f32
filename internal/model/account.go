// Package model defines the core domain types for the aggregation backend.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountSubtype classifies what kind of account this is.
type AccountSubtype string

// Supported account subtypes.
const (
	SubtypeDepository AccountSubtype = "depository"
	SubtypeCredit     AccountSubtype = "credit"
	SubtypeLoan       AccountSubtype = "loan"
	SubtypeInvestment AccountSubtype = "investment"
	SubtypeCash       AccountSubtype = "cash"
	SubtypeProperty   AccountSubtype = "property"
	SubtypeLedger     AccountSubtype = "ledger"
)

// Valid reports whether the subtype is one of the supported values.
func (s AccountSubtype) Valid() bool {
	switch s {
	case SubtypeDepository, SubtypeCredit, SubtypeLoan, SubtypeInvestment,
		SubtypeCash, SubtypeProperty, SubtypeLedger:
		return true
	}
	return false
}

// InstitutionalDetails ties an account to an institution link and the
// provider's identifier for the account within that link.
type InstitutionalDetails struct {
	LinkID            string
	ProviderAccountID string
}

// ManualDetails ties a user-managed account directly to its owner.
type ManualDetails struct {
	UserID string
}

// Account represents a financial account. Exactly one of Institutional or
// Manual is set: an account belongs to an institution link or directly to a
// user, never both and never neither.
type Account struct {
	ID             string
	Name           string
	Currency       string
	InitialBalance decimal.Decimal
	Subtype        AccountSubtype
	Institutional  *InstitutionalDetails
	Manual         *ManualDetails
	CreatedAt      time.Time
}

// NewInstitutionalAccount creates an account owned through an institution link.
func NewInstitutionalAccount(linkID, providerAccountID, name, currency string, subtype AccountSubtype, initialBalance decimal.Decimal) *Account {
	return &Account{
		ID:             uuid.NewString(),
		Name:           name,
		Currency:       currency,
		InitialBalance: initialBalance,
		Subtype:        subtype,
		Institutional: &InstitutionalDetails{
			LinkID:            linkID,
			ProviderAccountID: providerAccountID,
		},
	}
}

// NewManualAccount creates a user-managed account.
func NewManualAccount(userID, name, currency string, subtype AccountSubtype, initialBalance decimal.Decimal) *Account {
	return &Account{
		ID:             uuid.NewString(),
		Name:           name,
		Currency:       currency,
		InitialBalance: initialBalance,
		Subtype:        subtype,
		Manual:         &ManualDetails{UserID: userID},
	}
}

// IsInstitutional reports whether the account is tied to an institution link.
func (a *Account) IsInstitutional() bool {
	return a.Institutional != nil
}

// Validate checks the account's structural invariants.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("account name is required")
	}
	if !validCurrency(a.Currency) {
		return fmt.Errorf("invalid currency code: %q", a.Currency)
	}
	if !a.Subtype.Valid() {
		return fmt.Errorf("invalid account subtype: %q", a.Subtype)
	}
	if (a.Institutional == nil) == (a.Manual == nil) {
		return fmt.Errorf("account must be either institutional or manual, not both or neither")
	}
	if a.Institutional != nil && (a.Institutional.LinkID == "" || a.Institutional.ProviderAccountID == "") {
		return fmt.Errorf("institutional account requires link id and provider account id")
	}
	if a.Manual != nil && a.Manual.UserID == "" {
		return fmt.Errorf("manual account requires a user id")
	}
	return nil
}

// validCurrency checks for a three-letter uppercase ISO 4217 code.
func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
