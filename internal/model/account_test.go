package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_Validate(t *testing.T) {
	valid := func() *Account {
		return NewManualAccount("user1", "Wallet", "USD", SubtypeCash, decimal.Zero)
	}

	tests := []struct {
		name    string
		mutate  func(*Account)
		wantErr bool
	}{
		{name: "valid manual account", mutate: func(*Account) {}},
		{name: "missing name", mutate: func(a *Account) { a.Name = "" }, wantErr: true},
		{name: "lowercase currency", mutate: func(a *Account) { a.Currency = "usd" }, wantErr: true},
		{name: "short currency", mutate: func(a *Account) { a.Currency = "US" }, wantErr: true},
		{name: "bad subtype", mutate: func(a *Account) { a.Subtype = "checking" }, wantErr: true},
		{name: "neither owner", mutate: func(a *Account) { a.Manual = nil }, wantErr: true},
		{
			name: "both owners",
			mutate: func(a *Account) {
				a.Institutional = &InstitutionalDetails{LinkID: "l1", ProviderAccountID: "p1"}
			},
			wantErr: true,
		},
		{
			name:    "manual without user",
			mutate:  func(a *Account) { a.Manual.UserID = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := valid()
			tt.mutate(account)
			err := account.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAccount_ValidateInstitutional(t *testing.T) {
	account := NewInstitutionalAccount("link-1", "pa-1", "Checking", "USD", SubtypeDepository, decimal.Zero)
	require.NoError(t, account.Validate())
	assert.True(t, account.IsInstitutional())

	account.Institutional.ProviderAccountID = ""
	assert.Error(t, account.Validate())
}

func TestAccountSubtype_Valid(t *testing.T) {
	for _, s := range []AccountSubtype{SubtypeDepository, SubtypeCredit, SubtypeLoan,
		SubtypeInvestment, SubtypeCash, SubtypeProperty, SubtypeLedger} {
		assert.True(t, s.Valid(), "%s should be valid", s)
	}
	assert.False(t, AccountSubtype("checking").Valid())
	assert.False(t, AccountSubtype("").Valid())
}
