package provider

import (
	"context"
	"time"
)

// MockClient is a mock implementation of Client for testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	SyncTransactionsFn    func(ctx context.Context, accessToken string, cursor *string) (*Delta, error)
	ListTransactionsFn    func(ctx context.Context, accessToken string, start, end time.Time, offset int32) (*Page, error)
	GetAccountsFn         func(ctx context.Context, accessToken string) ([]Account, error)
	CreateLinkTokenFn     func(ctx context.Context, userID string) (string, error)
	ExchangePublicTokenFn func(ctx context.Context, publicToken string) (string, string, error)

	// Call tracking
	SyncCalls []SyncCall
}

// SyncCall records the parameters of a SyncTransactions call.
type SyncCall struct {
	AccessToken string
	Cursor      *string
}

// NewMockClient creates a new mock provider client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SyncTransactions implements Client.SyncTransactions.
func (m *MockClient) SyncTransactions(ctx context.Context, accessToken string, cursor *string) (*Delta, error) {
	m.SyncCalls = append(m.SyncCalls, SyncCall{AccessToken: accessToken, Cursor: cursor})

	if m.SyncTransactionsFn != nil {
		return m.SyncTransactionsFn(ctx, accessToken, cursor)
	}
	return &Delta{}, nil
}

// ListTransactions implements Client.ListTransactions.
func (m *MockClient) ListTransactions(ctx context.Context, accessToken string, start, end time.Time, offset int32) (*Page, error) {
	if m.ListTransactionsFn != nil {
		return m.ListTransactionsFn(ctx, accessToken, start, end, offset)
	}
	return &Page{}, nil
}

// GetAccounts implements Client.GetAccounts.
func (m *MockClient) GetAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	if m.GetAccountsFn != nil {
		return m.GetAccountsFn(ctx, accessToken)
	}
	return []Account{}, nil
}

// CreateLinkToken implements Client.CreateLinkToken.
func (m *MockClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	if m.CreateLinkTokenFn != nil {
		return m.CreateLinkTokenFn(ctx, userID)
	}
	return "link-token", nil
}

// ExchangePublicToken implements Client.ExchangePublicToken.
func (m *MockClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	if m.ExchangePublicTokenFn != nil {
		return m.ExchangePublicTokenFn(ctx, publicToken)
	}
	return "access-token", "item-id", nil
}

// Reset clears all call tracking.
func (m *MockClient) Reset() {
	m.SyncCalls = nil
}

// Ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)
