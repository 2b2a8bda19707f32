package provider

import (
	"context"
	"time"
)

// Client defines the contract the sync engine requires from the aggregation
// provider. This interface allows for easy mocking in tests and swapping
// data sources.
type Client interface {
	// SyncTransactions fetches one page of the incremental delta feed. A
	// nil cursor requests a fresh full sync.
	SyncTransactions(ctx context.Context, accessToken string, cursor *string) (*Delta, error)

	// ListTransactions fetches one offset-based page of the historical
	// listing between two dates.
	ListTransactions(ctx context.Context, accessToken string, start, end time.Time, offset int32) (*Page, error)

	// GetAccounts lists the accounts available under an access token.
	GetAccounts(ctx context.Context, accessToken string) ([]Account, error)

	// CreateLinkToken starts the link flow for a user.
	CreateLinkToken(ctx context.Context, userID string) (string, error)

	// ExchangePublicToken trades the link flow's temporary public token
	// for a durable access token and the provider's item id.
	ExchangePublicToken(ctx context.Context, publicToken string) (accessToken, itemID string, err error)
}
