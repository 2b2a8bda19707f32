package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/service"
)

const dateLayout = "2006-01-02"

// Config holds aggregation provider API configuration. It is injected at
// construction; credentials are never read from the process environment.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: provider client ID is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: provider secret is required", common.ErrMissingConfig)
	}
	switch c.Environment {
	case "sandbox", "production":
		return nil
	case "":
		return fmt.Errorf("%w: provider environment is required", common.ErrMissingConfig)
	default:
		return fmt.Errorf("%w: provider environment must be sandbox or production", common.ErrInvalidConfig)
	}
}

// PlaidClient implements the Client interface against the Plaid API.
type PlaidClient struct {
	api       *plaid.APIClient
	logger    *slog.Logger
	retryOpts *service.RetryOptions
}

// NewPlaidClient creates a new provider client with the given configuration.
func NewPlaidClient(cfg Config) (*PlaidClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &PlaidClient{
		api:    plaid.NewAPIClient(configuration),
		logger: slog.Default().With("component", "provider"),
		retryOpts: &service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// SyncTransactions fetches one page of the incremental delta feed.
func (c *PlaidClient) SyncTransactions(ctx context.Context, accessToken string, cursor *string) (*Delta, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	var delta *Delta
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewTransactionsSyncRequest(accessToken)
		if cursor != nil {
			request.SetCursor(*cursor)
		}

		resp, _, err := c.api.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*request).Execute()
		if err != nil {
			return c.mapError(err, "transactions sync")
		}

		added, err := c.mapRecords(resp.GetAdded())
		if err != nil {
			return err
		}
		modified, err := c.mapRecords(resp.GetModified())
		if err != nil {
			return err
		}

		removed := make([]string, 0, len(resp.GetRemoved()))
		for _, r := range resp.GetRemoved() {
			removed = append(removed, r.GetTransactionId())
		}

		delta = &Delta{
			Added:      added,
			Modified:   modified,
			Removed:    removed,
			NextCursor: resp.GetNextCursor(),
			HasMore:    resp.GetHasMore(),
		}
		return nil
	}, *c.retryOpts)

	if retryErr != nil {
		return nil, retryErr
	}

	c.logger.Debug("Fetched sync delta",
		"added", len(delta.Added),
		"modified", len(delta.Modified),
		"removed", len(delta.Removed),
		"has_more", delta.HasMore)

	return delta, nil
}

// ListTransactions fetches one page of the historical listing.
func (c *PlaidClient) ListTransactions(ctx context.Context, accessToken string, start, end time.Time, offset int32) (*Page, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start date must be before end date", common.ErrValidation)
	}

	const pageSize = int32(500) // Plaid's max page size

	var page *Page
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewTransactionsGetRequest(
			accessToken,
			start.Format(dateLayout),
			end.Format(dateLayout),
		)
		options := plaid.TransactionsGetRequestOptions{
			Count:  plaid.PtrInt32(pageSize),
			Offset: plaid.PtrInt32(offset),
		}
		request.SetOptions(options)

		resp, _, err := c.api.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
		if err != nil {
			return c.mapError(err, "transactions get")
		}

		items, err := c.mapRecords(resp.GetTransactions())
		if err != nil {
			return err
		}
		page = &Page{
			Items: items,
			Total: resp.GetTotalTransactions(),
		}
		return nil
	}, *c.retryOpts)

	if retryErr != nil {
		return nil, retryErr
	}

	return page, nil
}

// GetAccounts lists the accounts available under an access token.
func (c *PlaidClient) GetAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	var accounts []Account
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsGetRequest(accessToken)
		resp, _, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return c.mapError(err, "accounts get")
		}

		accounts = accounts[:0]
		for _, a := range resp.GetAccounts() {
			balances := a.GetBalances()
			currency := "USD"
			if code, ok := balances.GetIsoCurrencyCodeOk(); ok && code != nil {
				currency = *code
			}
			accounts = append(accounts, Account{
				ProviderAccountID: a.GetAccountId(),
				Name:              a.GetName(),
				Mask:              a.GetMask(),
				Subtype:           string(a.GetSubtype()),
				Currency:          currency,
				Balance:           decimal.NewFromFloat(balances.GetCurrent()),
			})
		}
		return nil
	}, *c.retryOpts)

	if retryErr != nil {
		return nil, retryErr
	}

	c.logger.Info("Fetched accounts", "count", len(accounts))
	return accounts, nil
}

// CreateLinkToken creates a Link token for the link flow.
func (c *PlaidClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	user := plaid.LinkTokenCreateRequestUser{
		ClientUserId: userID,
	}

	request := plaid.NewLinkTokenCreateRequest(
		"tally",
		"en",
		[]plaid.CountryCode{plaid.COUNTRYCODE_US},
		user,
	)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})

	resp, _, err := c.api.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return "", c.mapError(err, "link token create")
	}

	return resp.GetLinkToken(), nil
}

// ExchangePublicToken exchanges a public token from the link flow for an
// access token.
func (c *PlaidClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := c.api.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		return "", "", c.mapError(err, "public token exchange")
	}

	return resp.GetAccessToken(), resp.GetItemId(), nil
}

// mapError translates provider errors into the application taxonomy.
func (c *PlaidClient) mapError(err error, op string) error {
	plaidErr := extractPlaidError(err)
	if plaidErr == nil {
		// Transport failure: timeout, connection reset, DNS.
		return fmt.Errorf("%w: %s: %v", common.ErrTransient, op, err)
	}
	return c.mapPlaidCode(plaidErr.ErrorCode, plaidErr.ErrorMessage)
}

// mapPlaidCode classifies a provider error code. Auth expiry is terminal;
// rate limits are the only code retried.
func (c *PlaidClient) mapPlaidCode(code, message string) error {
	switch code {
	case "ITEM_LOGIN_REQUIRED":
		return fmt.Errorf("%w: %s", common.ErrAuthExpired, message)
	case "RATE_LIMIT_EXCEEDED":
		c.logger.Warn("Rate limit hit, will retry", "error", message)
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s", common.ErrRateLimit, message),
			Retryable: true,
		}
	default:
		return fmt.Errorf("provider API error: %s - %s", code, message)
	}
}

// mapRecords converts provider transactions, keeping each raw payload.
func (c *PlaidClient) mapRecords(txns []plaid.Transaction) ([]Record, error) {
	records := make([]Record, 0, len(txns))
	for _, pt := range txns {
		rec, err := c.mapRecord(pt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *PlaidClient) mapRecord(pt plaid.Transaction) (Record, error) {
	raw, err := json.Marshal(pt)
	if err != nil {
		return Record{}, fmt.Errorf("failed to serialize provider transaction %s: %w", pt.GetTransactionId(), err)
	}

	date, err := time.Parse(dateLayout, pt.GetDate())
	if err != nil {
		c.logger.Error("Failed to parse transaction date", "date", pt.GetDate(), "error", err)
		date = time.Now().UTC()
	}

	rec := Record{
		ExternalID:        pt.GetTransactionId(),
		ProviderAccountID: pt.GetAccountId(),
		Amount:            decimal.NewFromFloat(pt.GetAmount()),
		Name:              pt.GetName(),
		Pending:           pt.GetPending(),
		Date:              date,
		Raw:               raw,
	}

	if code, ok := pt.GetIsoCurrencyCodeOk(); ok && code != nil {
		rec.Currency = *code
	}
	if dt, ok := pt.GetDatetimeOk(); ok && dt != nil {
		rec.Datetime = dt
	}
	if dt, ok := pt.GetAuthorizedDatetimeOk(); ok && dt != nil {
		rec.AuthorizedDatetime = dt
	}
	if ds, ok := pt.GetAuthorizedDateOk(); ok && ds != nil {
		if d, perr := time.Parse(dateLayout, *ds); perr == nil {
			rec.AuthorizedDate = &d
		}
	}

	return rec, nil
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

// Ensure PlaidClient implements the Client interface.
var _ Client = (*PlaidClient)(nil)
