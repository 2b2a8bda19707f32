package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
)

const accountColumns = `a.id, a.name, a.currency, a.initial_balance, a.subtype,
	a.link_id, a.provider_account_id, a.user_id, a.created_at`

// ownedAccounts joins accounts to their owning user, directly for manual
// accounts or through the institution link for provider-linked ones.
const ownedAccounts = `FROM accounts a
	LEFT JOIN institution_links l ON a.link_id = l.id`

// CreateAccount persists a new account.
func (d *queries) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	var linkID, providerAccountID, userID any
	if account.Institutional != nil {
		linkID = account.Institutional.LinkID
		providerAccountID = account.Institutional.ProviderAccountID
	} else {
		userID = account.Manual.UserID
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO accounts (id, name, currency, initial_balance, subtype,
			link_id, provider_account_id, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Name, account.Currency, account.InitialBalance.String(),
		string(account.Subtype), linkID, providerAccountID, userID)
	if err != nil {
		return fmt.Errorf("failed to insert account %s: %w", account.ID, mapSQLiteError(err))
	}
	return nil
}

// GetAccount retrieves an account owned by the given user.
func (d *queries) GetAccount(ctx context.Context, userID, id string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := d.q.QueryRowContext(ctx, `
		SELECT `+accountColumns+` `+ownedAccounts+`
		WHERE a.id = ? AND COALESCE(a.user_id, l.user_id) = ?`, id, userID)
	return scanAccount(row)
}

// GetAccountByProviderID resolves the provider's account identifier within a
// link to the internal account. Callers must have authorized access to the
// link already.
func (d *queries) GetAccountByProviderID(ctx context.Context, linkID, providerAccountID string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(linkID, "linkID"); err != nil {
		return nil, err
	}
	if err := validateString(providerAccountID, "providerAccountID"); err != nil {
		return nil, err
	}

	row := d.q.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts a
		WHERE a.link_id = ? AND a.provider_account_id = ?`, linkID, providerAccountID)
	return scanAccount(row)
}

// ListAccountsByLink returns every account under an institution link.
// Callers must have authorized access to the link already.
func (d *queries) ListAccountsByLink(ctx context.Context, linkID string) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(linkID, "linkID"); err != nil {
		return nil, err
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts a
		WHERE a.link_id = ?
		ORDER BY a.created_at, a.id`, linkID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts for link %s: %w", linkID, err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		account, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// AccountCurrency returns the native currency of an account.
func (d *queries) AccountCurrency(ctx context.Context, accountID string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return "", err
	}

	var currency string
	err := d.q.QueryRowContext(ctx, `SELECT currency FROM accounts WHERE id = ?`, accountID).Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: account %s", common.ErrNotFound, accountID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query account currency: %w", err)
	}
	return currency, nil
}

// ListAccounts returns all accounts owned by the given user.
func (d *queries) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+accountColumns+` `+ownedAccounts+`
		WHERE COALESCE(a.user_id, l.user_id) = ?
		ORDER BY a.created_at, a.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		account, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// UpdateAccount updates the mutable fields of an owned account.
func (d *queries) UpdateAccount(ctx context.Context, userID string, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE accounts SET name = ?, initial_balance = ?, subtype = ?
		WHERE id = ? AND (user_id = ?
			OR link_id IN (SELECT id FROM institution_links WHERE user_id = ?))`,
		account.Name, account.InitialBalance.String(), string(account.Subtype),
		account.ID, userID, userID)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", account.ID, err)
	}
	return requireRowAffected(res, account.ID)
}

// DeleteAccount deletes an owned account; its transactions cascade.
func (d *queries) DeleteAccount(ctx context.Context, userID, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := d.q.ExecContext(ctx, `
		DELETE FROM accounts
		WHERE id = ? AND (user_id = ?
			OR link_id IN (SELECT id FROM institution_links WHERE user_id = ?))`,
		id, userID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

func requireRowAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", common.ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	account, err := scanAccountFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account", common.ErrNotFound)
	}
	return account, err
}

func scanAccountRows(rows *sql.Rows) (*model.Account, error) {
	return scanAccountFrom(rows)
}

func scanAccountFrom(row rowScanner) (*model.Account, error) {
	var (
		account                           model.Account
		initialBalance, subtype           string
		linkID, providerAccountID, userID sql.NullString
		createdAt                         time.Time
	)

	err := row.Scan(&account.ID, &account.Name, &account.Currency, &initialBalance,
		&subtype, &linkID, &providerAccountID, &userID, &createdAt)
	if err != nil {
		return nil, err
	}

	account.InitialBalance, err = scanDec(initialBalance)
	if err != nil {
		return nil, err
	}
	account.Subtype = model.AccountSubtype(subtype)
	account.CreatedAt = createdAt

	if linkID.Valid {
		account.Institutional = &model.InstitutionalDetails{
			LinkID:            linkID.String,
			ProviderAccountID: providerAccountID.String,
		}
	} else {
		account.Manual = &model.ManualDetails{UserID: userID.String}
	}

	return &account, nil
}
