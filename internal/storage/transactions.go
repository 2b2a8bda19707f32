package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/service"
)

const transactionColumns = `t.id, t.account_id, t.amount, t.timestamp, t.name,
	t.category_id, t.account_balance, t.amount_default, t.external_id,
	t.raw_payload, t.group_id, t.created_at`

// ownedTransactions joins transactions to the owning user through the
// account and, for linked accounts, the institution link.
const ownedTransactions = `FROM transactions t
	JOIN accounts a ON t.account_id = a.id
	LEFT JOIN institution_links l ON a.link_id = l.id`

// CreateTransaction persists a new transaction. A clash on the external
// identifier surfaces as ErrDuplicate.
func (d *queries) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if txn == nil {
		return fmt.Errorf("%w: txn", ErrNilParameter)
	}
	if err := validateString(txn.ID, "txn.ID"); err != nil {
		return err
	}
	if err := validateString(txn.AccountID, "txn.AccountID"); err != nil {
		return err
	}
	if txn.Timestamp.IsZero() {
		return fmt.Errorf("%w: transaction timestamp is required", common.ErrValidation)
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, amount, timestamp, name,
			category_id, account_balance, amount_default, external_id,
			raw_payload, group_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.AccountID, txn.Amount.String(), txn.Timestamp.UTC(), txn.Name,
		nullStr(txn.CategoryID), txn.AccountBalance.String(), nullDec(txn.AmountDefault),
		nullStr(txn.ExternalID), nullBytes(txn.RawPayload), nullStr(txn.GroupID))
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, mapSQLiteError(err))
	}
	return nil
}

// GetTransaction retrieves a transaction owned by the given user.
func (d *queries) GetTransaction(ctx context.Context, userID, id string) (*model.Transaction, error) {
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
		SELECT `+transactionColumns+` `+ownedTransactions+`
		WHERE t.id = ? AND COALESCE(a.user_id, l.user_id) = ?`, id, userID)
	return scanTransaction(row)
}

// GetTransactionByExternalID locates a provider-sourced transaction by its
// external identifier, scoped to the link that delivered it. External
// identifiers are only unique per provider, so a row under another link
// never resolves.
func (d *queries) GetTransactionByExternalID(ctx context.Context, linkID, externalID string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(linkID, "linkID"); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}

	row := d.q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE t.external_id = ? AND a.link_id = ?`, externalID, linkID)
	return scanTransaction(row)
}

// ListTransactions returns the user's transactions, newest first.
func (d *queries) ListTransactions(ctx context.Context, userID string, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` ` + ownedTransactions + `
		WHERE COALESCE(a.user_id, l.user_id) = ?`)
	args := []any{userID}

	if filter.AccountID != "" {
		sb.WriteString(" AND t.account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Start != nil {
		sb.WriteString(" AND t.timestamp >= ?")
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		sb.WriteString(" AND t.timestamp < ?")
		args = append(args, filter.End.UTC())
	}

	sb.WriteString(" ORDER BY t.timestamp DESC, t.id DESC")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := d.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

// ListTransactionsForReplay returns an account's transactions at or after
// the cutoff in ascending (timestamp, id) order. The id tie-break keeps the
// replay deterministic when timestamps collide.
func (d *queries) ListTransactionsForReplay(ctx context.Context, accountID string, from *time.Time) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions t
		WHERE t.account_id = ?`
	args := []any{accountID}
	if from != nil {
		query += ` AND t.timestamp >= ?`
		args = append(args, from.UTC())
	}
	query += ` ORDER BY t.timestamp ASC, t.id ASC`

	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for replay: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

// PrecedingBalance returns the running balance immediately before the given
// cutoff: the balance of the latest (timestamp, id)-ordered transaction
// strictly before it, or the account's initial balance when none exists. A
// zero cutoff yields the initial balance.
func (d *queries) PrecedingBalance(ctx context.Context, accountID string, before time.Time) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return decimal.Zero, err
	}

	if !before.IsZero() {
		var balance string
		err := d.q.QueryRowContext(ctx, `
			SELECT account_balance FROM transactions
			WHERE account_id = ? AND timestamp < ?
			ORDER BY timestamp DESC, id DESC LIMIT 1`,
			accountID, before.UTC()).Scan(&balance)
		switch {
		case err == nil:
			return scanDec(balance)
		case !errors.Is(err, sql.ErrNoRows):
			return decimal.Zero, fmt.Errorf("failed to query preceding balance: %w", err)
		}
	}

	var initial string
	err := d.q.QueryRowContext(ctx, `SELECT initial_balance FROM accounts WHERE id = ?`, accountID).Scan(&initial)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: account %s", common.ErrNotFound, accountID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query initial balance: %w", err)
	}
	return scanDec(initial)
}

// SetTransactionBalance stamps the denormalized running balance and the
// default-currency amount computed during replay.
func (d *queries) SetTransactionBalance(ctx context.Context, id string, balance decimal.Decimal, amountDefault *decimal.Decimal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE transactions SET account_balance = ?, amount_default = ?
		WHERE id = ?`,
		balance.String(), nullDec(amountDefault), id)
	if err != nil {
		return fmt.Errorf("failed to set balance for transaction %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// UpdateTransaction rewrites a transaction's mutable fields. The external
// identifier never changes.
func (d *queries) UpdateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if txn == nil {
		return fmt.Errorf("%w: txn", ErrNilParameter)
	}
	if err := validateString(txn.ID, "txn.ID"); err != nil {
		return err
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE transactions SET amount = ?, timestamp = ?, name = ?,
			category_id = ?, amount_default = ?, raw_payload = ?, group_id = ?
		WHERE id = ?`,
		txn.Amount.String(), txn.Timestamp.UTC(), txn.Name, nullStr(txn.CategoryID),
		nullDec(txn.AmountDefault), nullBytes(txn.RawPayload), nullStr(txn.GroupID),
		txn.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", txn.ID, mapSQLiteError(err))
	}
	return requireRowAffected(res, txn.ID)
}

// DeleteTransaction removes a transaction by id.
func (d *queries) DeleteTransaction(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := d.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

func scanTransaction(row *sql.Row) (*model.Transaction, error) {
	txn, err := scanTransactionFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction", common.ErrNotFound)
	}
	return txn, err
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransactionFrom(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func scanTransactionFrom(row rowScanner) (*model.Transaction, error) {
	var (
		txn                             model.Transaction
		amount, balance                 string
		categoryID, externalID, groupID sql.NullString
		amountDefault                   sql.NullString
		rawPayload                      []byte
		timestamp, createdAt            time.Time
	)

	err := row.Scan(&txn.ID, &txn.AccountID, &amount, &timestamp, &txn.Name,
		&categoryID, &balance, &amountDefault, &externalID, &rawPayload,
		&groupID, &createdAt)
	if err != nil {
		return nil, err
	}

	if txn.Amount, err = scanDec(amount); err != nil {
		return nil, err
	}
	if txn.AccountBalance, err = scanDec(balance); err != nil {
		return nil, err
	}
	if amountDefault.Valid {
		d, err := scanDec(amountDefault.String)
		if err != nil {
			return nil, err
		}
		txn.AmountDefault = &d
	}

	txn.Timestamp = timestamp
	txn.CategoryID = categoryID.String
	txn.ExternalID = externalID.String
	txn.RawPayload = rawPayload
	txn.GroupID = groupID.String
	txn.CreatedAt = createdAt

	return &txn, nil
}
