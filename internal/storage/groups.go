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

// CreateGroup persists a new transaction group.
func (d *queries) CreateGroup(ctx context.Context, group *model.TransactionGroup) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("%w: group", ErrNilParameter)
	}
	if err := validateString(group.ID, "group.ID"); err != nil {
		return err
	}
	if err := validateString(group.UserID, "group.UserID"); err != nil {
		return err
	}
	if err := validateString(group.Name, "group.Name"); err != nil {
		return err
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO transaction_groups (id, user_id, name) VALUES (?, ?, ?)`,
		group.ID, group.UserID, group.Name)
	if err != nil {
		return fmt.Errorf("failed to insert group %s: %w", group.ID, mapSQLiteError(err))
	}
	return nil
}

// GetGroup retrieves a group owned by the given user.
func (d *queries) GetGroup(ctx context.Context, userID, id string) (*model.TransactionGroup, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var (
		group     model.TransactionGroup
		createdAt time.Time
	)
	err := d.q.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at FROM transaction_groups
		WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&group.ID, &group.UserID, &group.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query group %s: %w", id, err)
	}
	group.CreatedAt = createdAt
	return &group, nil
}

// ListGroups returns all groups owned by the given user.
func (d *queries) ListGroups(ctx context.Context, userID string) ([]model.TransactionGroup, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT id, user_id, name, created_at FROM transaction_groups
		WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []model.TransactionGroup
	for rows.Next() {
		var (
			group     model.TransactionGroup
			createdAt time.Time
		)
		if err := rows.Scan(&group.ID, &group.UserID, &group.Name, &createdAt); err != nil {
			return nil, err
		}
		group.CreatedAt = createdAt
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// RenameGroup overrides a group's derived display name.
func (d *queries) RenameGroup(ctx context.Context, userID, id, name string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(name, "name"); err != nil {
		return err
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE transaction_groups SET name = ? WHERE id = ? AND user_id = ?`,
		name, id, userID)
	if err != nil {
		return fmt.Errorf("failed to rename group %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// DeleteGroup removes a group. Member transactions survive with their
// membership cleared by the foreign key.
func (d *queries) DeleteGroup(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := d.q.ExecContext(ctx, `DELETE FROM transaction_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// SetTransactionGroup moves a transaction into a group, or out of any group
// when groupID is nil.
func (d *queries) SetTransactionGroup(ctx context.Context, txnID string, groupID *string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(txnID, "txnID"); err != nil {
		return err
	}

	var value any
	if groupID != nil {
		value = *groupID
	}
	res, err := d.q.ExecContext(ctx, `UPDATE transactions SET group_id = ? WHERE id = ?`, value, txnID)
	if err != nil {
		return fmt.Errorf("failed to set group for transaction %s: %w", txnID, err)
	}
	return requireRowAffected(res, txnID)
}

// ListGroupMembers returns a group's member transactions in (timestamp, id)
// order.
func (d *queries) ListGroupMembers(ctx context.Context, groupID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(groupID, "groupID"); err != nil {
		return nil, err
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions t
		WHERE t.group_id = ? ORDER BY t.timestamp ASC, t.id ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

// CountGroupMembers returns a group's current membership size.
func (d *queries) CountGroupMembers(ctx context.Context, groupID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(groupID, "groupID"); err != nil {
		return 0, err
	}

	var count int
	err := d.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE group_id = ?`, groupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count group members: %w", err)
	}
	return count, nil
}
