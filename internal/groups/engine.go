// Package groups implements the movement engine: grouping related
// transactions (transfer pairs, purchase-and-refund) into derived
// movements.
package groups

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/service"
)

// Engine mutates group membership. Every mutation ends with Enforce on the
// affected groups, which upholds the single structural rule: a group has
// two or more members or it does not exist.
type Engine struct {
	store  service.Store
	logger *slog.Logger
}

// New creates a grouping engine over the given store handle. Pass a
// service.Tx to run the engine inside an open transaction.
func New(store service.Store) *Engine {
	return &Engine{
		store:  store,
		logger: slog.Default().With("component", "groups"),
	}
}

// Attach moves a transaction into an existing group. The transaction's
// prior group, if any, is re-evaluated afterward.
func (e *Engine) Attach(ctx context.Context, userID, groupID, txnID string) error {
	txn, err := e.store.GetTransaction(ctx, userID, txnID)
	if err != nil {
		return err
	}
	if _, err := e.store.GetGroup(ctx, userID, groupID); err != nil {
		return err
	}
	if txn.GroupID == groupID {
		return nil
	}

	prior := txn.GroupID
	if err := e.store.SetTransactionGroup(ctx, txnID, &groupID); err != nil {
		return err
	}
	if prior != "" {
		if err := e.Enforce(ctx, prior); err != nil {
			return err
		}
	}

	e.logger.Debug("Attached transaction to group", "transaction_id", txnID, "group_id", groupID)
	return nil
}

// Pair creates a new group from two ungrouped transactions. The group's
// display name is seeded from the first transaction's name. Prior
// memberships are released and re-evaluated.
func (e *Engine) Pair(ctx context.Context, userID, txnID, otherID string) (*model.TransactionGroup, error) {
	if txnID == otherID {
		return nil, fmt.Errorf("%w: cannot group a transaction with itself", common.ErrValidation)
	}

	first, err := e.store.GetTransaction(ctx, userID, txnID)
	if err != nil {
		return nil, err
	}
	second, err := e.store.GetTransaction(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}

	group := &model.TransactionGroup{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      first.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}

	priors := make([]string, 0, 2)
	for _, txn := range []*model.Transaction{first, second} {
		if txn.GroupID != "" {
			priors = append(priors, txn.GroupID)
		}
		if err := e.store.SetTransactionGroup(ctx, txn.ID, &group.ID); err != nil {
			return nil, err
		}
	}
	for _, prior := range priors {
		if err := e.Enforce(ctx, prior); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Created group", "group_id", group.ID, "name", group.Name)
	return group, nil
}

// Detach clears a transaction's group membership and re-evaluates the
// former group.
func (e *Engine) Detach(ctx context.Context, userID, txnID string) error {
	txn, err := e.store.GetTransaction(ctx, userID, txnID)
	if err != nil {
		return err
	}
	if txn.GroupID == "" {
		return nil
	}

	former := txn.GroupID
	if err := e.store.SetTransactionGroup(ctx, txnID, nil); err != nil {
		return err
	}
	return e.Enforce(ctx, former)
}

// Merge collects the members of two or more groups into one new group and
// dissolves the originals. The new group takes the first group's name.
func (e *Engine) Merge(ctx context.Context, userID string, groupIDs ...string) (*model.TransactionGroup, error) {
	if len(groupIDs) < 2 {
		return nil, fmt.Errorf("%w: merge requires at least two groups", common.ErrValidation)
	}

	seen := make(map[string]bool, len(groupIDs))
	var members []model.Transaction
	var name string
	for _, id := range groupIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate group %s", common.ErrValidation, id)
		}
		seen[id] = true

		group, err := e.store.GetGroup(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = group.Name
		}

		txns, err := e.store.ListGroupMembers(ctx, id)
		if err != nil {
			return nil, err
		}
		members = append(members, txns...)
	}

	merged := &model.TransactionGroup{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateGroup(ctx, merged); err != nil {
		return nil, err
	}

	for i := range members {
		if err := e.store.SetTransactionGroup(ctx, members[i].ID, &merged.ID); err != nil {
			return nil, err
		}
	}

	// The originals are empty now; deleting them keeps no orphans behind.
	for _, id := range groupIDs {
		if err := e.store.DeleteGroup(ctx, id); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Merged groups", "group_id", merged.ID, "merged", len(groupIDs), "members", len(members))
	return merged, nil
}

// Enforce is the single dissolution point: any code path that can shrink a
// group's membership calls it. A group left with fewer than two members is
// deleted, which releases the survivor's membership.
func (e *Engine) Enforce(ctx context.Context, groupID string) error {
	count, err := e.store.CountGroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	if count >= 2 {
		return nil
	}

	if err := e.store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	e.logger.Debug("Dissolved group", "group_id", groupID, "members", count)
	return nil
}

// Summarize builds the derived view of a group: earliest member timestamp,
// summed default-currency amount, and the majority category. A member
// without a stamped default-currency amount makes the sum unavailable.
func (e *Engine) Summarize(ctx context.Context, userID, groupID string) (*model.GroupSummary, error) {
	group, err := e.store.GetGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	members, err := e.store.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("group %s: %w", groupID, common.ErrNotFound)
	}

	summary := &model.GroupSummary{
		ID:        group.ID,
		Name:      group.Name,
		Timestamp: members[0].Timestamp,
		Members:   len(members),
	}

	total := decimal.Zero
	categories := make(map[string]int)
	for i := range members {
		m := &members[i]
		if m.Timestamp.Before(summary.Timestamp) {
			summary.Timestamp = m.Timestamp
		}
		if m.CategoryID != "" {
			categories[m.CategoryID]++
		}
		if m.AmountDefault == nil {
			return nil, fmt.Errorf("group %s: %w", groupID, common.ErrConversionUnavailable)
		}
		total = total.Add(*m.AmountDefault)
	}
	summary.AmountDefault = total

	best := 0
	for category, n := range categories {
		if n > best || (n == best && category < summary.CategoryID) {
			summary.CategoryID = category
			best = n
		}
	}

	return summary, nil
}
