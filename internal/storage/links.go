package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
)

const linkColumns = `id, user_id, institution_name, provider_item_id,
	access_token, cursor, raw_metadata, name_pattern, name_replacement,
	csv_profile, created_at`

// CreateLink persists a new institution link.
func (d *queries) CreateLink(ctx context.Context, link *model.InstitutionLink) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if link == nil {
		return fmt.Errorf("%w: link", ErrNilParameter)
	}
	if err := validateString(link.ID, "link.ID"); err != nil {
		return err
	}
	if err := validateString(link.UserID, "link.UserID"); err != nil {
		return err
	}
	if err := validateString(link.ProviderItemID, "link.ProviderItemID"); err != nil {
		return err
	}
	if err := validateString(link.AccessToken, "link.AccessToken"); err != nil {
		return err
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO institution_links (id, user_id, institution_name,
			provider_item_id, access_token, raw_metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		link.ID, link.UserID, link.InstitutionName, link.ProviderItemID,
		link.AccessToken, nullBytes(link.RawMetadata))
	if err != nil {
		return fmt.Errorf("failed to insert link %s: %w", link.ID, mapSQLiteError(err))
	}
	return nil
}

// GetLink retrieves a link owned by the given user.
func (d *queries) GetLink(ctx context.Context, userID, id string) (*model.InstitutionLink, error) {
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
		SELECT `+linkColumns+` FROM institution_links
		WHERE id = ? AND user_id = ?`, id, userID)
	link, err := scanLinkFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: link %s", common.ErrNotFound, id)
	}
	return link, err
}

// ListLinks returns all links owned by the given user.
func (d *queries) ListLinks(ctx context.Context, userID string) ([]model.InstitutionLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM institution_links
		WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []model.InstitutionLink
	for rows.Next() {
		link, err := scanLinkFrom(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

// UpdateLinkCursor advances the link's sync cursor. Callers invoke this
// inside the same transaction that applied the batch the cursor authorizes.
func (d *queries) UpdateLinkCursor(ctx context.Context, linkID, cursor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(linkID, "linkID"); err != nil {
		return err
	}
	if err := validateString(cursor, "cursor"); err != nil {
		return err
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE institution_links SET cursor = ? WHERE id = ?`, cursor, linkID)
	if err != nil {
		return fmt.Errorf("failed to update cursor for link %s: %w", linkID, err)
	}
	return requireRowAffected(res, linkID)
}

// SetLinkPattern sets or clears the link's name rewrite rule.
func (d *queries) SetLinkPattern(ctx context.Context, userID, linkID string, pattern *model.ReplacementPattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var p, r any
	if pattern != nil {
		if err := pattern.Validate(); err != nil {
			return fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		p, r = pattern.Pattern, pattern.Replacement
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE institution_links SET name_pattern = ?, name_replacement = ?
		WHERE id = ? AND user_id = ?`, p, r, linkID, userID)
	if err != nil {
		return fmt.Errorf("failed to set pattern for link %s: %w", linkID, err)
	}
	return requireRowAffected(res, linkID)
}

// SetLinkCSVProfile sets or clears the link's file import configuration.
func (d *queries) SetLinkCSVProfile(ctx context.Context, userID, linkID string, profile *model.CSVProfile) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var encoded any
	if profile != nil {
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		data, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("failed to encode csv profile: %w", err)
		}
		encoded = string(data)
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE institution_links SET csv_profile = ? WHERE id = ? AND user_id = ?`,
		encoded, linkID, userID)
	if err != nil {
		return fmt.Errorf("failed to set csv profile for link %s: %w", linkID, err)
	}
	return requireRowAffected(res, linkID)
}

// DeleteLink removes a link; its accounts and their transactions cascade.
func (d *queries) DeleteLink(ctx context.Context, userID, id string) error {
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
		DELETE FROM institution_links WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete link %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

func scanLinkFrom(row rowScanner) (*model.InstitutionLink, error) {
	var (
		link                 model.InstitutionLink
		cursor               sql.NullString
		rawMetadata          []byte
		pattern, replacement sql.NullString
		csvProfile           sql.NullString
		createdAt            time.Time
	)

	err := row.Scan(&link.ID, &link.UserID, &link.InstitutionName,
		&link.ProviderItemID, &link.AccessToken, &cursor, &rawMetadata,
		&pattern, &replacement, &csvProfile, &createdAt)
	if err != nil {
		return nil, err
	}

	if cursor.Valid {
		link.Cursor = &cursor.String
	}
	link.RawMetadata = rawMetadata
	link.CreatedAt = createdAt

	if pattern.Valid {
		link.Pattern = &model.ReplacementPattern{
			Pattern:     pattern.String,
			Replacement: replacement.String,
		}
	}
	if csvProfile.Valid {
		var profile model.CSVProfile
		if err := json.Unmarshal([]byte(csvProfile.String), &profile); err != nil {
			return nil, fmt.Errorf("corrupt csv profile for link %s: %w", link.ID, err)
		}
		link.CSVProfile = &profile
	}

	return &link, nil
}
