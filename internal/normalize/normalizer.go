// Package normalize maps provider-native and file-based transaction records
// into the internal schema.
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/provider"
)

// Normalize converts a provider record into the internal schema. The
// conversion is deterministic: the same record and pattern always produce
// the same fields, which is what makes reset-to-provider-data sound.
//
// Sign convention: the provider reports debits as positive amounts; the
// internal schema is credit-positive, so the amount is negated. The most
// precise available timestamp wins. The raw payload is carried verbatim.
func Normalize(rec provider.Record, pattern *model.ReplacementPattern) (*model.Transaction, error) {
	name := rec.Name
	if pattern != nil {
		rewritten, err := pattern.Apply(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		name = rewritten
	}

	return &model.Transaction{
		Amount:     rec.Amount.Neg(),
		Timestamp:  bestTimestamp(rec),
		Name:       name,
		ExternalID: rec.ExternalID,
		RawPayload: rec.Raw,
	}, nil
}

// bestTimestamp prefers the provider's precise timestamps over its coarse
// date field: authorized datetime, then posted datetime, then authorized
// date, then posted date.
func bestTimestamp(rec provider.Record) time.Time {
	switch {
	case rec.AuthorizedDatetime != nil:
		return rec.AuthorizedDatetime.UTC()
	case rec.Datetime != nil:
		return rec.Datetime.UTC()
	case rec.AuthorizedDate != nil:
		return rec.AuthorizedDate.UTC()
	default:
		return rec.Date.UTC()
	}
}

// rawRecord mirrors the provider's wire schema for the fields the
// normalizer consumes.
type rawRecord struct {
	TransactionID      string     `json:"transaction_id"`
	AccountID          string     `json:"account_id"`
	Amount             float64    `json:"amount"`
	Name               string     `json:"name"`
	IsoCurrencyCode    *string    `json:"iso_currency_code"`
	Pending            bool       `json:"pending"`
	Date               string     `json:"date"`
	Datetime           *time.Time `json:"datetime"`
	AuthorizedDate     *string    `json:"authorized_date"`
	AuthorizedDatetime *time.Time `json:"authorized_datetime"`
}

// ResetFromPayload re-derives normalized fields from a stored raw provider
// payload. Given the same payload and pattern it reproduces Normalize's
// output exactly.
func ResetFromPayload(raw []byte, pattern *model.ReplacementPattern) (*model.Transaction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: transaction has no provider payload", common.ErrValidation)
	}

	var rr rawRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("%w: corrupt provider payload: %v", common.ErrValidation, err)
	}

	rec := provider.Record{
		ExternalID:         rr.TransactionID,
		ProviderAccountID:  rr.AccountID,
		Amount:             decimal.NewFromFloat(rr.Amount),
		Name:               rr.Name,
		Pending:            rr.Pending,
		Datetime:           rr.Datetime,
		AuthorizedDatetime: rr.AuthorizedDatetime,
		Raw:                raw,
	}
	if rr.IsoCurrencyCode != nil {
		rec.Currency = *rr.IsoCurrencyCode
	}
	if rr.Date != "" {
		d, err := time.Parse("2006-01-02", rr.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt provider payload date %q", common.ErrValidation, rr.Date)
		}
		rec.Date = d
	}
	if rr.AuthorizedDate != nil {
		if d, err := time.Parse("2006-01-02", *rr.AuthorizedDate); err == nil {
			rec.AuthorizedDate = &d
		}
	}

	return Normalize(rec, pattern)
}
