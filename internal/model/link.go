package model

import (
	"fmt"
	"regexp"
	"time"
)

// InstitutionLink represents one user's connection to one institution via
// the aggregation provider.
type InstitutionLink struct {
	ID              string
	UserID          string
	InstitutionName string

	// ProviderItemID is the provider's durable identifier for this link.
	ProviderItemID string

	// AccessToken is the opaque credential obtained by exchanging the
	// provider's temporary public token.
	AccessToken string

	// Cursor marks sync progress. Nil until the first successful sync
	// pass; afterwards it is replaced atomically with the batch it
	// authorizes.
	Cursor *string

	// RawMetadata is the provider's item payload, stored opaquely.
	RawMetadata []byte

	// Pattern is the institution's optional name rewrite rule.
	Pattern *ReplacementPattern

	// CSVProfile is the institution's optional file import configuration.
	CSVProfile *CSVProfile

	CreatedAt time.Time
}

// ReplacementPattern is a per-institution regex rewrite applied to provider
// transaction names before storage.
type ReplacementPattern struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// Validate ensures the pattern compiles.
func (p *ReplacementPattern) Validate() error {
	if p.Pattern == "" {
		return fmt.Errorf("replacement pattern is required")
	}
	if _, err := regexp.Compile(p.Pattern); err != nil {
		return fmt.Errorf("invalid replacement pattern: %w", err)
	}
	return nil
}

// Apply rewrites a transaction name. The replacement may reference capture
// groups with $1, $2, and so on.
func (p *ReplacementPattern) Apply(name string) (string, error) {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid replacement pattern: %w", err)
	}
	return re.ReplaceAllString(name, p.Replacement), nil
}
