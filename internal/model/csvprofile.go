package model

import (
	"fmt"
	"regexp"
)

// FieldKind states how a CSV cell is coerced into a transaction field.
type FieldKind string

// Supported field kinds.
const (
	FieldAmount FieldKind = "amount"
	FieldDate   FieldKind = "date"
	FieldText   FieldKind = "text"
)

// FieldRule declaratively extracts one transaction field from a parsed row.
// Rules are data, never code: a column index plus coercion parameters. Any
// column may be referenced by position.
type FieldRule struct {
	// Column is the zero-based index of the source column.
	Column int `json:"column"`

	Kind FieldKind `json:"kind"`

	// Layout is the time.Parse layout for FieldDate rules.
	Layout string `json:"layout,omitempty"`

	// Negate flips the sign of an amount, for exports that report debits
	// as positive numbers.
	Negate bool `json:"negate,omitempty"`

	// Extract is an optional regexp applied to the cell before coercion;
	// the first capture group becomes the value.
	Extract string `json:"extract,omitempty"`

	// Lookup substitutes the cell value before coercion when the cell
	// matches a key exactly.
	Lookup map[string]string `json:"lookup,omitempty"`
}

// Validate checks the rule against the profile's column count.
func (r *FieldRule) Validate(columnCount int) error {
	if r.Column < 0 || r.Column >= columnCount {
		return fmt.Errorf("column %d out of range (file has %d columns)", r.Column, columnCount)
	}
	switch r.Kind {
	case FieldAmount, FieldText:
	case FieldDate:
		if r.Layout == "" {
			return fmt.Errorf("date rule requires a layout")
		}
	default:
		return fmt.Errorf("unknown field kind %q", r.Kind)
	}
	if r.Extract != "" {
		re, err := regexp.Compile(r.Extract)
		if err != nil {
			return fmt.Errorf("invalid extract pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("extract pattern needs a capture group")
		}
	}
	return nil
}

// CSVProfile describes how an institution's export file parses into
// transactions: rows to skip, delimiter, expected column count, and one
// declarative rule per target field.
type CSVProfile struct {
	SkipRows    int    `json:"skip_rows"`
	Delimiter   string `json:"delimiter,omitempty"` // default ","
	Encoding    string `json:"encoding,omitempty"`  // "utf-8" (default) or "latin-1"
	ColumnCount int    `json:"column_count"`

	Amount    FieldRule `json:"amount"`
	Timestamp FieldRule `json:"timestamp"`
	Name      FieldRule `json:"name"`
}

// Validate checks the profile's structural invariants.
func (p *CSVProfile) Validate() error {
	if p.SkipRows < 0 {
		return fmt.Errorf("skip_rows cannot be negative")
	}
	if p.ColumnCount <= 0 {
		return fmt.Errorf("column_count must be positive")
	}
	if p.Delimiter != "" && len([]rune(p.Delimiter)) != 1 {
		return fmt.Errorf("delimiter must be a single character")
	}
	switch p.Encoding {
	case "", "utf-8", "latin-1":
	default:
		return fmt.Errorf("unsupported encoding %q", p.Encoding)
	}
	if err := p.Amount.Validate(p.ColumnCount); err != nil {
		return fmt.Errorf("amount rule: %w", err)
	}
	if p.Amount.Kind != FieldAmount {
		return fmt.Errorf("amount rule must have kind %q", FieldAmount)
	}
	if err := p.Timestamp.Validate(p.ColumnCount); err != nil {
		return fmt.Errorf("timestamp rule: %w", err)
	}
	if p.Timestamp.Kind != FieldDate {
		return fmt.Errorf("timestamp rule must have kind %q", FieldDate)
	}
	if err := p.Name.Validate(p.ColumnCount); err != nil {
		return fmt.Errorf("name rule: %w", err)
	}
	return nil
}
