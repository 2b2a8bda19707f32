package normalize

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ParseCSV parses an uploaded institution export into transactions using a
// declarative profile. Field rules are data (column index plus coercion
// parameters); no part of the profile is ever evaluated as code.
//
// A row whose column count differs from the profile's expectation terminates
// the parse without error: bank exports commonly end in summary or footer
// lines that should be skipped, not rejected.
func ParseCSV(r io.Reader, profile model.CSVProfile) ([]model.Transaction, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if profile.Encoding == "latin-1" {
		r = transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // column counts are checked per row
	if profile.Delimiter != "" {
		reader.Comma = []rune(profile.Delimiter)[0]
	}

	for i := 0; i < profile.SkipRows; i++ {
		if _, err := reader.Read(); err == io.EOF {
			return nil, nil
		} else if err != nil {
			return nil, fmt.Errorf("%w: unreadable header row: %v", common.ErrValidation, err)
		}
	}

	var txns []model.Transaction
	line := profile.SkipRows
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", common.ErrValidation, line+1, err)
		}
		line++

		if len(row) != profile.ColumnCount {
			// Malformed trailer or footer; stop here.
			break
		}

		txn, err := rowToTransaction(row, profile)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", common.ErrValidation, line, err)
		}
		txns = append(txns, *txn)
	}

	return txns, nil
}

func rowToTransaction(row []string, profile model.CSVProfile) (*model.Transaction, error) {
	amountCell, err := applyRule(profile.Amount, row)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	amount, err := decimal.NewFromString(normalizeAmount(amountCell))
	if err != nil {
		return nil, fmt.Errorf("amount: cannot parse %q", amountCell)
	}
	if profile.Amount.Negate {
		amount = amount.Neg()
	}

	dateCell, err := applyRule(profile.Timestamp, row)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	timestamp, err := time.Parse(profile.Timestamp.Layout, dateCell)
	if err != nil {
		return nil, fmt.Errorf("timestamp: cannot parse %q with layout %q", dateCell, profile.Timestamp.Layout)
	}

	name, err := applyRule(profile.Name, row)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}

	return &model.Transaction{
		Amount:    amount,
		Timestamp: timestamp.UTC(),
		Name:      name,
	}, nil
}

// applyRule extracts one cell value: select column, optionally extract a
// capture group, optionally substitute via the lookup table.
func applyRule(rule model.FieldRule, row []string) (string, error) {
	if rule.Column < 0 || rule.Column >= len(row) {
		return "", fmt.Errorf("column %d out of range", rule.Column)
	}
	value := strings.TrimSpace(row[rule.Column])

	if rule.Extract != "" {
		re, err := regexp.Compile(rule.Extract)
		if err != nil {
			return "", fmt.Errorf("invalid extract pattern: %w", err)
		}
		match := re.FindStringSubmatch(value)
		if len(match) < 2 {
			return "", fmt.Errorf("extract pattern did not match %q", value)
		}
		value = match[1]
	}

	if rule.Lookup != nil {
		if mapped, ok := rule.Lookup[value]; ok {
			value = mapped
		}
	}

	return value, nil
}

// normalizeAmount strips thousands separators and currency decoration that
// bank exports commonly include.
func normalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimPrefix(s, "£")
	// Accounting-style negatives: (12.34) means -12.34.
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	return s
}
