package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/model"
)

func basicProfile() model.CSVProfile {
	return model.CSVProfile{
		SkipRows:    1,
		ColumnCount: 3,
		Amount:      model.FieldRule{Column: 2, Kind: model.FieldAmount},
		Timestamp:   model.FieldRule{Column: 0, Kind: model.FieldDate, Layout: "01/02/2006"},
		Name:        model.FieldRule{Column: 1, Kind: model.FieldText},
	}
}

func TestParseCSV_Basic(t *testing.T) {
	input := `Date,Description,Amount
03/15/2025,GROCERY STORE,-42.17
03/16/2025,PAYCHECK,"1,250.00"
`
	txns, err := ParseCSV(strings.NewReader(input), basicProfile())
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "GROCERY STORE", txns[0].Name)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("-42.17")))
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), txns[0].Timestamp)

	// Thousands separators are stripped before parsing.
	assert.True(t, txns[1].Amount.Equal(decimal.RequireFromString("1250.00")), "got %s", txns[1].Amount)
}

func TestParseCSV_FooterTerminatesParse(t *testing.T) {
	input := `Date,Description,Amount
03/15/2025,COFFEE,-4.50
03/16/2025,LUNCH,-12.00
Total for period: -16.50
`
	txns, err := ParseCSV(strings.NewReader(input), basicProfile())
	require.NoError(t, err)
	assert.Len(t, txns, 2, "the short footer row ends the parse without error")
}

func TestParseCSV_NegateFlag(t *testing.T) {
	profile := basicProfile()
	profile.Amount.Negate = true

	input := `Date,Description,Amount
03/15/2025,DEBIT CARD,42.17
`
	txns, err := ParseCSV(strings.NewReader(input), profile)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("-42.17")))
}

func TestParseCSV_AccountingNegatives(t *testing.T) {
	input := `Date,Description,Amount
03/15/2025,FEE,($12.34)
`
	txns, err := ParseCSV(strings.NewReader(input), basicProfile())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("-12.34")), "got %s", txns[0].Amount)
}

func TestParseCSV_ExtractAndLookup(t *testing.T) {
	profile := model.CSVProfile{
		ColumnCount: 3,
		Amount:      model.FieldRule{Column: 2, Kind: model.FieldAmount},
		Timestamp: model.FieldRule{
			Column:  0,
			Kind:    model.FieldDate,
			Layout:  "2006-01-02",
			Extract: `^(\d{4}-\d{2}-\d{2})T`,
		},
		Name: model.FieldRule{
			Column: 1,
			Kind:   model.FieldText,
			Lookup: map[string]string{"XFER": "Internal transfer"},
		},
	}

	input := `2025-03-15T10:30:00,XFER,-500.00
2025-03-16T09:00:00,SOMETHING ELSE,20.00
`
	txns, err := ParseCSV(strings.NewReader(input), profile)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), txns[0].Timestamp)
	assert.Equal(t, "Internal transfer", txns[0].Name)
	// Values missing from the lookup pass through unchanged.
	assert.Equal(t, "SOMETHING ELSE", txns[1].Name)
}

func TestParseCSV_SemicolonDelimiter(t *testing.T) {
	profile := basicProfile()
	profile.SkipRows = 0
	profile.Delimiter = ";"
	profile.Timestamp.Layout = "02.01.2006"

	input := "15.03.2025;KAUFLAND;-23.45\n"
	txns, err := ParseCSV(strings.NewReader(input), profile)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "KAUFLAND", txns[0].Name)
}

func TestParseCSV_BadCellRejectsRow(t *testing.T) {
	input := `Date,Description,Amount
not-a-date,COFFEE,-4.50
`
	_, err := ParseCSV(strings.NewReader(input), basicProfile())
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestParseCSV_InvalidProfile(t *testing.T) {
	profile := basicProfile()
	profile.Amount.Column = 9

	_, err := ParseCSV(strings.NewReader("a,b,c\n"), profile)
	assert.ErrorIs(t, err, common.ErrValidation)
}
