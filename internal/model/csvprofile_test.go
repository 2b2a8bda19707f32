package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validProfile() CSVProfile {
	return CSVProfile{
		SkipRows:    1,
		ColumnCount: 4,
		Amount:      FieldRule{Column: 3, Kind: FieldAmount},
		Timestamp:   FieldRule{Column: 0, Kind: FieldDate, Layout: "2006-01-02"},
		Name:        FieldRule{Column: 1, Kind: FieldText},
	}
}

func TestCSVProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CSVProfile)
		wantErr bool
	}{
		{name: "valid", mutate: func(*CSVProfile) {}},
		{name: "negative skip rows", mutate: func(p *CSVProfile) { p.SkipRows = -1 }, wantErr: true},
		{name: "zero columns", mutate: func(p *CSVProfile) { p.ColumnCount = 0 }, wantErr: true},
		{name: "multi-char delimiter", mutate: func(p *CSVProfile) { p.Delimiter = "--" }, wantErr: true},
		{name: "latin-1 encoding", mutate: func(p *CSVProfile) { p.Encoding = "latin-1" }},
		{name: "unknown encoding", mutate: func(p *CSVProfile) { p.Encoding = "ebcdic" }, wantErr: true},
		{name: "amount column out of range", mutate: func(p *CSVProfile) { p.Amount.Column = 4 }, wantErr: true},
		{name: "date without layout", mutate: func(p *CSVProfile) { p.Timestamp.Layout = "" }, wantErr: true},
		{name: "amount rule with wrong kind", mutate: func(p *CSVProfile) { p.Amount.Kind = FieldText }, wantErr: true},
		{name: "extract without capture group", mutate: func(p *CSVProfile) { p.Name.Extract = `\d+` }, wantErr: true},
		{name: "extract with capture group", mutate: func(p *CSVProfile) { p.Name.Extract = `(\d+)` }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := validProfile()
			tt.mutate(&profile)
			err := profile.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
