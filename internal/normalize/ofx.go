package normalize

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/model"
)

// ParseOFX parses an OFX/QFX statement file into transactions. OFX amounts
// already follow the credit-positive convention, so the sign is kept as-is.
// The FITID becomes the external identifier, which deduplicates re-imports
// of overlapping statements.
func ParseOFX(r io.Reader) ([]model.Transaction, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var txns []model.Transaction
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			for _, ofxTx := range stmt.BankTranList.Transactions {
				txns = append(txns, convertOFXTransaction(ofxTx))
			}
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			for _, ofxTx := range stmt.BankTranList.Transactions {
				txns = append(txns, convertOFXTransaction(ofxTx))
			}
		}
	}

	slog.Debug("Parsed OFX file", "transactions", len(txns))
	return txns, nil
}

func convertOFXTransaction(ofxTx ofxgo.Transaction) model.Transaction {
	amount := decimal.NewFromBigRat(&ofxTx.TrnAmt.Rat, 2)

	name := strings.TrimSpace(string(ofxTx.Name))
	if ofxTx.Payee != nil && ofxTx.Payee.Name != "" {
		name = strings.TrimSpace(string(ofxTx.Payee.Name))
	}
	if name == "" {
		name = strings.TrimSpace(string(ofxTx.Memo))
	}

	return model.Transaction{
		Amount:     amount,
		Timestamp:  ofxTx.DtPosted.Time.UTC(),
		Name:       name,
		ExternalID: string(ofxTx.FiTID),
	}
}

// preprocessOFX fixes common formatting issues in bank-exported SGML files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	severityRegex := regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// Opening tags missing their closing angle bracket.
	tagFixRegex := regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}
