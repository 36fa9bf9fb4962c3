package sources

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/clearledger/backend/src/models"
)

// swiftRow mirrors one wire-transfer detail record. The amount fields keep
// the fixed MT-style formats the scraper lifts from the message:
// instructed_amount is field 33B ("USD500,00"), settled_amount is field 32A
// ("210101USD480,00", value date prefix then currency then amount).
type swiftRow struct {
	AccountNumber    string `json:"account_number"`
	Reference        string `json:"reference"`
	ValueDate        string `json:"value_date"`
	CurrencyCode     string `json:"currency_code"`
	InstructedAmount string `json:"instructed_amount"`
	SettledAmount    string `json:"settled_amount"`
	Beneficiary      string `json:"beneficiary"`
	Detail           string `json:"detail"`
}

// parseFixedAmount parses a "CCYn...n,nn" amount field. The comma is the
// decimal separator per the wire format.
func parseFixedAmount(s string) (string, decimal.Decimal, error) {
	if len(s) < 4 {
		return "", decimal.Zero, fmt.Errorf("%w: amount field %q too short", models.ErrMalformedRecord, s)
	}
	ccy := s[:3]
	num := strings.ReplaceAll(s[3:], ",", ".")
	amount, err := decimal.NewFromString(num)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("%w: amount field %q: %v", models.ErrMalformedRecord, s, err)
	}
	return ccy, amount, nil
}

// parse33B parses the instructed-amount field.
func parse33B(s string) (string, decimal.Decimal, error) {
	return parseFixedAmount(s)
}

// parse32A parses the settled-amount field, which carries a YYMMDD value
// date before the currency.
func parse32A(s string) (string, decimal.Decimal, error) {
	if len(s) < 10 {
		return "", decimal.Zero, fmt.Errorf("%w: 32A field %q too short", models.ErrMalformedRecord, s)
	}
	return parseFixedAmount(s[6:])
}

// SwiftFee computes the transfer fee as instructed minus settled. Only a
// strictly positive fee yields a Transaction; the principal leg is already
// represented by the matching bank-feed row.
func SwiftFee(instructed, settled string) (decimal.Decimal, error) {
	_, in, err := parse33B(instructed)
	if err != nil {
		return decimal.Zero, err
	}
	_, out, err := parse32A(settled)
	if err != nil {
		return decimal.Zero, err
	}
	return in.Sub(out), nil
}

func decodeSwiftRecord(raw []byte) (models.SourceRecord, error) {
	var row swiftRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return models.SourceRecord{}, fmt.Errorf("%w: %v", models.ErrMalformedRecord, err)
	}
	if row.AccountNumber == "" || row.ValueDate == "" {
		return models.SourceRecord{}, fmt.Errorf("%w: swift row missing account number or value date", models.ErrMalformedRecord)
	}

	fee, err := SwiftFee(row.InstructedAmount, row.SettledAmount)
	if err != nil {
		return models.SourceRecord{}, err
	}

	ccy, _, err := parse33B(row.InstructedAmount)
	if err != nil {
		return models.SourceRecord{}, err
	}
	if row.CurrencyCode != "" {
		ccy = row.CurrencyCode
	}

	feeAmount, _ := fee.Float64()
	return models.SourceRecord{
		SourceTag:        "swift",
		AccountKey:       strings.TrimLeft(row.AccountNumber, "0"),
		ReferenceNumber:  row.Reference,
		ValueDate:        row.ValueDate,
		EventDate:        row.ValueDate,
		CurrencyCode:     ccy,
		Amount:           feeAmount, // positive fee, zero or negative means no fee
		Beneficiary:      row.Beneficiary,
		Detail:           row.Detail,
		InstructedAmount: row.InstructedAmount,
		SettledAmount:    row.SettledAmount,
	}, nil
}

var swiftDescriptor = &Descriptor{
	Tag:          "swift",
	RawTable:     "raw_swift",
	MergeColumn:  "swift_id",
	Shape:        ShapeSwift,
	DecodeRecord: decodeSwiftRecord,
	Filter:       func(models.SourceRecord) bool { return false },
	AccountKey:   func(r models.SourceRecord) string { return r.AccountKey },
	FeePredicate: func(r models.SourceRecord) bool { return r.Amount > 0 },
	NormalizeAmount: func(r models.SourceRecord) float64 {
		return -r.Amount
	},
	BuildDescription: func(r models.SourceRecord) string {
		parts := make([]string, 0, 2)
		for _, p := range []string{"Transfer fee", r.Beneficiary, r.Detail} {
			if strings.TrimSpace(p) != "" {
				parts = append(parts, strings.TrimSpace(p))
			}
		}
		return strings.Join(parts, " ")
	},
	DefaultChargeType: models.ChargeTypeNone,
	EmitOnlyFees:      true,
}
