package sources

import (
	"encoding/json"
	"fmt"

	"github.com/username/clearledger/backend/src/models"
)

// depositRow mirrors one manual deposit-product record. The account
// identifier is synthetic: deposit products have no bank account number of
// their own, so the resolver matches on "deposit:<key>".
type depositRow struct {
	DepositKey   string  `json:"deposit_key"`
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currency_code"`
	ValueDate    string  `json:"value_date"`
}

func decodeDepositRecord(raw []byte) (models.SourceRecord, error) {
	var row depositRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return models.SourceRecord{}, fmt.Errorf("%w: %v", models.ErrMalformedRecord, err)
	}
	if row.DepositKey == "" || row.ValueDate == "" {
		return models.SourceRecord{}, fmt.Errorf("%w: deposit row missing key or value date", models.ErrMalformedRecord)
	}
	return models.SourceRecord{
		SourceTag:    "deposit",
		AccountKey:   "deposit:" + row.DepositKey,
		ValueDate:    row.ValueDate,
		EventDate:    row.ValueDate,
		Amount:       row.Amount,
		CurrencyCode: row.CurrencyCode,
	}, nil
}

var depositDescriptor = &Descriptor{
	Tag:          "deposit",
	RawTable:     "raw_deposit",
	MergeColumn:  "deposit_id",
	Shape:        ShapeDeposit,
	DecodeRecord: decodeDepositRecord,
	Filter:       func(models.SourceRecord) bool { return false },
	AccountKey:   func(r models.SourceRecord) string { return r.AccountKey },
	// The feed reports movements signed credit-positive already.
	NormalizeAmount: func(r models.SourceRecord) float64 { return r.Amount },
	BuildDescription: func(r models.SourceRecord) string {
		return "Deposit " + r.AccountKey
	},
	DefaultChargeType: models.ChargeTypeBankDeposit,
}
