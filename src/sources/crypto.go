package sources

import (
	"encoding/json"
	"fmt"

	"github.com/username/clearledger/backend/src/models"
)

// Internal numeric codes for the exchange's activity vocabulary. The raw
// store keeps the native strings; the pipeline's code sets work on these.
const (
	CryptoCodeTrade = iota + 1
	CryptoCodeDeposit
	CryptoCodeWithdrawal
	CryptoCodeFee
)

var cryptoActivityCodes = map[string]int{
	"trade":      CryptoCodeTrade,
	"deposit":    CryptoCodeDeposit,
	"withdrawal": CryptoCodeWithdrawal,
	"fee":        CryptoCodeFee,
}

// cryptoRow mirrors one exchange ledger/trade record. Amounts are signed
// debit-negative natively. The two legs of a trade share a trade reference
// and value date, which is the conversion matching triple for this feed.
type cryptoRow struct {
	AccountKey   string  `json:"account_key"`
	ActivityType string  `json:"activity_type"`
	TradeRef     string  `json:"trade_ref"`
	Asset        string  `json:"asset"`
	Amount       float64 `json:"amount"`
	ValueDate    string  `json:"value_date"`
}

func decodeCryptoRecord(raw []byte) (models.SourceRecord, error) {
	var row cryptoRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return models.SourceRecord{}, fmt.Errorf("%w: %v", models.ErrMalformedRecord, err)
	}
	code, ok := cryptoActivityCodes[row.ActivityType]
	if !ok {
		return models.SourceRecord{}, fmt.Errorf("%w: unknown crypto activity type %q", models.ErrMalformedRecord, row.ActivityType)
	}
	if row.AccountKey == "" || row.ValueDate == "" {
		return models.SourceRecord{}, fmt.Errorf("%w: crypto row missing account key or value date", models.ErrMalformedRecord)
	}
	return models.SourceRecord{
		SourceTag:           "crypto",
		AccountKey:          row.AccountKey,
		ActivityCode:        code,
		ActivityDescription: row.ActivityType,
		ReferenceNumber:     row.TradeRef,
		ValueDate:           row.ValueDate,
		EventDate:           row.ValueDate,
		Amount:              row.Amount,
		CurrencyCode:        row.Asset,
	}, nil
}

var cryptoDescriptor = &Descriptor{
	Tag:             "crypto",
	RawTable:        "raw_crypto",
	MergeColumn:     "crypto_id",
	Shape:           ShapeCrypto,
	DecodeRecord:    decodeCryptoRecord,
	Filter:          func(models.SourceRecord) bool { return false },
	AccountKey:      func(r models.SourceRecord) string { return r.AccountKey },
	ConversionCodes: map[int]bool{CryptoCodeTrade: true},
	FeePredicate: func(r models.SourceRecord) bool {
		return r.ActivityCode == CryptoCodeFee
	},
	// Already debit-negative natively.
	NormalizeAmount: func(r models.SourceRecord) float64 { return r.Amount },
	BuildDescription: func(r models.SourceRecord) string {
		if r.ReferenceNumber != "" {
			return r.ActivityDescription + " " + r.ReferenceNumber
		}
		return r.ActivityDescription
	},
	DefaultChargeType: models.ChargeTypeNone,
}
