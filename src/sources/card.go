package sources

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/username/clearledger/backend/src/models"
)

// cardRow mirrors one card-network statement line. The three processors
// deliver the same shape under different endpoints; debits are positive
// natively.
type cardRow struct {
	CardLast4     string  `json:"card_last4"`
	VoucherNumber string  `json:"voucher_number"`
	SupplierName  string  `json:"supplier_name"`
	SupplierCity  string  `json:"supplier_city"`
	PurchaseDate  string  `json:"purchase_date"`
	DebitDate     string  `json:"debit_date"`
	Amount        float64 `json:"amount"`
	CurrencyCode  string  `json:"currency_code"`
}

func decodeCardRecord(tag string) func([]byte) (models.SourceRecord, error) {
	return func(raw []byte) (models.SourceRecord, error) {
		var row cardRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return models.SourceRecord{}, fmt.Errorf("%w: %v", models.ErrMalformedRecord, err)
		}
		if row.CardLast4 == "" || row.PurchaseDate == "" {
			return models.SourceRecord{}, fmt.Errorf("%w: card row missing last4 or purchase date", models.ErrMalformedRecord)
		}
		return models.SourceRecord{
			SourceTag:       tag,
			AccountKey:      "card:" + row.CardLast4,
			CardLast4:       row.CardLast4,
			ReferenceNumber: row.VoucherNumber,
			SupplierName:    row.SupplierName,
			SupplierCity:    row.SupplierCity,
			ValueDate:       row.PurchaseDate,
			EventDate:       row.PurchaseDate,
			DebitDate:       row.DebitDate,
			Amount:          row.Amount,
			CurrencyCode:    row.CurrencyCode,
		}, nil
	}
}

// cardFilter drops zero-amount discount/cashback informational lines.
func cardFilter(r models.SourceRecord) bool {
	return r.Amount == 0
}

func cardDescription(r models.SourceRecord) string {
	name := strings.TrimSpace(r.SupplierName)
	city := strings.TrimSpace(r.SupplierCity)
	if city == "" {
		return name
	}
	return name + " " + city
}

func newCardDescriptor(tag, rawTable, mergeColumn string) *Descriptor {
	return &Descriptor{
		Tag:          tag,
		RawTable:     rawTable,
		MergeColumn:  mergeColumn,
		Shape:        ShapeCard,
		DecodeRecord: decodeCardRecord(tag),
		Filter:       cardFilter,
		AccountKey:   func(r models.SourceRecord) string { return r.AccountKey },
		NormalizeAmount: func(r models.SourceRecord) float64 {
			return -r.Amount
		},
		BuildDescription:  cardDescription,
		DefaultChargeType: models.ChargeTypeNone,
	}
}

var (
	visaDescriptor       = newCardDescriptor("visa", "raw_card_visa", "visa_id")
	mastercardDescriptor = newCardDescriptor("mastercard", "raw_card_mc", "mastercard_id")
	amexDescriptor       = newCardDescriptor("amex", "raw_card_amex", "amex_id")
)
