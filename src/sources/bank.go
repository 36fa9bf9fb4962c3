package sources

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/username/clearledger/backend/src/models"
)

// Activity-type codes shared by the five bank feeds.
const (
	BankCodeConversionBuy    = 22  // foreign currency purchased
	BankCodeConversionSell   = 23  // foreign currency sold
	BankCodePayroll          = 86  // salary payment
	BankCodeTransferOut      = 170 // transfer between own accounts, outgoing
	BankCodeTransferIn       = 171 // transfer between own accounts, incoming
	BankCodeCommission       = 441 // commission line, fee when text code matches
	BankCodeSundryCommission = 475 // sundry commission, fee when amount <= 30
	BankCodeCardDebit        = 473 // card installment debit, used by the read views
)

// Text codes that mark a 441 commission line as a fee.
var bankFeeTextCodes = map[string]bool{
	"F":  true,
	"FC": true,
	"ML": true,
}

// bankRow mirrors the scraper's JSON for one per-currency bank ledger row.
// The feed reports debits as positive amounts.
type bankRow struct {
	AccountNumber            string  `json:"account_number"`
	ActivityTypeCode         int     `json:"activity_type_code"`
	TextCode                 string  `json:"text_code"`
	ReferenceNumber          string  `json:"reference_number"`
	ReferenceCatenatedNumber string  `json:"reference_catenated_number"`
	ActivityDescription      string  `json:"activity_description"`
	Beneficiary              string  `json:"beneficiary"`
	Detail                   string  `json:"detail"`
	ValueDate                string  `json:"value_date"`
	EventDate                string  `json:"event_date"`
	DebitDate                string  `json:"debit_date"`
	EventAmount              float64 `json:"event_amount"`
	CurrentBalance           float64 `json:"current_balance"`
	CounterBank              string  `json:"counter_bank"`
	CounterBranch            string  `json:"counter_branch"`
	CounterAccount           string  `json:"counter_account"`
}

func decodeBankRecord(tag string) func([]byte) (models.SourceRecord, error) {
	return func(raw []byte) (models.SourceRecord, error) {
		var row bankRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return models.SourceRecord{}, fmt.Errorf("%w: %v", models.ErrMalformedRecord, err)
		}
		if row.AccountNumber == "" || row.EventDate == "" {
			return models.SourceRecord{}, fmt.Errorf("%w: bank row missing account number or event date", models.ErrMalformedRecord)
		}
		return models.SourceRecord{
			SourceTag:           tag,
			AccountKey:          strings.TrimLeft(row.AccountNumber, "0"),
			ActivityCode:        row.ActivityTypeCode,
			TextCode:            row.TextCode,
			ReferenceNumber:     row.ReferenceNumber,
			ReferenceCatenated:  row.ReferenceCatenatedNumber,
			ActivityDescription: row.ActivityDescription,
			Beneficiary:         row.Beneficiary,
			Detail:              row.Detail,
			ValueDate:           row.ValueDate,
			EventDate:           row.EventDate,
			DebitDate:           row.DebitDate,
			Amount:              row.EventAmount,
			CurrentBalance:      row.CurrentBalance,
			CounterBank:         row.CounterBank,
			CounterBranch:       row.CounterBranch,
			CounterAccount:      row.CounterAccount,
		}, nil
	}
}

// bankFilter drops the per-day summary rows the feed interleaves with real
// activity.
func bankFilter(r models.SourceRecord) bool {
	if r.ActivityCode == 0 {
		return true
	}
	return strings.Contains(strings.ToUpper(r.ActivityDescription), "TOTAL FOR DATE")
}

func bankFee(r models.SourceRecord) bool {
	if r.ActivityCode == BankCodeCommission && bankFeeTextCodes[r.TextCode] {
		return true
	}
	if r.ActivityCode == BankCodeSundryCommission && math.Abs(r.Amount) <= 30 {
		return true
	}
	return false
}

// bankAmount flips the feed's debit-positive convention to debit-negative.
func bankAmount(r models.SourceRecord) float64 {
	return -r.Amount
}

func bankDescription(r models.SourceRecord) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.ActivityDescription, r.Beneficiary, r.Detail} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, " ")
}

// bankCounterAccount formats the counterparty bank/branch/account triple
// when the feed exposes one.
func bankCounterAccount(r models.SourceRecord) string {
	if r.CounterBank == "" && r.CounterBranch == "" && r.CounterAccount == "" {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", r.CounterBank, r.CounterBranch, r.CounterAccount)
}

func newBankDescriptor(tag, rawTable, mergeColumn string, currency models.Currency) *Descriptor {
	return &Descriptor{
		Tag:          tag,
		RawTable:     rawTable,
		MergeColumn:  mergeColumn,
		Shape:        ShapeBank,
		Currency:     currency,
		DecodeRecord: decodeBankRecord(tag),
		Filter:       bankFilter,
		AccountKey:   func(r models.SourceRecord) string { return r.AccountKey },
		ConversionCodes: map[int]bool{
			BankCodeConversionBuy:  true,
			BankCodeConversionSell: true,
		},
		DepositCodes: map[int]bool{
			BankCodeTransferOut: true,
			BankCodeTransferIn:  true,
		},
		PayrollCodes:      map[int]bool{BankCodePayroll: true},
		FeePredicate:      bankFee,
		NormalizeAmount:   bankAmount,
		BuildDescription:  bankDescription,
		CounterAccount:    bankCounterAccount,
		DefaultChargeType: models.ChargeTypeNone,
	}
}

var (
	bankILSDescriptor = newBankDescriptor("ils_bank", "raw_bank_ils", "ils_bank_id", models.CurrencyILS)
	bankUSDDescriptor = newBankDescriptor("usd_bank", "raw_bank_usd", "usd_bank_id", models.CurrencyUSD)
	bankEURDescriptor = newBankDescriptor("eur_bank", "raw_bank_eur", "eur_bank_id", models.CurrencyEUR)
	bankGBPDescriptor = newBankDescriptor("gbp_bank", "raw_bank_gbp", "gbp_bank_id", models.CurrencyGBP)
	bankCADDescriptor = newBankDescriptor("cad_bank", "raw_bank_cad", "cad_bank_id", models.CurrencyCAD)
)
