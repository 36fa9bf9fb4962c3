package models

// Currency is the canonical currency enum used by the ledger. Raw source
// codes are mapped through ParseCurrency; anything unrecognized is an error,
// never a silent default.
type Currency string

const (
	CurrencyILS  Currency = "ILS" // local currency
	CurrencyUSD  Currency = "USD"
	CurrencyEUR  Currency = "EUR"
	CurrencyGBP  Currency = "GBP"
	CurrencyCAD  Currency = "CAD"
	CurrencyUSDT Currency = "USDT"
	CurrencyBTC  Currency = "BTC"
	CurrencyETH  Currency = "ETH"
)

// currencyAliases maps source-native currency codes to the canonical enum.
var currencyAliases = map[string]Currency{
	"ILS":  CurrencyILS,
	"NIS":  CurrencyILS,
	"ש\"ח": CurrencyILS,
	"USD":  CurrencyUSD,
	"$":    CurrencyUSD,
	"EUR":  CurrencyEUR,
	"GBP":  CurrencyGBP,
	"CAD":  CurrencyCAD,
	"USDT": CurrencyUSDT,
	"BTC":  CurrencyBTC,
	"ETH":  CurrencyETH,
}

// ChargeType classifies the real-world event a Charge represents.
type ChargeType string

const (
	ChargeTypeNone        ChargeType = "NONE"
	ChargeTypeConversion  ChargeType = "CONVERSION"
	ChargeTypePayroll     ChargeType = "PAYROLL"
	ChargeTypeBankDeposit ChargeType = "BANK_DEPOSIT"
)

// Charge groups one or more Transactions that belong to one real-world
// financial event (a purchase, the two legs of a currency conversion, a
// payroll run, a deposit). Created lazily by the first Transaction that
// needs it and never deleted, except as the losing side of a
// duplicate-conversion merge.
type Charge struct {
	ID               int64      `json:"id"`
	OwnerID          int64      `json:"owner_id"`
	Type             ChargeType `json:"type"`
	AccountantStatus string     `json:"accountant_status"`
	UserDescription  string     `json:"user_description"`
	CreatedAt        string     `json:"created_at"`
	UpdatedAt        string     `json:"updated_at"`
}

// Transaction is the canonical, source-normalized movement. Amount is always
// debit-negative regardless of the source's native sign convention. Dates are
// ISO "2006-01-02" strings so they sort lexicographically in SQLite.
type Transaction struct {
	ID                int64    `json:"id"`
	AccountID         int64    `json:"account_id"`
	ChargeID          int64    `json:"charge_id"`
	SourceID          int64    `json:"source_id"` // merge_rows.id
	SourceDescription string   `json:"source_description"`
	Currency          Currency `json:"currency"`
	EventDate         string   `json:"event_date"`
	DebitDate         *string  `json:"debit_date"`
	DebitTimestamp    *string  `json:"debit_timestamp"`
	Amount            float64  `json:"amount"`
	CurrentBalance    float64  `json:"current_balance"`
	IsFee             bool     `json:"is_fee"`
	SourceReference   string   `json:"source_reference"`
	SourceOrigin      string   `json:"source_origin"`
	CounterAccount    string   `json:"counter_account"`
	CurrencyRate      float64  `json:"currency_rate"`
	BusinessID        *int64   `json:"business_id"`
}

// MergeRow is the exclusive join key between one raw source row and the
// canonical schema. Exactly one of the per-source reference ids is non-null;
// the database enforces this with a CHECK constraint.
type MergeRow struct {
	ID           int64  `json:"id"`
	ILSBankID    *int64 `json:"ils_bank_id"`
	USDBankID    *int64 `json:"usd_bank_id"`
	EURBankID    *int64 `json:"eur_bank_id"`
	GBPBankID    *int64 `json:"gbp_bank_id"`
	CADBankID    *int64 `json:"cad_bank_id"`
	VisaID       *int64 `json:"visa_id"`
	MastercardID *int64 `json:"mastercard_id"`
	AmexID       *int64 `json:"amex_id"`
	SwiftID      *int64 `json:"swift_id"`
	CryptoID     *int64 `json:"crypto_id"`
	DepositID    *int64 `json:"deposit_id"`
}

// FinancialAccount is static reference data maintained out-of-band. The
// resolver only reads it.
type FinancialAccount struct {
	ID            int64  `json:"id"`
	OwnerID       int64  `json:"owner_id"`
	AccountNumber string `json:"account_number"`
	Type          string `json:"type"`
}
