package models

import "fmt"

// SourceRecord is the unified, intermediate representation of one raw source
// row. Each source decoder is responsible for populating as many of these
// fields as its feed exposes; the generic pipeline (filter, match, register,
// write) only ever sees this shape plus the source's Descriptor.
type SourceRecord struct {
	SourceTag  string `json:"source_tag"`
	AccountKey string `json:"account_key"`

	// Matching key shared by the bank feeds and the crypto trade log.
	ReferenceNumber    string `json:"reference_number"`
	ReferenceCatenated string `json:"reference_catenated_number"`
	ValueDate          string `json:"value_date"` // ISO 2006-01-02

	// Source-native activity vocabulary.
	ActivityCode        int    `json:"activity_code"`
	TextCode            string `json:"text_code"`
	ActivityDescription string `json:"activity_description"`

	EventDate string `json:"event_date"`
	DebitDate string `json:"debit_date"` // empty when the feed carries none

	// Amount as the source reports it, native sign convention. The
	// descriptor's amount normalizer flips it to debit-negative.
	Amount         float64 `json:"amount"`
	CurrencyCode   string  `json:"currency_code"`
	CurrentBalance float64 `json:"current_balance"`
	CurrencyRate   float64 `json:"currency_rate"`

	// Description fragments; which ones are set depends on the feed.
	Beneficiary  string `json:"beneficiary"`
	Detail       string `json:"detail"`
	SupplierName string `json:"supplier_name"`
	SupplierCity string `json:"supplier_city"`

	// Counterparty bank/branch/account triple, bank feeds only.
	CounterBank    string `json:"counter_bank"`
	CounterBranch  string `json:"counter_branch"`
	CounterAccount string `json:"counter_account"`

	// SWIFT fixed-format amount fields (33B instructed, 32A settled).
	InstructedAmount string `json:"instructed_amount"`
	SettledAmount    string `json:"settled_amount"`

	CardLast4 string `json:"card_last4"`

	// Filled in by the pipeline once the raw row is stored.
	RawID  int64  `json:"-"`
	HashID string `json:"-"`
}

// Triple returns the cross-source matching key used by conversion and
// own-account-transfer sibling lookups.
func (r SourceRecord) Triple() string {
	return fmt.Sprintf("%s|%s|%s", r.ReferenceNumber, r.ReferenceCatenated, r.ValueDate)
}

// ParseCurrency maps a source-native currency code to the canonical enum.
func ParseCurrency(code string) (Currency, error) {
	if c, ok := currencyAliases[code]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedCurrency, code)
}
