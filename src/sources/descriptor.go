package sources

import (
	"fmt"

	"github.com/username/clearledger/backend/src/models"
)

// Shape selects the raw store layout a source writes into. The five bank
// feeds share one shape, the three card networks another.
type Shape string

const (
	ShapeBank    Shape = "bank"
	ShapeCard    Shape = "card"
	ShapeSwift   Shape = "swift"
	ShapeCrypto  Shape = "crypto"
	ShapeDeposit Shape = "deposit"
)

// Descriptor parameterizes the generic ingestion pipeline for one source.
// The legacy system carried nine near-identical handlers differing only in
// field names and code vocabularies; everything source-specific now lives
// here and the pipeline itself stays generic.
type Descriptor struct {
	Tag         string
	RawTable    string
	MergeColumn string
	Shape       Shape

	// Currency of every row in the feed; empty when the row carries its own
	// currency code.
	Currency models.Currency

	// DecodeRecord turns one scraper-delivered JSON object into the
	// normalized intermediate record. Errors fail that record only.
	DecodeRecord func(raw []byte) (models.SourceRecord, error)

	// Filter reports rows that are not transactions at all (summary lines,
	// zero-amount discounts) and must be dropped before any Charge or
	// Transaction exists.
	Filter func(models.SourceRecord) bool

	// AccountKey extracts the source-native account identifier handed to the
	// Account Resolver.
	AccountKey func(models.SourceRecord) string

	// Activity-code vocabularies. Conversion codes trigger the cross-feed
	// sibling lookup and a CONVERSION charge; deposit codes trigger the same
	// lookup without retyping; payroll codes type a fresh charge PAYROLL.
	ConversionCodes map[int]bool
	DepositCodes    map[int]bool
	PayrollCodes    map[int]bool

	// FeePredicate marks the transaction as a fee. Independent of charge type.
	FeePredicate func(models.SourceRecord) bool

	// NormalizeAmount flips the source's native sign convention to the
	// canonical debit-negative one.
	NormalizeAmount func(models.SourceRecord) float64

	BuildDescription func(models.SourceRecord) string
	CounterAccount   func(models.SourceRecord) string

	// DefaultChargeType types charges created for this feed when no code
	// vocabulary says otherwise (manual deposits => BANK_DEPOSIT).
	DefaultChargeType models.ChargeType

	// EmitOnlyFees suppresses the non-fee transaction entirely. Used by the
	// SWIFT feed: the local-currency leg of a transfer is already captured by
	// the bank feed, so only a detected fee becomes a Transaction.
	EmitOnlyFees bool
}

// registry holds every known feed. Order matters only for All().
var registry = []*Descriptor{
	bankILSDescriptor,
	bankUSDDescriptor,
	bankEURDescriptor,
	bankGBPDescriptor,
	bankCADDescriptor,
	visaDescriptor,
	mastercardDescriptor,
	amexDescriptor,
	swiftDescriptor,
	cryptoDescriptor,
	depositDescriptor,
}

func Get(tag string) (*Descriptor, error) {
	for _, d := range registry {
		if d.Tag == tag {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no descriptor available for source: %s", tag)
}

func All() []*Descriptor {
	return registry
}

// BankMatchTargets lists the raw tables searched by the cross-currency
// sibling lookup for bank-feed conversion and own-account-transfer legs,
// with the merge_rows column that joins each of them.
func BankMatchTargets() []MatchTarget {
	return []MatchTarget{
		{Table: "raw_bank_ils", MergeColumn: "ils_bank_id"},
		{Table: "raw_bank_usd", MergeColumn: "usd_bank_id"},
		{Table: "raw_bank_eur", MergeColumn: "eur_bank_id"},
		{Table: "raw_bank_gbp", MergeColumn: "gbp_bank_id"},
		{Table: "raw_bank_cad", MergeColumn: "cad_bank_id"},
	}
}

// CryptoMatchTargets covers crypto trades, whose two legs both live in the
// crypto ledger and share a trade reference.
func CryptoMatchTargets() []MatchTarget {
	return []MatchTarget{
		{Table: "raw_crypto", MergeColumn: "crypto_id"},
	}
}

// MatchTargets returns the candidate set the sibling lookup unions for a
// given descriptor, or nil when the feed never participates in matching.
func (d *Descriptor) MatchTargets() []MatchTarget {
	switch d.Shape {
	case ShapeBank:
		return BankMatchTargets()
	case ShapeCrypto:
		return CryptoMatchTargets()
	default:
		return nil
	}
}

type MatchTarget struct {
	Table       string
	MergeColumn string
}
