package views

import (
	"testing"

	"github.com/username/clearledger/backend/src/models"
)

func cardPurchase(last4, date, currency string, amount float64) map[string]any {
	return map[string]any{
		"card_last4":     last4,
		"voucher_number": "V-100",
		"supplier_name":  "ACME",
		"purchase_date":  date,
		"amount":         amount,
		"currency_code":  currency,
	}
}

func cardDebitEvent(valueDate, reference string) map[string]any {
	return map[string]any{
		"account_number":     "12345",
		"activity_type_code": 473,
		"reference_number":   reference,
		"value_date":         valueDate,
		"event_date":         valueDate,
		"event_amount":       350.0,
	}
}

func findBySource(t *testing.T, txs []ExtendedTransaction, origin string) ExtendedTransaction {
	t.Helper()
	for _, tx := range txs {
		if tx.SourceOrigin == origin {
			return tx
		}
	}
	t.Fatalf("no transaction with source origin %s", origin)
	return ExtendedTransaction{}
}

func TestEffectiveDebitDateFromCardDebitEvent(t *testing.T) {
	db, s := newViewTestDB(t)

	ingestRows(t, s, "visa", cardPurchase("4580", "2024-05-01", "ILS", 120))
	ingestRows(t, s, "ils_bank", cardDebitEvent("2024-05-20", "00458012"))

	viewer := NewTransactionViewer(db, nil, 40)
	txs, err := viewer.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	card := findBySource(t, txs, "visa")
	if card.EffectiveDebitDate == nil || *card.EffectiveDebitDate != "2024-05-20" {
		t.Errorf("EffectiveDebitDate = %v, want 2024-05-20", card.EffectiveDebitDate)
	}
}

func TestEffectiveDebitDateOutsideWindow(t *testing.T) {
	db, s := newViewTestDB(t)

	ingestRows(t, s, "visa", cardPurchase("4580", "2024-01-01", "ILS", 120))
	// 60 days later, past the 40-day window.
	ingestRows(t, s, "ils_bank", cardDebitEvent("2024-03-01", "00458012"))

	viewer := NewTransactionViewer(db, nil, 40)
	txs, err := viewer.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	card := findBySource(t, txs, "visa")
	if card.EffectiveDebitDate != nil {
		t.Errorf("EffectiveDebitDate = %v, want nil past the window", *card.EffectiveDebitDate)
	}
}

func TestEffectiveDebitDatePrefersStoredDebitDate(t *testing.T) {
	db, s := newViewTestDB(t)

	purchase := cardPurchase("4580", "2024-05-01", "ILS", 120)
	purchase["debit_date"] = "2024-05-10"
	ingestRows(t, s, "visa", purchase)
	ingestRows(t, s, "ils_bank", cardDebitEvent("2024-05-20", "00458012"))

	viewer := NewTransactionViewer(db, nil, 40)
	txs, err := viewer.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	card := findBySource(t, txs, "visa")
	if card.EffectiveDebitDate == nil || *card.EffectiveDebitDate != "2024-05-10" {
		t.Errorf("EffectiveDebitDate = %v, want the stored 2024-05-10", card.EffectiveDebitDate)
	}
}

func TestEffectiveDebitDateSkipsForeignCurrencyPurchases(t *testing.T) {
	db, s := newViewTestDB(t)

	ingestRows(t, s, "visa", cardPurchase("4580", "2024-05-01", "USD", 120))
	ingestRows(t, s, "ils_bank", cardDebitEvent("2024-05-20", "00458012"))

	viewer := NewTransactionViewer(db, nil, 40)
	txs, err := viewer.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	card := findBySource(t, txs, "visa")
	if card.Currency != models.CurrencyUSD {
		t.Fatalf("Currency = %s, want USD", card.Currency)
	}
	if card.EffectiveDebitDate != nil {
		t.Errorf("EffectiveDebitDate = %v, want nil for foreign-currency purchase", *card.EffectiveDebitDate)
	}
}

func TestEffectiveDebitDatePicksNearestEvent(t *testing.T) {
	db, s := newViewTestDB(t)

	ingestRows(t, s, "visa", cardPurchase("4580", "2024-05-01", "ILS", 120))
	ingestRows(t, s, "ils_bank",
		cardDebitEvent("2024-06-02", "00458012"),
		cardDebitEvent("2024-05-10", "00458011"),
	)

	viewer := NewTransactionViewer(db, nil, 40)
	txs, err := viewer.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	card := findBySource(t, txs, "visa")
	if card.EffectiveDebitDate == nil || *card.EffectiveDebitDate != "2024-05-10" {
		t.Errorf("EffectiveDebitDate = %v, want the nearest 2024-05-10", card.EffectiveDebitDate)
	}
}
