package ingestion

import (
	"database/sql"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/username/clearledger/backend/src/database"
	"github.com/username/clearledger/backend/src/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	db := database.DB
	seedAccounts(t, db)
	return NewService(db, nil), db
}

func seedAccounts(t *testing.T, db *sql.DB) {
	t.Helper()
	accounts := []struct {
		ownerID int64
		number  string
		accType string
	}{
		{100, "12345", "BANK_ILS"},
		{100, "67890", "BANK_USD"},
		{100, "22334", "BANK_EUR"},
		{100, "card:4580", "CREDIT_CARD"},
		{100, "555001", "BANK_ILS"},
		{100, "deposit:fix-123", "DEPOSIT"},
		{100, "acct-1", "CRYPTO"},
	}
	for _, a := range accounts {
		if _, err := db.Exec(
			`INSERT INTO financial_accounts (owner_id, account_number, type) VALUES (?, ?, ?)`,
			a.ownerID, a.number, a.accType,
		); err != nil {
			t.Fatalf("seeding account %s: %v", a.number, err)
		}
	}
}

func ingest(t *testing.T, s *Service, source string, rows ...map[string]any) *BatchResult {
	t.Helper()
	body, err := json.Marshal(rows)
	if err != nil {
		t.Fatalf("marshaling batch: %v", err)
	}
	result, err := s.IngestBatch(source, strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("IngestBatch(%s): %v", source, err)
	}
	return result
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	return n
}

func bankRow(account string, code int, amount float64, overrides map[string]any) map[string]any {
	row := map[string]any{
		"account_number":             account,
		"activity_type_code":         code,
		"reference_number":           "777001",
		"reference_catenated_number": "001",
		"activity_description":       "PURCHASE",
		"value_date":                 "2024-03-10",
		"event_date":                 "2024-03-10",
		"event_amount":               amount,
	}
	for k, v := range overrides {
		row[k] = v
	}
	return row
}

func TestIngestIdempotence(t *testing.T) {
	s, db := newTestService(t)

	row := bankRow("12345", 300, 250, nil)

	first := ingest(t, s, "ils_bank", row)
	if first.Ingested != 1 || first.Failed != 0 {
		t.Fatalf("first ingest: got %+v", first)
	}

	second := ingest(t, s, "ils_bank", row)
	if second.Duplicates != 1 || second.Ingested != 0 {
		t.Fatalf("second ingest should be absorbed as duplicate, got %+v", second)
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM transactions`); n != 1 {
		t.Errorf("expected 1 transaction, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM merge_rows`); n != 1 {
		t.Errorf("expected 1 merge row, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM raw_bank_ils`); n != 1 {
		t.Errorf("expected 1 raw row, got %d", n)
	}
}

func TestMergeRowExclusivity(t *testing.T) {
	s, db := newTestService(t)

	ingest(t, s, "ils_bank", bankRow("12345", 300, 100, nil))
	ingest(t, s, "usd_bank", bankRow("67890", 300, 40, map[string]any{"reference_number": "777002"}))
	ingest(t, s, "deposit", map[string]any{
		"deposit_key": "fix-123", "amount": 5000.0, "currency_code": "ILS", "value_date": "2024-03-01",
	})

	violations := countRows(t, db, `
		SELECT COUNT(*) FROM merge_rows WHERE
			(ils_bank_id IS NOT NULL) + (usd_bank_id IS NOT NULL) +
			(eur_bank_id IS NOT NULL) + (gbp_bank_id IS NOT NULL) +
			(cad_bank_id IS NOT NULL) + (visa_id IS NOT NULL) +
			(mastercard_id IS NOT NULL) + (amex_id IS NOT NULL) +
			(swift_id IS NOT NULL) + (crypto_id IS NOT NULL) +
			(deposit_id IS NOT NULL) != 1`)
	if violations != 0 {
		t.Errorf("found %d merge rows violating exclusivity", violations)
	}

	// The constraint is standing, not a convention: a two-reference row is
	// rejected outright.
	if _, err := db.Exec(`INSERT INTO merge_rows (ils_bank_id, usd_bank_id) VALUES (1, 1)`); err == nil {
		t.Error("expected CHECK constraint to reject merge row with two references")
	}
}

func TestConversionMergeOrderIndependent(t *testing.T) {
	usdLeg := bankRow("67890", 22, -1000, map[string]any{
		"reference_number":           "888100",
		"reference_catenated_number": "42",
		"value_date":                 "2024-04-01",
		"event_date":                 "2024-04-01",
		"activity_description":       "FX BUY",
	})
	eurLeg := bankRow("22334", 23, 920, map[string]any{
		"reference_number":           "888100",
		"reference_catenated_number": "42",
		"value_date":                 "2024-04-01",
		"event_date":                 "2024-04-01",
		"activity_description":       "FX SELL",
	})

	cases := []struct {
		name   string
		order  []string
		first  map[string]any
		second map[string]any
	}{
		{"usd first", []string{"usd_bank", "eur_bank"}, usdLeg, eurLeg},
		{"eur first", []string{"eur_bank", "usd_bank"}, eurLeg, usdLeg},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, db := newTestService(t)

			ingest(t, s, tc.order[0], tc.first)
			ingest(t, s, tc.order[1], tc.second)

			if n := countRows(t, db, `SELECT COUNT(*) FROM transactions`); n != 2 {
				t.Fatalf("expected 2 transactions, got %d", n)
			}
			if n := countRows(t, db, `SELECT COUNT(DISTINCT charge_id) FROM transactions`); n != 1 {
				t.Fatalf("expected both legs on one charge, got %d charges", n)
			}

			var chargeType string
			if err := db.QueryRow(`SELECT type FROM charges`).Scan(&chargeType); err != nil {
				t.Fatalf("reading charge type: %v", err)
			}
			if chargeType != "CONVERSION" {
				t.Errorf("expected CONVERSION charge, got %s", chargeType)
			}
		})
	}
}

func TestEmptyReferenceConversionsStayApart(t *testing.T) {
	s, db := newTestService(t)

	// Two conversion-coded rows without references share nothing but a value
	// date; they must not be grouped into one charge.
	ingest(t, s, "usd_bank", bankRow("67890", 22, -1000, map[string]any{
		"reference_number":           "",
		"reference_catenated_number": "",
		"activity_description":       "FX BUY",
	}))
	ingest(t, s, "eur_bank", bankRow("22334", 23, 500, map[string]any{
		"reference_number":           "",
		"reference_catenated_number": "",
		"activity_description":       "FX SELL",
	}))

	if n := countRows(t, db, `SELECT COUNT(DISTINCT charge_id) FROM transactions`); n != 2 {
		t.Fatalf("unrelated empty-reference conversions must keep separate charges, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM charges WHERE type = 'CONVERSION'`); n != 2 {
		t.Errorf("expected 2 CONVERSION charges, got %d", n)
	}
}

func TestOwnAccountTransferReusesChargeWithoutRetyping(t *testing.T) {
	s, db := newTestService(t)

	out := bankRow("12345", 170, 3000, map[string]any{
		"reference_number": "555123", "activity_description": "TRANSFER OUT",
	})
	in := bankRow("67890", 171, -800, map[string]any{
		"reference_number": "555123", "activity_description": "TRANSFER IN",
	})

	ingest(t, s, "ils_bank", out)
	ingest(t, s, "usd_bank", in)

	if n := countRows(t, db, `SELECT COUNT(DISTINCT charge_id) FROM transactions`); n != 1 {
		t.Fatalf("expected both transfer legs on one charge, got %d charges", n)
	}

	var chargeType string
	if err := db.QueryRow(`SELECT type FROM charges`).Scan(&chargeType); err != nil {
		t.Fatalf("reading charge type: %v", err)
	}
	if chargeType != "NONE" {
		t.Errorf("own-account transfer must not retype the charge, got %s", chargeType)
	}
}

func TestFeeClassification(t *testing.T) {
	cases := []struct {
		name  string
		row   map[string]any
		isFee bool
	}{
		{"commission with fee text code", bankRow("12345", 441, 15, map[string]any{"text_code": "FC", "reference_number": "1"}), true},
		{"commission with other text code", bankRow("12345", 441, 15, map[string]any{"text_code": "XX", "reference_number": "2"}), false},
		{"sundry commission small amount", bankRow("12345", 475, 12, map[string]any{"reference_number": "3"}), true},
		{"sundry commission large amount", bankRow("12345", 475, 100, map[string]any{"reference_number": "4"}), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, db := newTestService(t)
			ingest(t, s, "ils_bank", tc.row)

			var isFee bool
			if err := db.QueryRow(`SELECT is_fee FROM transactions`).Scan(&isFee); err != nil {
				t.Fatalf("reading fee marker: %v", err)
			}
			if isFee != tc.isFee {
				t.Errorf("fee marker = %v, want %v", isFee, tc.isFee)
			}
		})
	}
}

func TestAmountSignNormalization(t *testing.T) {
	s, db := newTestService(t)

	// The bank feed reports debits as positive; the canonical convention is
	// debit-negative.
	ingest(t, s, "ils_bank", bankRow("12345", 300, 250, nil))

	var amount float64
	if err := db.QueryRow(`SELECT amount FROM transactions`).Scan(&amount); err != nil {
		t.Fatalf("reading amount: %v", err)
	}
	if math.Abs(amount-(-250)) > 1e-9 {
		t.Errorf("amount = %f, want -250", amount)
	}
}

func TestAccountNotFoundFailsRecordLoudly(t *testing.T) {
	s, db := newTestService(t)

	result := ingest(t, s, "ils_bank",
		bankRow("99999", 300, 10, map[string]any{"reference_number": "10"}),
		bankRow("12345", 300, 20, map[string]any{"reference_number": "11"}),
	)

	if result.Failed != 1 || result.Ingested != 1 {
		t.Fatalf("expected 1 failed and 1 ingested, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0].Error, "financial account not found") {
		t.Errorf("expected loud account-not-found error, got %+v", result.Errors)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM transactions`); n != 1 {
		t.Errorf("good record in the batch must still commit, got %d transactions", n)
	}
}

func TestUnrecognizedCurrencyFailsRecord(t *testing.T) {
	s, db := newTestService(t)

	result := ingest(t, s, "visa", map[string]any{
		"card_last4":    "4580",
		"supplier_name": "ACME",
		"purchase_date": "2024-05-01",
		"amount":        99.0,
		"currency_code": "XYZ",
	})

	if result.Failed != 1 {
		t.Fatalf("expected currency failure, got %+v", result)
	}
	if !strings.Contains(result.Errors[0].Error, "unrecognized currency code") {
		t.Errorf("expected unrecognized-currency error, got %q", result.Errors[0].Error)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM transactions`); n != 0 {
		t.Errorf("failed record must not write a transaction, got %d", n)
	}
}

func TestFilteredRowsCreateNothing(t *testing.T) {
	s, db := newTestService(t)

	result := ingest(t, s, "ils_bank",
		bankRow("12345", 0, 0, map[string]any{"activity_description": "TOTAL FOR DATE"}),
	)
	if result.Filtered != 1 {
		t.Fatalf("expected summary row to be filtered, got %+v", result)
	}

	cardResult := ingest(t, s, "visa", map[string]any{
		"card_last4":    "4580",
		"supplier_name": "CASHBACK",
		"purchase_date": "2024-05-01",
		"amount":        0.0,
		"currency_code": "ILS",
	})
	if cardResult.Filtered != 1 {
		t.Fatalf("expected zero-amount card line to be filtered, got %+v", cardResult)
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM charges`); n != 0 {
		t.Errorf("filtered rows must not create charges, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM merge_rows`); n != 0 {
		t.Errorf("filtered rows must not register merge rows, got %d", n)
	}
}

func TestPayrollChargeType(t *testing.T) {
	s, db := newTestService(t)

	ingest(t, s, "ils_bank", bankRow("12345", 86, 18000, map[string]any{
		"activity_description": "SALARY", "reference_number": "909090",
	}))

	var chargeType string
	if err := db.QueryRow(`SELECT type FROM charges`).Scan(&chargeType); err != nil {
		t.Fatalf("reading charge type: %v", err)
	}
	if chargeType != "PAYROLL" {
		t.Errorf("expected PAYROLL charge, got %s", chargeType)
	}
}

func TestDepositChargeType(t *testing.T) {
	s, db := newTestService(t)

	ingest(t, s, "deposit", map[string]any{
		"deposit_key": "fix-123", "amount": 5000.0, "currency_code": "ILS", "value_date": "2024-03-01",
	})

	var chargeType string
	if err := db.QueryRow(`SELECT type FROM charges`).Scan(&chargeType); err != nil {
		t.Fatalf("reading charge type: %v", err)
	}
	if chargeType != "BANK_DEPOSIT" {
		t.Errorf("expected BANK_DEPOSIT charge, got %s", chargeType)
	}
}

func TestSwiftFeeEmission(t *testing.T) {
	s, db := newTestService(t)

	result := ingest(t, s, "swift",
		map[string]any{
			"account_number":    "555001",
			"reference":         "REF-1",
			"value_date":        "2024-01-01",
			"instructed_amount": "USD500,00",
			"settled_amount":    "210101USD480,00",
		},
		map[string]any{
			"account_number":    "555001",
			"reference":         "REF-2",
			"value_date":        "2024-01-02",
			"instructed_amount": "USD300,00",
			"settled_amount":    "210102USD300,00",
		},
	)
	if result.Ingested != 2 || result.Failed != 0 {
		t.Fatalf("expected both swift rows ingested, got %+v", result)
	}

	// Only the fee-bearing transfer yields a Transaction; the principal leg
	// is already represented by the bank feed.
	if n := countRows(t, db, `SELECT COUNT(*) FROM transactions`); n != 1 {
		t.Fatalf("expected exactly 1 fee transaction, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM merge_rows`); n != 2 {
		t.Errorf("both swift rows must register merge rows, got %d", n)
	}

	var amount float64
	var isFee bool
	if err := db.QueryRow(`SELECT amount, is_fee FROM transactions`).Scan(&amount, &isFee); err != nil {
		t.Fatalf("reading fee transaction: %v", err)
	}
	if math.Abs(amount-(-20)) > 1e-9 {
		t.Errorf("fee amount = %f, want -20", amount)
	}
	if !isFee {
		t.Error("fee marker not set on swift fee transaction")
	}
}

func TestMalformedSwiftRecordFailsAlone(t *testing.T) {
	s, db := newTestService(t)

	result := ingest(t, s, "swift",
		map[string]any{
			"account_number":    "555001",
			"reference":         "BAD",
			"value_date":        "2024-01-03",
			"instructed_amount": "USD5oo,00",
			"settled_amount":    "210103USD480,00",
		},
		map[string]any{
			"account_number":    "555001",
			"reference":         "GOOD",
			"value_date":        "2024-01-04",
			"instructed_amount": "USD100,00",
			"settled_amount":    "210104USD90,00",
		},
	)

	if result.Failed != 1 || result.Ingested != 1 {
		t.Fatalf("expected malformed record to fail alone, got %+v", result)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM transactions`); n != 1 {
		t.Errorf("good swift record must still commit, got %d transactions", n)
	}
}

func TestCryptoTradeLegsShareConversionCharge(t *testing.T) {
	s, db := newTestService(t)

	ingest(t, s, "crypto",
		map[string]any{
			"account_key": "acct-1", "activity_type": "trade", "trade_ref": "T-9",
			"asset": "BTC", "amount": -0.5, "value_date": "2024-06-01",
		},
		map[string]any{
			"account_key": "acct-1", "activity_type": "trade", "trade_ref": "T-9",
			"asset": "USDT", "amount": 31000.0, "value_date": "2024-06-01",
		},
	)

	if n := countRows(t, db, `SELECT COUNT(DISTINCT charge_id) FROM transactions`); n != 1 {
		t.Fatalf("expected both trade legs on one charge, got %d charges", n)
	}
	var chargeType string
	if err := db.QueryRow(`SELECT type FROM charges`).Scan(&chargeType); err != nil {
		t.Fatalf("reading charge type: %v", err)
	}
	if chargeType != "CONVERSION" {
		t.Errorf("expected CONVERSION charge for trade legs, got %s", chargeType)
	}
}
