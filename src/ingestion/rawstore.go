package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/username/clearledger/backend/src/models"
	"github.com/username/clearledger/backend/src/sources"
)

// recordHash derives the idempotency key for a raw row. Re-scraped rows hash
// identically and are absorbed as no-ops.
func recordHash(rec models.SourceRecord) string {
	input := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%f|%s|%s|%s",
		rec.SourceTag, rec.AccountKey, rec.ActivityCode, rec.TextCode,
		rec.ReferenceNumber, rec.ReferenceCatenated, rec.ValueDate,
		rec.EventDate, rec.Amount, rec.SupplierName,
		rec.InstructedAmount, rec.SettledAmount)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// insertRaw stores the source-native row in the feed's raw table. A hash_id
// collision means the row was already ingested and maps to
// models.ErrDuplicateIngestion.
func insertRaw(q querier, d *sources.Descriptor, rec models.SourceRecord) (int64, error) {
	var (
		res interface {
			LastInsertId() (int64, error)
		}
		err error
	)

	switch d.Shape {
	case sources.ShapeBank:
		res, err = q.Exec(
			`INSERT INTO `+d.RawTable+` (account_number, activity_type_code, text_code,
				reference_number, reference_catenated_number, activity_description,
				beneficiary, detail, value_date, event_date, debit_date, event_amount,
				current_balance, counter_bank, counter_branch, counter_account, hash_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.AccountKey, rec.ActivityCode, rec.TextCode,
			rec.ReferenceNumber, rec.ReferenceCatenated, rec.ActivityDescription,
			rec.Beneficiary, rec.Detail, rec.ValueDate, rec.EventDate, nullable(rec.DebitDate),
			rec.Amount, rec.CurrentBalance, rec.CounterBank, rec.CounterBranch,
			rec.CounterAccount, rec.HashID)
	case sources.ShapeCard:
		res, err = q.Exec(
			`INSERT INTO `+d.RawTable+` (card_last4, voucher_number, supplier_name,
				supplier_city, purchase_date, debit_date, amount, currency_code, hash_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.CardLast4, rec.ReferenceNumber, rec.SupplierName, rec.SupplierCity,
			rec.EventDate, nullable(rec.DebitDate), rec.Amount, rec.CurrencyCode, rec.HashID)
	case sources.ShapeSwift:
		res, err = q.Exec(
			`INSERT INTO raw_swift (account_number, reference_number, value_date,
				currency_code, instructed_amount, settled_amount, beneficiary, detail, hash_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.AccountKey, rec.ReferenceNumber, rec.ValueDate, rec.CurrencyCode,
			rec.InstructedAmount, rec.SettledAmount, rec.Beneficiary, rec.Detail, rec.HashID)
	case sources.ShapeCrypto:
		res, err = q.Exec(
			`INSERT INTO raw_crypto (account_key, activity_type, reference_number,
				reference_catenated_number, asset, amount, value_date, hash_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.AccountKey, rec.ActivityDescription, rec.ReferenceNumber,
			rec.ReferenceCatenated, rec.CurrencyCode, rec.Amount, rec.ValueDate, rec.HashID)
	case sources.ShapeDeposit:
		res, err = q.Exec(
			`INSERT INTO raw_deposit (deposit_key, amount, currency_code, value_date, hash_id)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.AccountKey, rec.Amount, rec.CurrencyCode, rec.ValueDate, rec.HashID)
	default:
		return 0, fmt.Errorf("unknown raw store shape %q for source %s", d.Shape, d.Tag)
	}

	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
			return 0, models.ErrDuplicateIngestion
		}
		return 0, fmt.Errorf("inserting raw %s row: %w", d.Tag, err)
	}
	return res.LastInsertId()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
