package ingestion

import (
	"database/sql"
	"fmt"

	"github.com/username/clearledger/backend/src/logger"
	"github.com/username/clearledger/backend/src/models"
	"github.com/username/clearledger/backend/src/sources"
)

// TransactionWriter builds the canonical Transaction row for a record:
// amount flipped to debit-negative, currency mapped through the canonical
// enum (fail-loud on unknown codes), description and counterparty built per
// descriptor. Writes exactly once per merge row.
type TransactionWriter struct{}

func NewTransactionWriter() *TransactionWriter { return &TransactionWriter{} }

// Write inserts the Transaction under chargeID. It reports false without
// error when the row already exists (idempotent re-run) or when the
// descriptor emits only fees and none was detected.
func (w *TransactionWriter) Write(q querier, d *sources.Descriptor, rec models.SourceRecord, accountID, chargeID, mergeID int64) (bool, error) {
	isFee := d.FeePredicate != nil && d.FeePredicate(rec)
	if d.EmitOnlyFees && !isFee {
		return false, nil
	}

	currency := d.Currency
	if currency == "" {
		var err error
		currency, err = models.ParseCurrency(rec.CurrencyCode)
		if err != nil {
			return false, err
		}
	}

	var existing int64
	err := q.QueryRow(`SELECT id FROM transactions WHERE source_id = ?`, mergeID).Scan(&existing)
	if err == nil {
		logger.L.Debug("Transaction already written for merge row, skipping",
			"source", d.Tag, "mergeID", mergeID, "transactionID", existing)
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("checking existing transaction for merge row %d: %w", mergeID, err)
	}

	amount := d.NormalizeAmount(rec)
	description := d.BuildDescription(rec)

	counterAccount := ""
	if d.CounterAccount != nil {
		counterAccount = d.CounterAccount(rec)
	}

	_, err = q.Exec(
		`INSERT INTO transactions (account_id, charge_id, source_id, source_description,
			currency, event_date, debit_date, amount, current_balance, is_fee,
			source_reference, source_origin, counter_account, currency_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		accountID, chargeID, mergeID, description,
		currency, rec.EventDate, nullable(rec.DebitDate), amount, rec.CurrentBalance, isFee,
		rec.ReferenceNumber, d.Tag, counterAccount, rec.CurrencyRate,
	)
	if err != nil {
		return false, fmt.Errorf("inserting transaction for %s merge row %d: %w", d.Tag, mergeID, err)
	}
	return true, nil
}
