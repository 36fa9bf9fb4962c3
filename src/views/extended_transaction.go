package views

import (
	"database/sql"
	"fmt"

	"github.com/patrickmn/go-cache"
	"github.com/username/clearledger/backend/src/logger"
	"github.com/username/clearledger/backend/src/models"
	"github.com/username/clearledger/backend/src/sources"
)

const ckExtendedTransactions = "view_extended_transactions"

// ExtendedTransaction is the canonical Transaction plus the derived
// effective debit date. Origin metadata (source tag, reference, currency
// rate) already lives on the Transaction itself.
type ExtendedTransaction struct {
	models.Transaction
	EffectiveDebitDate *string `json:"effective_debit_date"`
}

// TransactionViewer recomputes the extended transaction view on read. Pure
// derivation over the canonical tables; safe to run concurrently with
// ingestion.
type TransactionViewer struct {
	db              *sql.DB
	viewCache       *cache.Cache
	debitWindowDays int
}

func NewTransactionViewer(db *sql.DB, viewCache *cache.Cache, debitWindowDays int) *TransactionViewer {
	return &TransactionViewer{db: db, viewCache: viewCache, debitWindowDays: debitWindowDays}
}

func isCardSource(origin string) bool {
	return origin == "visa" || origin == "mastercard" || origin == "amex"
}

// List returns the extended view of every transaction, newest first.
func (v *TransactionViewer) List() ([]ExtendedTransaction, error) {
	if v.viewCache != nil {
		if cached, found := v.viewCache.Get(ckExtendedTransactions); found {
			logger.L.Debug("Cache hit for extended transactions")
			return cached.([]ExtendedTransaction), nil
		}
	}

	rows, err := v.db.Query(
		`SELECT id, account_id, charge_id, source_id, source_description, currency,
		        event_date, debit_date, debit_timestamp, amount, current_balance,
		        is_fee, source_reference, source_origin, counter_account,
		        currency_rate, business_id
		 FROM transactions ORDER BY event_date DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var result []ExtendedTransaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.ChargeID, &tx.SourceID, &tx.SourceDescription,
			&tx.Currency, &tx.EventDate, &tx.DebitDate, &tx.DebitTimestamp, &tx.Amount,
			&tx.CurrentBalance, &tx.IsFee, &tx.SourceReference, &tx.SourceOrigin,
			&tx.CounterAccount, &tx.CurrencyRate, &tx.BusinessID,
		); err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		et, err := v.extend(tx)
		if err != nil {
			return nil, err
		}
		result = append(result, et)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transaction rows: %w", err)
	}

	if v.viewCache != nil {
		v.viewCache.Set(ckExtendedTransactions, result, cache.DefaultExpiration)
	}
	return result, nil
}

// extend computes the effective debit date. User-edited debit dates land in
// the debit_date column, so a present value always wins; otherwise, for a
// local-currency card purchase, the nearest later card-debit event in the
// ILS bank feed within the configured window supplies it.
func (v *TransactionViewer) extend(tx models.Transaction) (ExtendedTransaction, error) {
	et := ExtendedTransaction{Transaction: tx}

	if tx.DebitDate != nil && *tx.DebitDate != "" {
		et.EffectiveDebitDate = tx.DebitDate
		return et, nil
	}

	if !isCardSource(tx.SourceOrigin) || tx.Currency != models.CurrencyILS {
		return et, nil
	}

	last4, err := v.cardLast4(tx.SourceID)
	if err != nil {
		return et, err
	}
	if last4 == "" {
		return et, nil
	}

	var debitDate string
	err = v.db.QueryRow(
		`SELECT value_date FROM raw_bank_ils
		 WHERE activity_type_code = ?
		   AND reference_number LIKE '%' || ? || '%'
		   AND value_date >= ?
		   AND value_date <= date(?, ?)
		 ORDER BY value_date ASC LIMIT 1`,
		sources.BankCodeCardDebit, last4,
		tx.EventDate, tx.EventDate, fmt.Sprintf("+%d days", v.debitWindowDays),
	).Scan(&debitDate)
	if err == sql.ErrNoRows {
		return et, nil
	}
	if err != nil {
		return et, fmt.Errorf("looking up card debit event for transaction %d: %w", tx.ID, err)
	}

	et.EffectiveDebitDate = &debitDate
	return et, nil
}

// cardLast4 walks the merge row back to whichever card raw table produced
// the transaction.
func (v *TransactionViewer) cardLast4(mergeID int64) (string, error) {
	var last4 sql.NullString
	err := v.db.QueryRow(
		`SELECT COALESCE(vi.card_last4, mc.card_last4, am.card_last4)
		 FROM merge_rows m
		 LEFT JOIN raw_card_visa vi ON m.visa_id = vi.id
		 LEFT JOIN raw_card_mc mc ON m.mastercard_id = mc.id
		 LEFT JOIN raw_card_amex am ON m.amex_id = am.id
		 WHERE m.id = ?`, mergeID,
	).Scan(&last4)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving card last4 for merge row %d: %w", mergeID, err)
	}
	return last4.String, nil
}
