package views

import (
	"database/sql"
	"fmt"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/clearledger/backend/src/logger"
	"github.com/username/clearledger/backend/src/models"
)

const ckExtendedCharges = "view_extended_charges"

// ExtendedCharge aggregates one Charge across its transactions, matched
// documents and ledger records. TransactionsCurrency is nil when the
// transactions span more than one currency; a half-reconciled conversion
// simply reports single-currency until the sibling leg lands.
type ExtendedCharge struct {
	Charge models.Charge `json:"charge"`

	MinEventDate         *string          `json:"min_event_date"`
	MaxEventDate         *string          `json:"max_event_date"`
	EventAmount          float64          `json:"event_amount"`
	TransactionsCount    int              `json:"transactions_count"`
	TransactionsCurrency *models.Currency `json:"transactions_currency"`

	// Invalid marks charges a bookkeeper still has work on: some non-fee
	// transaction is missing its business attribution or its debit date.
	Invalid bool `json:"invalid"`

	// The single attributed counterparty, set only when exactly one non-fee
	// counterparty appears across transactions, documents and ledger records.
	BusinessID *int64 `json:"business_id"`

	InvoiceMinDate *string `json:"invoice_min_date"`
	InvoiceMaxDate *string `json:"invoice_max_date"`
	InvoiceAmount  float64 `json:"invoice_amount"`
	ReceiptMinDate *string `json:"receipt_min_date"`
	ReceiptMaxDate *string `json:"receipt_max_date"`
	ReceiptAmount  float64 `json:"receipt_amount"`

	LedgerCount   int      `json:"ledger_count"`
	LedgerMinDate *string  `json:"ledger_min_date"`
	LedgerMaxDate *string  `json:"ledger_max_date"`
	Tags          []string `json:"tags"`
}

// ChargeViewer recomputes the extended charge view on read.
type ChargeViewer struct {
	db        *sql.DB
	viewCache *cache.Cache
}

func NewChargeViewer(db *sql.DB, viewCache *cache.Cache) *ChargeViewer {
	return &ChargeViewer{db: db, viewCache: viewCache}
}

// List returns the extended view of every charge, newest first.
func (v *ChargeViewer) List() ([]ExtendedCharge, error) {
	if v.viewCache != nil {
		if cached, found := v.viewCache.Get(ckExtendedCharges); found {
			logger.L.Debug("Cache hit for extended charges")
			return cached.([]ExtendedCharge), nil
		}
	}

	rows, err := v.db.Query(`SELECT id FROM charges ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying charges: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning charge id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating charge ids: %w", err)
	}

	var result []ExtendedCharge
	for _, id := range ids {
		ec, err := v.Get(id)
		if err != nil {
			return nil, err
		}
		result = append(result, *ec)
	}

	if v.viewCache != nil {
		v.viewCache.Set(ckExtendedCharges, result, cache.DefaultExpiration)
	}
	return result, nil
}

// Get recomputes the extended view for one charge.
func (v *ChargeViewer) Get(chargeID int64) (*ExtendedCharge, error) {
	ec := &ExtendedCharge{Tags: []string{}}

	err := v.db.QueryRow(
		`SELECT id, owner_id, type, accountant_status, COALESCE(user_description, ''),
		        created_at, updated_at
		 FROM charges WHERE id = ?`, chargeID,
	).Scan(&ec.Charge.ID, &ec.Charge.OwnerID, &ec.Charge.Type, &ec.Charge.AccountantStatus,
		&ec.Charge.UserDescription, &ec.Charge.CreatedAt, &ec.Charge.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("charge %d not found", chargeID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading charge %d: %w", chargeID, err)
	}

	counterparties := make(map[int64]bool)

	if err := v.aggregateTransactions(ec, counterparties); err != nil {
		return nil, err
	}
	if err := v.aggregateDocuments(ec, counterparties); err != nil {
		return nil, err
	}
	if err := v.aggregateLedger(ec, counterparties); err != nil {
		return nil, err
	}
	if err := v.loadTags(ec); err != nil {
		return nil, err
	}

	if len(counterparties) == 1 {
		for id := range counterparties {
			businessID := id
			ec.BusinessID = &businessID
		}
	}
	return ec, nil
}

func (v *ChargeViewer) aggregateTransactions(ec *ExtendedCharge, counterparties map[int64]bool) error {
	rows, err := v.db.Query(
		`SELECT currency, event_date, debit_date, amount, is_fee, business_id
		 FROM transactions WHERE charge_id = ?`, ec.Charge.ID)
	if err != nil {
		return fmt.Errorf("querying transactions of charge %d: %w", ec.Charge.ID, err)
	}
	defer rows.Close()

	sum := decimal.Zero
	currencies := make(map[models.Currency]bool)
	var lastCurrency models.Currency

	for rows.Next() {
		var (
			currency   models.Currency
			eventDate  string
			debitDate  sql.NullString
			amount     float64
			isFee      bool
			businessID sql.NullInt64
		)
		if err := rows.Scan(&currency, &eventDate, &debitDate, &amount, &isFee, &businessID); err != nil {
			return fmt.Errorf("scanning transaction of charge %d: %w", ec.Charge.ID, err)
		}

		ec.TransactionsCount++
		sum = sum.Add(decimal.NewFromFloat(amount))
		currencies[currency] = true
		lastCurrency = currency

		if ec.MinEventDate == nil || eventDate < *ec.MinEventDate {
			d := eventDate
			ec.MinEventDate = &d
		}
		if ec.MaxEventDate == nil || eventDate > *ec.MaxEventDate {
			d := eventDate
			ec.MaxEventDate = &d
		}

		if !isFee {
			if !businessID.Valid || !debitDate.Valid {
				ec.Invalid = true
			}
			if businessID.Valid {
				counterparties[businessID.Int64] = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating transactions of charge %d: %w", ec.Charge.ID, err)
	}

	ec.EventAmount, _ = sum.Float64()
	if len(currencies) == 1 {
		ec.TransactionsCurrency = &lastCurrency
	}
	return nil
}

func (v *ChargeViewer) aggregateDocuments(ec *ExtendedCharge, counterparties map[int64]bool) error {
	rows, err := v.db.Query(
		`SELECT doc_type, date, total_amount, creditor_id, debtor_id
		 FROM documents WHERE charge_id = ?`, ec.Charge.ID)
	if err != nil {
		return fmt.Errorf("querying documents of charge %d: %w", ec.Charge.ID, err)
	}
	defer rows.Close()

	invoiceSum := decimal.Zero
	receiptSum := decimal.Zero

	for rows.Next() {
		var (
			docType     string
			date        string
			totalAmount float64
			creditorID  sql.NullInt64
			debtorID    sql.NullInt64
		)
		if err := rows.Scan(&docType, &date, &totalAmount, &creditorID, &debtorID); err != nil {
			return fmt.Errorf("scanning document of charge %d: %w", ec.Charge.ID, err)
		}

		// Amounts are signed from the owner's side: documents where the
		// owner is the debtor are outflows.
		amount := decimal.NewFromFloat(totalAmount)
		if debtorID.Valid && debtorID.Int64 == ec.Charge.OwnerID {
			amount = amount.Neg()
		}

		if creditorID.Valid && creditorID.Int64 != ec.Charge.OwnerID {
			counterparties[creditorID.Int64] = true
		}
		if debtorID.Valid && debtorID.Int64 != ec.Charge.OwnerID {
			counterparties[debtorID.Int64] = true
		}

		isInvoice := docType == "INVOICE" || docType == "INVOICE_RECEIPT"
		isReceipt := docType == "RECEIPT" || docType == "INVOICE_RECEIPT"

		if isInvoice {
			invoiceSum = invoiceSum.Add(amount)
			if ec.InvoiceMinDate == nil || date < *ec.InvoiceMinDate {
				d := date
				ec.InvoiceMinDate = &d
			}
			if ec.InvoiceMaxDate == nil || date > *ec.InvoiceMaxDate {
				d := date
				ec.InvoiceMaxDate = &d
			}
		}
		if isReceipt {
			receiptSum = receiptSum.Add(amount)
			if ec.ReceiptMinDate == nil || date < *ec.ReceiptMinDate {
				d := date
				ec.ReceiptMinDate = &d
			}
			if ec.ReceiptMaxDate == nil || date > *ec.ReceiptMaxDate {
				d := date
				ec.ReceiptMaxDate = &d
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating documents of charge %d: %w", ec.Charge.ID, err)
	}

	ec.InvoiceAmount, _ = invoiceSum.Float64()
	ec.ReceiptAmount, _ = receiptSum.Float64()
	return nil
}

func (v *ChargeViewer) aggregateLedger(ec *ExtendedCharge, counterparties map[int64]bool) error {
	rows, err := v.db.Query(
		`SELECT invoice_date, credit_entity, debit_entity
		 FROM ledger_records WHERE charge_id = ?`, ec.Charge.ID)
	if err != nil {
		return fmt.Errorf("querying ledger records of charge %d: %w", ec.Charge.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			invoiceDate  string
			creditEntity sql.NullInt64
			debitEntity  sql.NullInt64
		)
		if err := rows.Scan(&invoiceDate, &creditEntity, &debitEntity); err != nil {
			return fmt.Errorf("scanning ledger record of charge %d: %w", ec.Charge.ID, err)
		}

		ec.LedgerCount++
		if ec.LedgerMinDate == nil || invoiceDate < *ec.LedgerMinDate {
			d := invoiceDate
			ec.LedgerMinDate = &d
		}
		if ec.LedgerMaxDate == nil || invoiceDate > *ec.LedgerMaxDate {
			d := invoiceDate
			ec.LedgerMaxDate = &d
		}

		if creditEntity.Valid && creditEntity.Int64 != ec.Charge.OwnerID {
			counterparties[creditEntity.Int64] = true
		}
		if debitEntity.Valid && debitEntity.Int64 != ec.Charge.OwnerID {
			counterparties[debitEntity.Int64] = true
		}
	}
	return rows.Err()
}

func (v *ChargeViewer) loadTags(ec *ExtendedCharge) error {
	rows, err := v.db.Query(
		`SELECT tag FROM charge_tags WHERE charge_id = ? ORDER BY tag`, ec.Charge.ID)
	if err != nil {
		return fmt.Errorf("querying tags of charge %d: %w", ec.Charge.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("scanning tag of charge %d: %w", ec.Charge.ID, err)
		}
		ec.Tags = append(ec.Tags, tag)
	}
	return rows.Err()
}
