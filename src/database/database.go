package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/clearledger/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// bankRawTable is the shared shape of the five per-currency bank feeds.
const bankRawTable = `(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_number TEXT NOT NULL,
	activity_type_code INTEGER NOT NULL,
	text_code TEXT,
	reference_number TEXT,
	reference_catenated_number TEXT,
	activity_description TEXT,
	beneficiary TEXT,
	detail TEXT,
	value_date TEXT NOT NULL,
	event_date TEXT NOT NULL,
	debit_date TEXT,
	event_amount REAL NOT NULL,
	current_balance REAL,
	counter_bank TEXT,
	counter_branch TEXT,
	counter_account TEXT,
	hash_id TEXT NOT NULL UNIQUE
);`

// cardRawTable is the shared shape of the three card-network statements.
const cardRawTable = `(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	card_last4 TEXT NOT NULL,
	voucher_number TEXT,
	supplier_name TEXT,
	supplier_city TEXT,
	purchase_date TEXT NOT NULL,
	debit_date TEXT,
	amount REAL NOT NULL,
	currency_code TEXT NOT NULL,
	hash_id TEXT NOT NULL UNIQUE
);`

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if _, err := DB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		stdlog.Fatalf("failed to enable foreign keys: %v", err)
	}

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS financial_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		account_number TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS raw_bank_ils ` + bankRawTable + `
	CREATE TABLE IF NOT EXISTS raw_bank_usd ` + bankRawTable + `
	CREATE TABLE IF NOT EXISTS raw_bank_eur ` + bankRawTable + `
	CREATE TABLE IF NOT EXISTS raw_bank_gbp ` + bankRawTable + `
	CREATE TABLE IF NOT EXISTS raw_bank_cad ` + bankRawTable + `

	CREATE TABLE IF NOT EXISTS raw_card_visa ` + cardRawTable + `
	CREATE TABLE IF NOT EXISTS raw_card_mc ` + cardRawTable + `
	CREATE TABLE IF NOT EXISTS raw_card_amex ` + cardRawTable + `

	CREATE TABLE IF NOT EXISTS raw_swift (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_number TEXT NOT NULL,
		reference_number TEXT,
		value_date TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		instructed_amount TEXT NOT NULL,
		settled_amount TEXT NOT NULL,
		beneficiary TEXT,
		detail TEXT,
		hash_id TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS raw_crypto (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_key TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		reference_number TEXT,
		reference_catenated_number TEXT,
		asset TEXT NOT NULL,
		amount REAL NOT NULL,
		value_date TEXT NOT NULL,
		hash_id TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS raw_deposit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deposit_key TEXT NOT NULL,
		amount REAL NOT NULL,
		currency_code TEXT NOT NULL,
		value_date TEXT NOT NULL,
		hash_id TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS merge_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ils_bank_id INTEGER REFERENCES raw_bank_ils(id),
		usd_bank_id INTEGER REFERENCES raw_bank_usd(id),
		eur_bank_id INTEGER REFERENCES raw_bank_eur(id),
		gbp_bank_id INTEGER REFERENCES raw_bank_gbp(id),
		cad_bank_id INTEGER REFERENCES raw_bank_cad(id),
		visa_id INTEGER REFERENCES raw_card_visa(id),
		mastercard_id INTEGER REFERENCES raw_card_mc(id),
		amex_id INTEGER REFERENCES raw_card_amex(id),
		swift_id INTEGER REFERENCES raw_swift(id),
		crypto_id INTEGER REFERENCES raw_crypto(id),
		deposit_id INTEGER REFERENCES raw_deposit(id),
		CHECK (
			(ils_bank_id IS NOT NULL) + (usd_bank_id IS NOT NULL) +
			(eur_bank_id IS NOT NULL) + (gbp_bank_id IS NOT NULL) +
			(cad_bank_id IS NOT NULL) + (visa_id IS NOT NULL) +
			(mastercard_id IS NOT NULL) + (amex_id IS NOT NULL) +
			(swift_id IS NOT NULL) + (crypto_id IS NOT NULL) +
			(deposit_id IS NOT NULL) = 1
		)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_ils_bank ON merge_rows(ils_bank_id) WHERE ils_bank_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_usd_bank ON merge_rows(usd_bank_id) WHERE usd_bank_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_eur_bank ON merge_rows(eur_bank_id) WHERE eur_bank_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_gbp_bank ON merge_rows(gbp_bank_id) WHERE gbp_bank_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_cad_bank ON merge_rows(cad_bank_id) WHERE cad_bank_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_visa ON merge_rows(visa_id) WHERE visa_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_mastercard ON merge_rows(mastercard_id) WHERE mastercard_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_amex ON merge_rows(amex_id) WHERE amex_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_swift ON merge_rows(swift_id) WHERE swift_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_crypto ON merge_rows(crypto_id) WHERE crypto_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_merge_deposit ON merge_rows(deposit_id) WHERE deposit_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS charges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT 'NONE',
		accountant_status TEXT NOT NULL DEFAULT 'UNAPPROVED',
		user_description TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES financial_accounts(id),
		charge_id INTEGER NOT NULL REFERENCES charges(id),
		source_id INTEGER NOT NULL REFERENCES merge_rows(id),
		source_description TEXT,
		currency TEXT NOT NULL,
		event_date TEXT NOT NULL,
		debit_date TEXT,
		debit_timestamp TEXT,
		amount REAL NOT NULL,
		current_balance REAL,
		is_fee BOOLEAN NOT NULL DEFAULT FALSE,
		source_reference TEXT,
		source_origin TEXT NOT NULL,
		counter_account TEXT,
		currency_rate REAL,
		business_id INTEGER,
		UNIQUE(source_id)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_charge ON transactions(charge_id);

	CREATE TABLE IF NOT EXISTS businesses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		charge_id INTEGER NOT NULL REFERENCES charges(id),
		doc_type TEXT NOT NULL,
		date TEXT NOT NULL,
		total_amount REAL NOT NULL,
		currency TEXT NOT NULL,
		creditor_id INTEGER,
		debtor_id INTEGER
	);

	CREATE TABLE IF NOT EXISTS ledger_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		charge_id INTEGER NOT NULL REFERENCES charges(id),
		invoice_date TEXT NOT NULL,
		credit_entity INTEGER,
		debit_entity INTEGER,
		amount REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS charge_tags (
		charge_id INTEGER NOT NULL REFERENCES charges(id),
		tag TEXT NOT NULL,
		UNIQUE(charge_id, tag)
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}

	migrateTransactionsTable()

	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migrateTransactionsTable adds columns introduced after the first schema
// version to databases created before them.
func migrateTransactionsTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='transactions'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'transactions' table", "error", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(transactions)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'transactions'", "error", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'transactions'", "error", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'transactions'", "error", err)
		}
		return
	}

	if _, ok := columnExists["debit_timestamp"]; !ok {
		if _, err := DB.Exec("ALTER TABLE transactions ADD COLUMN debit_timestamp TEXT"); err != nil {
			logger.L.Error("Error adding 'debit_timestamp' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'debit_timestamp' column to 'transactions' table")
		}
	}
	if _, ok := columnExists["business_id"]; !ok {
		if _, err := DB.Exec("ALTER TABLE transactions ADD COLUMN business_id INTEGER"); err != nil {
			logger.L.Error("Error adding 'business_id' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'business_id' column to 'transactions' table")
		}
	}
}
