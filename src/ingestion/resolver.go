package ingestion

import (
	"database/sql"
	"fmt"

	"github.com/username/clearledger/backend/src/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the resolver can run
// inside the per-record transaction.
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// AccountResolver maps a source-native account identifier to the internal
// (account_id, owner_id) pair. Unmapped identifiers always fail loudly; the
// legacy silent null-owner behavior is not reproduced.
type AccountResolver struct{}

func NewAccountResolver() *AccountResolver { return &AccountResolver{} }

func (r *AccountResolver) Resolve(q querier, accountKey string) (accountID, ownerID int64, err error) {
	err = q.QueryRow(
		`SELECT id, owner_id FROM financial_accounts WHERE account_number = ?`,
		accountKey,
	).Scan(&accountID, &ownerID)
	if err == sql.ErrNoRows {
		return 0, 0, fmt.Errorf("%w: %q", models.ErrAccountNotFound, accountKey)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("resolving account %q: %w", accountKey, err)
	}
	return accountID, ownerID, nil
}
