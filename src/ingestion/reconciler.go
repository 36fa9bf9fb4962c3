package ingestion

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/username/clearledger/backend/src/logger"
	"github.com/username/clearledger/backend/src/models"
	"github.com/username/clearledger/backend/src/sources"
)

// Reconciler is the post-hoc sweep that heals what the online pipeline
// cannot guarantee across processes: same-triple conversion legs that ended
// up on two Charges are merged into one, and charges tagged as salary are
// retyped PAYROLL.
type Reconciler struct {
	db        *sql.DB
	viewCache *cache.Cache
}

func NewReconciler(db *sql.DB, viewCache *cache.Cache) *Reconciler {
	return &Reconciler{db: db, viewCache: viewCache}
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	MergedCharges  int `json:"merged_charges"`
	RetypedPayroll int `json:"retyped_payroll"`
}

func (r *Reconciler) Run() (*SweepResult, error) {
	result := &SweepResult{}

	merged, err := r.mergeDuplicateConversionCharges()
	if err != nil {
		return nil, err
	}
	result.MergedCharges = merged

	retyped, err := r.retypeSalaryTaggedCharges()
	if err != nil {
		return nil, err
	}
	result.RetypedPayroll = retyped

	if (merged > 0 || retyped > 0) && r.viewCache != nil {
		r.viewCache.Flush()
	}
	return result, nil
}

// tripleCharges maps each matching triple found in the matchable raw tables
// to the distinct CONVERSION charge ids holding its transactions.
func (r *Reconciler) tripleCharges() (map[string][]int64, error) {
	targets := append(sources.BankMatchTargets(), sources.CryptoMatchTargets()...)

	selects := make([]string, 0, len(targets))
	for _, t := range targets {
		selects = append(selects, fmt.Sprintf(
			`SELECT r.reference_number || '|' || r.reference_catenated_number || '|' || r.value_date AS triple,
			        t.charge_id
			 FROM %s r
			 JOIN merge_rows m ON m.%s = r.id
			 JOIN transactions t ON t.source_id = m.id
			 JOIN charges c ON c.id = t.charge_id
			 WHERE c.type = '%s' AND r.reference_number != ''`,
			t.Table, t.MergeColumn, models.ChargeTypeConversion))
	}
	query := strings.Join(selects, " UNION ")

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("scanning conversion triples: %w", err)
	}
	defer rows.Close()

	byTriple := make(map[string][]int64)
	for rows.Next() {
		var triple string
		var chargeID int64
		if err := rows.Scan(&triple, &chargeID); err != nil {
			return nil, fmt.Errorf("scanning triple row: %w", err)
		}
		found := false
		for _, id := range byTriple[triple] {
			if id == chargeID {
				found = true
				break
			}
		}
		if !found {
			byTriple[triple] = append(byTriple[triple], chargeID)
		}
	}
	return byTriple, rows.Err()
}

// mergeDuplicateConversionCharges moves all transactions of same-triple
// duplicate CONVERSION charges onto the oldest charge and deletes the rest.
// This is the documented auto-heal for legs that raced past the online lock.
func (r *Reconciler) mergeDuplicateConversionCharges() (int, error) {
	byTriple, err := r.tripleCharges()
	if err != nil {
		return 0, err
	}

	merged := 0
	for triple, chargeIDs := range byTriple {
		if len(chargeIDs) < 2 {
			continue
		}
		sort.Slice(chargeIDs, func(i, j int) bool { return chargeIDs[i] < chargeIDs[j] })
		survivor, losers := chargeIDs[0], chargeIDs[1:]

		tx, err := r.db.Begin()
		if err != nil {
			return merged, fmt.Errorf("beginning merge transaction: %w", err)
		}

		for _, loser := range losers {
			for _, stmt := range []string{
				`UPDATE transactions SET charge_id = ? WHERE charge_id = ?`,
				`UPDATE documents SET charge_id = ? WHERE charge_id = ?`,
				`UPDATE ledger_records SET charge_id = ? WHERE charge_id = ?`,
				`UPDATE OR IGNORE charge_tags SET charge_id = ? WHERE charge_id = ?`,
			} {
				if _, err := tx.Exec(stmt, survivor, loser); err != nil {
					tx.Rollback()
					return merged, fmt.Errorf("moving rows from charge %d to %d: %w", loser, survivor, err)
				}
			}
			if _, err := tx.Exec(`DELETE FROM charge_tags WHERE charge_id = ?`, loser); err != nil {
				tx.Rollback()
				return merged, fmt.Errorf("clearing tags of charge %d: %w", loser, err)
			}
			if _, err := tx.Exec(`DELETE FROM charges WHERE id = ?`, loser); err != nil {
				tx.Rollback()
				return merged, fmt.Errorf("deleting duplicate charge %d: %w", loser, err)
			}
			merged++
		}

		if _, err := tx.Exec(
			`UPDATE charges SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, survivor,
		); err != nil {
			tx.Rollback()
			return merged, fmt.Errorf("touching surviving charge %d: %w", survivor, err)
		}

		if err := tx.Commit(); err != nil {
			return merged, fmt.Errorf("committing merge for triple %s: %w", triple, err)
		}
		logger.L.Info("Merged duplicate conversion charges",
			"triple", triple, "survivor", survivor, "merged", len(losers))
	}
	return merged, nil
}

// retypeSalaryTaggedCharges promotes untyped charges carrying a salary tag.
func (r *Reconciler) retypeSalaryTaggedCharges() (int, error) {
	res, err := r.db.Exec(
		`UPDATE charges SET type = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE type = ? AND id IN (SELECT charge_id FROM charge_tags WHERE tag = 'salary')`,
		models.ChargeTypePayroll, models.ChargeTypeNone,
	)
	if err != nil {
		return 0, fmt.Errorf("retyping salary-tagged charges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.L.Info("Retyped salary-tagged charges as payroll", "count", n)
	}
	return int(n), nil
}
