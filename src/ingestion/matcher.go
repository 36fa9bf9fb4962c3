package ingestion

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/username/clearledger/backend/src/logger"
	"github.com/username/clearledger/backend/src/models"
	"github.com/username/clearledger/backend/src/sources"
)

// ChargeMatcher decides whether an incoming record joins an existing Charge
// or starts a new one, and which charge type applies. The lookup-or-create
// step for conversion and own-account-transfer legs is serialized per
// matching triple: without that, two legs arriving concurrently each miss
// the other and create two Charges for one conversion.
type ChargeMatcher struct {
	mu          sync.Mutex
	tripleLocks map[string]*tripleLock
}

// tripleLock is refcounted so the map entry can be dropped once the last
// holder releases it; ingestion runs unbounded batches and the triple space
// grows with them.
type tripleLock struct {
	mu   sync.Mutex
	refs int
}

func NewChargeMatcher() *ChargeMatcher {
	return &ChargeMatcher{tripleLocks: make(map[string]*tripleLock)}
}

// LockTriple takes the advisory lock for a matching triple and returns the
// unlock function. Callers hold it across lookup, insert and commit so the
// sibling leg observes the committed transaction.
func (m *ChargeMatcher) LockTriple(triple string) func() {
	m.mu.Lock()
	l, ok := m.tripleLocks[triple]
	if !ok {
		l = &tripleLock{}
		m.tripleLocks[triple] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.tripleLocks, triple)
		}
		m.mu.Unlock()
	}
}

// Match resolves the Charge for a record and reports whether an existing
// Charge was reused. ownerID types newly created charges.
func (m *ChargeMatcher) Match(q querier, d *sources.Descriptor, rec models.SourceRecord, ownerID int64) (int64, error) {
	isConversion := d.ConversionCodes[rec.ActivityCode]
	isOwnTransfer := d.DepositCodes[rec.ActivityCode]

	// A blank reference would match every other blank-reference row on the
	// same value date, grouping unrelated events. Same guard as the sweep.
	if (isConversion || isOwnTransfer) && rec.ReferenceNumber != "" {
		chargeID, found, err := m.lookupSibling(q, d, rec)
		if err != nil {
			return 0, err
		}
		if found {
			if isConversion {
				if _, err := q.Exec(
					`UPDATE charges SET type = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
					models.ChargeTypeConversion, chargeID,
				); err != nil {
					return 0, fmt.Errorf("retyping charge %d as conversion: %w", chargeID, err)
				}
			}
			logger.L.Debug("Matched existing charge",
				"source", d.Tag, "chargeID", chargeID, "triple", rec.Triple())
			return chargeID, nil
		}
	}

	chargeType := d.DefaultChargeType
	switch {
	case isConversion:
		chargeType = models.ChargeTypeConversion
	case d.PayrollCodes[rec.ActivityCode]:
		chargeType = models.ChargeTypePayroll
	}

	res, err := q.Exec(
		`INSERT INTO charges (owner_id, type) VALUES (?, ?)`, ownerID, chargeType,
	)
	if err != nil {
		return 0, fmt.Errorf("creating charge for %s record: %w", d.Tag, err)
	}
	return res.LastInsertId()
}

// lookupSibling searches the unioned candidate set of the other matchable
// raw tables for a row with the same (reference_number,
// reference_catenated_number, value_date) triple that has already been
// assigned a Charge, joining through the merge registry.
func (m *ChargeMatcher) lookupSibling(q querier, d *sources.Descriptor, rec models.SourceRecord) (int64, bool, error) {
	targets := d.MatchTargets()
	if len(targets) == 0 {
		return 0, false, nil
	}

	selects := make([]string, 0, len(targets))
	args := make([]any, 0, 3*len(targets))
	for _, t := range targets {
		selects = append(selects, fmt.Sprintf(
			`SELECT t.charge_id FROM %s r
			 JOIN merge_rows m ON m.%s = r.id
			 JOIN transactions t ON t.source_id = m.id
			 WHERE r.reference_number = ? AND r.reference_catenated_number = ? AND r.value_date = ?`,
			t.Table, t.MergeColumn))
		args = append(args, rec.ReferenceNumber, rec.ReferenceCatenated, rec.ValueDate)
	}

	query := strings.Join(selects, " UNION ") + " LIMIT 1"

	var chargeID int64
	err := q.QueryRow(query, args...).Scan(&chargeID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sibling lookup for triple %s: %w", rec.Triple(), err)
	}
	return chargeID, true, nil
}
