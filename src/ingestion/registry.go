package ingestion

import (
	"database/sql"
	"fmt"

	"github.com/username/clearledger/backend/src/sources"
)

// MergeRegistry creates the exclusive join row tying one raw source row to
// the canonical schema. The merge_rows CHECK constraint enforces that
// exactly one per-source column is set; the partial unique index per column
// makes RegisterRaw an at-most-once operation per (source, raw id).
type MergeRegistry struct{}

func NewMergeRegistry() *MergeRegistry { return &MergeRegistry{} }

// RegisterRaw returns the merge id for the raw row, creating it when absent.
// Re-registration of the same raw row returns the existing id.
func (g *MergeRegistry) RegisterRaw(q querier, d *sources.Descriptor, rawID int64) (int64, error) {
	var id int64
	err := q.QueryRow(
		fmt.Sprintf(`SELECT id FROM merge_rows WHERE %s = ?`, d.MergeColumn), rawID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("looking up merge row for %s %d: %w", d.Tag, rawID, err)
	}

	res, err := q.Exec(
		fmt.Sprintf(`INSERT INTO merge_rows (%s) VALUES (?)`, d.MergeColumn), rawID,
	)
	if err != nil {
		return 0, fmt.Errorf("registering %s raw row %d: %w", d.Tag, rawID, err)
	}
	return res.LastInsertId()
}
