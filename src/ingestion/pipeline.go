package ingestion

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/clearledger/backend/src/logger"
	"github.com/username/clearledger/backend/src/models"
	"github.com/username/clearledger/backend/src/sources"
)

var ErrUnknownSource = errors.New("unknown ingestion source")

// Service runs the reconciliation pipeline: filter -> store raw -> resolve
// account -> match charge -> register merge row -> write transaction. Each
// record executes in its own database transaction, so one malformed record
// fails alone and the rest of the batch commits.
type Service struct {
	db        *sql.DB
	resolver  *AccountResolver
	registry  *MergeRegistry
	matcher   *ChargeMatcher
	writer    *TransactionWriter
	viewCache *cache.Cache
}

func NewService(db *sql.DB, viewCache *cache.Cache) *Service {
	return &Service{
		db:        db,
		resolver:  NewAccountResolver(),
		registry:  NewMergeRegistry(),
		matcher:   NewChargeMatcher(),
		writer:    NewTransactionWriter(),
		viewCache: viewCache,
	}
}

// RecordError reports one failed record by its index in the batch.
type RecordError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult summarizes one scraper batch. Duplicates are re-deliveries
// absorbed as no-ops, not errors; at-least-once delivery makes them routine.
type BatchResult struct {
	BatchID    string        `json:"batch_id"`
	Source     string        `json:"source"`
	Received   int           `json:"received"`
	Ingested   int           `json:"ingested"`
	Duplicates int           `json:"duplicates"`
	Filtered   int           `json:"filtered"`
	Failed     int           `json:"failed"`
	Errors     []RecordError `json:"errors,omitempty"`
}

// IngestBatch decodes and reconciles one JSON batch for the given source.
func (s *Service) IngestBatch(sourceTag string, body io.Reader) (*BatchResult, error) {
	d, err := sources.Get(sourceTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceTag)
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding %s batch: %w", sourceTag, err)
	}

	result := &BatchResult{
		BatchID:  uuid.NewString(),
		Source:   sourceTag,
		Received: len(rows),
	}
	startTime := time.Now()
	logger.L.Info("IngestBatch START", "batchID", result.BatchID, "source", sourceTag, "records", len(rows))

	for i, raw := range rows {
		outcome, err := s.ingestRecord(d, raw)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RecordError{Index: i, Error: err.Error()})
			logger.L.Warn("Record failed", "batchID", result.BatchID, "source", sourceTag, "index", i, "error", err)
			continue
		}
		switch outcome {
		case outcomeIngested:
			result.Ingested++
		case outcomeDuplicate:
			result.Duplicates++
		case outcomeFiltered:
			result.Filtered++
		}
	}

	if result.Ingested > 0 && s.viewCache != nil {
		s.viewCache.Flush()
		logger.L.Debug("View cache flushed after ingest", "batchID", result.BatchID)
	}

	logger.L.Info("IngestBatch END", "batchID", result.BatchID, "source", sourceTag,
		"ingested", result.Ingested, "duplicates", result.Duplicates,
		"filtered", result.Filtered, "failed", result.Failed,
		"duration", time.Since(startTime))
	return result, nil
}

type outcome int

const (
	outcomeIngested outcome = iota
	outcomeDuplicate
	outcomeFiltered
)

func (s *Service) ingestRecord(d *sources.Descriptor, raw []byte) (outcome, error) {
	rec, err := d.DecodeRecord(raw)
	if err != nil {
		return 0, err
	}

	if d.Filter(rec) {
		return outcomeFiltered, nil
	}

	rec.HashID = recordHash(rec)

	// Fee-only feeds skip matching entirely when no fee was detected: the
	// merge row is still registered, but no Charge or Transaction exists for
	// the principal leg.
	isFee := d.FeePredicate != nil && d.FeePredicate(rec)
	emits := !d.EmitOnlyFees || isFee

	// The triple lock must span lookup, insert and commit so a concurrent
	// sibling leg sees this record's committed Charge. Blank references never
	// match, so they take no lock.
	needsLock := emits && rec.ReferenceNumber != "" &&
		(d.ConversionCodes[rec.ActivityCode] || d.DepositCodes[rec.ActivityCode])
	if needsLock {
		unlock := s.matcher.LockTriple(rec.Triple())
		defer unlock()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning record transaction: %w", err)
	}
	defer tx.Rollback()

	rawID, err := insertRaw(tx, d, rec)
	if errors.Is(err, models.ErrDuplicateIngestion) {
		return outcomeDuplicate, nil
	}
	if err != nil {
		return 0, err
	}
	rec.RawID = rawID

	accountID, ownerID, err := s.resolver.Resolve(tx, d.AccountKey(rec))
	if err != nil {
		return 0, err
	}

	mergeID, err := s.registry.RegisterRaw(tx, d, rawID)
	if err != nil {
		return 0, err
	}

	if emits {
		chargeID, err := s.matcher.Match(tx, d, rec, ownerID)
		if err != nil {
			return 0, err
		}
		if _, err := s.writer.Write(tx, d, rec, accountID, chargeID, mergeID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing record: %w", err)
	}
	return outcomeIngested, nil
}
