package phi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"gorm.io/gorm"
)

// genesisHash anchors every chain. The first record of a chain links to it.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Audit actions. One record is appended per scan, clean or not.
const (
	ActionScanClean       = "scan_clean"
	ActionBlockedPrompt   = "blocked_prompt"
	ActionBlockedResponse = "blocked_response"
)

// AuditWriter appends hash-chained records. Linking each entry to its
// predecessor makes edits and deletions inside a chain detectable by
// replaying the hashes.
type AuditWriter struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewAuditWriter(db *gorm.DB) *AuditWriter {
	return &AuditWriter{db: db}
}

// Append writes the next record of a chain. The read-last plus insert pair
// runs inside a transaction, serialized per process; the unique
// (chain_key, sequence) index catches races between replicas, which are
// resolved by re-reading the tail and retrying.
func (w *AuditWriter) Append(ctx context.Context, chainKey, action, requestID string, details models.JSONMap) (*models.PHIAuditRecordModel, error) {
	chainKey = strings.TrimSpace(chainKey)
	if chainKey == "" {
		return nil, errors.New("audit append requires a chain key")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var (
		rec *models.PHIAuditRecordModel
		err error
	)
	for attempt := 0; attempt < 3; attempt++ {
		rec, err = w.appendOnce(ctx, chainKey, action, requestID, details)
		if err == nil || !isDuplicateEntry(err) {
			return rec, err
		}
	}
	return nil, fmt.Errorf("audit append lost the sequence race on chain %s: %w", chainKey, err)
}

func (w *AuditWriter) appendOnce(ctx context.Context, chainKey, action, requestID string, details models.JSONMap) (*models.PHIAuditRecordModel, error) {
	tx := w.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	previousHash := genesisHash
	var sequence int64 = 1

	var last models.PHIAuditRecordModel
	err := tx.Where("chain_key = ?", chainKey).Order("sequence DESC").First(&last).Error
	switch {
	case err == nil:
		previousHash = last.EntryHash
		sequence = last.Sequence + 1
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first record of this chain
	default:
		tx.Rollback()
		return nil, err
	}

	entryHash, err := computeEntryHash(previousHash, details)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	rec := models.PHIAuditRecordModel{
		ChainKey:     chainKey,
		Sequence:     sequence,
		Action:       action,
		RequestID:    requestID,
		Details:      details,
		PreviousHash: previousHash,
		EntryHash:    entryHash,
	}
	if err := tx.Create(&rec).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// computeEntryHash hashes the predecessor hash concatenated with the
// canonical JSON of the details. encoding/json emits map keys sorted, so
// the serialization is deterministic.
func computeEntryHash(previousHash string, details models.JSONMap) (string, error) {
	canonical, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("serialize audit details: %w", err)
	}
	sum := sha256.Sum256(append([]byte(previousHash), canonical...))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyResult reports a chain replay.
type VerifyResult struct {
	ChainKey        string `json:"chainKey"`
	Records         int    `json:"records"`
	Valid           bool   `json:"valid"`
	DivergenceSeq   *int64 `json:"divergenceSeq,omitempty"`
	DivergenceCause string `json:"divergenceCause,omitempty"`
}

// Verify replays a chain from its genesis, recomputing every entry hash,
// and reports the first divergence.
func (w *AuditWriter) Verify(ctx context.Context, chainKey string) (VerifyResult, error) {
	chainKey = strings.TrimSpace(chainKey)
	if chainKey == "" {
		return VerifyResult{}, errors.New("verify requires a chain key")
	}

	var records []models.PHIAuditRecordModel
	if err := w.db.WithContext(ctx).
		Where("chain_key = ?", chainKey).
		Order("sequence ASC").
		Find(&records).Error; err != nil {
		return VerifyResult{ChainKey: chainKey}, err
	}
	return replayChain(chainKey, records)
}

func replayChain(chainKey string, records []models.PHIAuditRecordModel) (VerifyResult, error) {
	result := VerifyResult{ChainKey: chainKey, Valid: true, Records: len(records)}

	running := genesisHash
	var expectSeq int64 = 1
	for i := range records {
		rec := &records[i]
		if rec.Sequence != expectSeq {
			return diverged(result, rec.Sequence, fmt.Sprintf("sequence gap: expected %d", expectSeq)), nil
		}
		if rec.PreviousHash != running {
			return diverged(result, rec.Sequence, "previous_hash does not match the preceding entry"), nil
		}
		computed, err := computeEntryHash(running, rec.Details)
		if err != nil {
			return result, err
		}
		if computed != rec.EntryHash {
			return diverged(result, rec.Sequence, "entry_hash mismatch, details were altered"), nil
		}
		running = computed
		expectSeq++
	}
	return result, nil
}

func diverged(result VerifyResult, seq int64, cause string) VerifyResult {
	result.Valid = false
	result.DivergenceSeq = &seq
	result.DivergenceCause = cause
	return result
}

// Tail returns the most recent records of a chain, newest first.
func (w *AuditWriter) Tail(ctx context.Context, chainKey string, limit int) ([]models.PHIAuditRecordModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []models.PHIAuditRecordModel
	err := w.db.WithContext(ctx).
		Where("chain_key = ?", chainKey).
		Order("sequence DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
