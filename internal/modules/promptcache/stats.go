package promptcache

import (
	"context"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsRecorder upserts the per-key hit/miss counters. Counter writes are
// best-effort; a failed write never fails the request that triggered it.
type StatsRecorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStatsRecorder(db *gorm.DB, logger *zap.Logger) *StatsRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsRecorder{db: db, logger: logger.Named("PromptCacheStats")}
}

func (r *StatsRecorder) RecordHit(key string, entry *routing.CacheEntry) {
	now := time.Now()
	r.upsert(key, entry, models.PromptCacheStatModel{Hits: 1, LastHitAt: &now}, map[string]interface{}{
		"hits":        gorm.Expr("hits + 1"),
		"last_hit_at": now,
		"updated_at":  now,
	})
}

func (r *StatsRecorder) RecordMiss(key string, entry *routing.CacheEntry) {
	r.upsert(key, entry, models.PromptCacheStatModel{Misses: 1}, map[string]interface{}{
		"misses":     gorm.Expr("misses + 1"),
		"updated_at": time.Now(),
	})
}

func (r *StatsRecorder) upsert(key string, entry *routing.CacheEntry, row models.PromptCacheStatModel, assign map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row.CacheKey = key
	if entry != nil {
		row.Operation = entry.TaskType
		row.ModelTier = entry.ModelTier
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.Assignments(assign),
	}).Create(&row).Error
	if err != nil {
		r.logger.Warn("cache stat write failed", zap.String("key", key), zap.Error(err))
	}
}

// List returns stat rows, optionally filtered, for the operator endpoint.
func (r *StatsRecorder) Query(ctx context.Context, operation, tier string) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.PromptCacheStatModel{})
	if operation != "" {
		query = query.Where("operation = ?", operation)
	}
	if tier != "" {
		query = query.Where("model_tier = ?", tier)
	}
	return query.Order("hits DESC, updated_at DESC")
}

// SweepStale removes counter rows whose backing cache entry is gone.
// exists reports whether the entry for a cache key is still stored; rows
// touched within graceWindow are kept without checking.
func (r *StatsRecorder) SweepStale(ctx context.Context, graceWindow time.Duration, exists func(ctx context.Context, key string) (bool, error)) (int64, error) {
	const pageSize = 200
	cutoff := time.Now().Add(-graceWindow)

	var removed int64
	lastKey := ""
	for {
		var rows []models.PromptCacheStatModel
		query := r.db.WithContext(ctx).
			Model(&models.PromptCacheStatModel{}).
			Select("cache_key").
			Where("updated_at < ?", cutoff).
			Order("cache_key ASC").
			Limit(pageSize)
		if lastKey != "" {
			query = query.Where("cache_key > ?", lastKey)
		}
		if err := query.Find(&rows).Error; err != nil {
			return removed, err
		}
		if len(rows) == 0 {
			return removed, nil
		}

		stale := make([]string, 0, len(rows))
		for _, row := range rows {
			ok, err := exists(ctx, row.CacheKey)
			if err != nil {
				return removed, err
			}
			if !ok {
				stale = append(stale, row.CacheKey)
			}
		}
		if len(stale) > 0 {
			res := r.db.WithContext(ctx).Unscoped().
				Where("cache_key IN ?", stale).
				Delete(&models.PromptCacheStatModel{})
			if res.Error != nil {
				return removed, res.Error
			}
			removed += res.RowsAffected
		}
		lastKey = rows[len(rows)-1].CacheKey
	}
}

// Totals sums hits and misses across all keys.
func (r *StatsRecorder) Totals(ctx context.Context) (hits, misses int64, err error) {
	row := struct {
		Hits   int64
		Misses int64
	}{}
	err = r.db.WithContext(ctx).
		Model(&models.PromptCacheStatModel{}).
		Select("COALESCE(SUM(hits),0) AS hits, COALESCE(SUM(misses),0) AS misses").
		Scan(&row).Error
	return row.Hits, row.Misses, err
}
