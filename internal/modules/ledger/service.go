package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dayLayout = "2006-01-02"

// Service owns the ledger read path: filtered listings, the daily
// aggregation tables and the spend checks.
type Service struct {
	db     *gorm.DB
	loc    *time.Location
	logger *zap.Logger
}

func NewService(db *gorm.DB, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, loc: loc, logger: logger.Named("LedgerService")}
}

// InvocationFilter narrows the invocation listing.
type InvocationFilter struct {
	Tier           string
	Success        *bool
	Terminal       *bool
	Day            string // YYYY-MM-DD
	RequestID      string
	BatchRequestID string
	ErrorKind      string
}

// Query builds the filtered, newest-first invocation listing.
func (s *Service) Query(ctx context.Context, f InvocationFilter) (*gorm.DB, error) {
	query := s.db.WithContext(ctx).Model(&models.AIInvocationModel{})
	if f.Tier != "" {
		query = query.Where("model_tier = ?", f.Tier)
	}
	if f.Success != nil {
		query = query.Where("success = ?", *f.Success)
	}
	if f.Terminal != nil {
		query = query.Where("terminal = ?", *f.Terminal)
	}
	if f.Day != "" {
		start, end, err := s.dayWindow(f.Day)
		if err != nil {
			return nil, err
		}
		query = query.Where("created_at >= ? AND created_at < ?", start, end)
	}
	if f.RequestID != "" {
		query = query.Where("request_id = ?", f.RequestID)
	}
	if f.BatchRequestID != "" {
		query = query.Where("batch_request_id = ?", f.BatchRequestID)
	}
	if f.ErrorKind != "" {
		query = query.Where("error_kind = ?", f.ErrorKind)
	}
	return query.Order("created_at DESC"), nil
}

// tierAggregate is one GROUP BY bucket of the derivation query.
type tierAggregate struct {
	ModelTier    string
	Invocations  int64
	InputTokens  int64
	OutputTokens int64
	CostUsd      float64
	CacheHits    int64
}

type modelAggregate struct {
	ModelID      string
	Invocations  int64
	InputTokens  int64
	OutputTokens int64
	CostUsd      float64
}

// DeriveDay rebuilds the aggregate rows for one day from the raw ledger.
// Existing rows for that day are deleted and recomputed inside a single
// transaction, so the call is idempotent and safe to re-run after late
// writes or a corrected clock.
func (s *Service) DeriveDay(ctx context.Context, day string) error {
	start, end, err := s.dayWindow(day)
	if err != nil {
		return err
	}

	var tiers []tierAggregate
	if err := s.db.WithContext(ctx).
		Model(&models.AIInvocationModel{}).
		Select("model_tier, COUNT(*) AS invocations, "+
			"COALESCE(SUM(input_tokens),0) AS input_tokens, "+
			"COALESCE(SUM(output_tokens),0) AS output_tokens, "+
			"COALESCE(SUM(cost_usd),0) AS cost_usd, "+
			"COALESCE(SUM(cache_hit),0) AS cache_hits").
		Where("created_at >= ? AND created_at < ?", start, end).
		Group("model_tier").
		Scan(&tiers).Error; err != nil {
		return fmt.Errorf("aggregate tiers for %s: %w", day, err)
	}

	var perModel []modelAggregate
	if err := s.db.WithContext(ctx).
		Model(&models.AIInvocationModel{}).
		Select("model_id, COUNT(*) AS invocations, "+
			"COALESCE(SUM(input_tokens),0) AS input_tokens, "+
			"COALESCE(SUM(output_tokens),0) AS output_tokens, "+
			"COALESCE(SUM(cost_usd),0) AS cost_usd").
		Where("created_at >= ? AND created_at < ? AND model_id <> ''", start, end).
		Group("model_id").
		Scan(&perModel).Error; err != nil {
		return fmt.Errorf("aggregate models for %s: %w", day, err)
	}

	summaryRows := buildSummaryRows(day, tiers)
	usageRows := buildUsageRows(day, perModel)

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Unscoped().Where("date = ?", day).Delete(&models.AICostSummaryModel{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Unscoped().Where("date = ?", day).Delete(&models.AIModelUsageModel{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if len(summaryRows) > 0 {
		if err := tx.Create(&summaryRows).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	if len(usageRows) > 0 {
		if err := tx.Create(&usageRows).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	s.logger.Info("daily ledger aggregates derived",
		zap.String("date", day),
		zap.Int("tier_rows", len(summaryRows)),
		zap.Int("model_rows", len(usageRows)))
	return nil
}

func buildSummaryRows(day string, tiers []tierAggregate) []models.AICostSummaryModel {
	rows := make([]models.AICostSummaryModel, 0, len(tiers))
	for _, agg := range tiers {
		row := models.AICostSummaryModel{
			Date:              day,
			ModelTier:         agg.ModelTier,
			TotalInvocations:  agg.Invocations,
			TotalInputTokens:  agg.InputTokens,
			TotalOutputTokens: agg.OutputTokens,
			TotalCostUsd:      agg.CostUsd,
		}
		if agg.Invocations > 0 {
			row.CacheHitRate = float64(agg.CacheHits) / float64(agg.Invocations)
		}
		rows = append(rows, row)
	}
	return rows
}

func buildUsageRows(day string, perModel []modelAggregate) []models.AIModelUsageModel {
	rows := make([]models.AIModelUsageModel, 0, len(perModel))
	for _, agg := range perModel {
		rows = append(rows, models.AIModelUsageModel{
			Date:         day,
			ModelID:      agg.ModelID,
			Invocations:  agg.Invocations,
			InputTokens:  agg.InputTokens,
			OutputTokens: agg.OutputTokens,
			CostUsd:      agg.CostUsd,
		})
	}
	return rows
}

// SummaryRange loads derived rows for an inclusive date range.
func (s *Service) SummaryRange(ctx context.Context, from, to string) ([]models.AICostSummaryModel, []models.AIModelUsageModel, error) {
	if _, err := s.parseDay(from); err != nil {
		return nil, nil, err
	}
	if _, err := s.parseDay(to); err != nil {
		return nil, nil, err
	}
	if from > to {
		return nil, nil, fmt.Errorf("invalid range: from %s is after to %s", from, to)
	}

	var summaries []models.AICostSummaryModel
	if err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", from, to).
		Order("date ASC, model_tier ASC").
		Find(&summaries).Error; err != nil {
		return nil, nil, err
	}

	var usage []models.AIModelUsageModel
	if err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", from, to).
		Order("date ASC, cost_usd DESC").
		Find(&usage).Error; err != nil {
		return nil, nil, err
	}
	return summaries, usage, nil
}

// SpendForDay sums raw ledger cost for one day. Reads the raw rows, not
// the derived table, so the budget check sees spend the moment it lands.
func (s *Service) SpendForDay(ctx context.Context, day string) (float64, error) {
	start, end, err := s.dayWindow(day)
	if err != nil {
		return 0, err
	}
	var spend float64
	err = s.db.WithContext(ctx).
		Model(&models.AIInvocationModel{}).
		Select("COALESCE(SUM(cost_usd),0)").
		Where("created_at >= ? AND created_at < ?", start, end).
		Scan(&spend).Error
	return spend, err
}

// CheckBudget compares today's spend to the budget. budgetUsd <= 0
// disables the check.
func (s *Service) CheckBudget(ctx context.Context, budgetUsd float64) (spend float64, over bool, err error) {
	if budgetUsd <= 0 {
		return 0, false, nil
	}
	today := time.Now().In(s.loc).Format(dayLayout)
	spend, err = s.SpendForDay(ctx, today)
	if err != nil {
		return 0, false, err
	}
	return spend, spend >= budgetUsd, nil
}

// Yesterday returns the previous day in the service's timezone.
func (s *Service) Yesterday() string {
	return time.Now().In(s.loc).AddDate(0, 0, -1).Format(dayLayout)
}

func (s *Service) parseDay(day string) (time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, day, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", day)
	}
	return t, nil
}

func (s *Service) dayWindow(day string) (time.Time, time.Time, error) {
	start, err := s.parseDay(day)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}
