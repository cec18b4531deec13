package ledger

import (
	"context"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sink appends invocation rows. The table is append-only: no update or
// delete path exists here, corrections happen by re-deriving aggregates.
type Sink struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewSink(db *gorm.DB, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{db: db, logger: logger.Named("LedgerSink")}
}

func (s *Sink) Record(ctx context.Context, rec routing.InvocationRecord) error {
	row := toModel(rec)
	return s.db.WithContext(ctx).Create(&row).Error
}

func toModel(rec routing.InvocationRecord) models.AIInvocationModel {
	row := models.AIInvocationModel{
		RequestID:      rec.RequestID,
		BatchRequestID: rec.BatchRequestID,
		Operation:      rec.Operation,
		ModelTier:      rec.Tier.String(),
		ModelID:        rec.ModelID,
		ProviderID:     rec.ProviderID,
		Attempt:        rec.Attempt,
		Terminal:       rec.Terminal,
		Success:        rec.Success,
		CacheHit:       rec.CacheHit,
		Escalated:      rec.Escalated,
		EscalationPath: rec.EscalationPath,
		InputTokens:    rec.InputTokens,
		OutputTokens:   rec.OutputTokens,
		CostUsd:        rec.CostUsd,
		LatencyMs:      rec.LatencyMs,
		ErrorKind:      rec.ErrorKind,
		ErrorMessage:   rec.ErrorMessage,
		QualityVerdict: rec.QualityVerdict,
	}
	if rec.EscalatedFrom != nil {
		row.EscalatedFrom = rec.EscalatedFrom.String()
	}
	if len(rec.Metadata) > 0 {
		row.Metadata = models.JSONMap(rec.Metadata)
	}
	return row
}
