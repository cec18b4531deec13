package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	pkgredis "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cancelKeyPrefix = "rf:batch:cancel:"
	resultKeyPrefix = "rf:batch:result:"

	cancelFlagTTL  = 24 * time.Hour
	resultTTL      = 7 * 24 * time.Hour
	cancelPollStep = 500 * time.Millisecond
)

var (
	ErrBatchEmpty    = errors.New("batch contains no items")
	ErrBatchTooLarge = errors.New("batch exceeds the configured maximum")
	ErrJobNotFound   = errors.New("batch job not found")
	ErrJobFinished   = errors.New("batch job already finished")
)

// Item is one routing request inside a batch submission.
type Item struct {
	TaskType       string
	Prompt         string
	SystemPrompt   string
	MaxTokens      int
	Temperature    float64
	ResponseFormat string
	ForceTier      *routing.ModelTier
	ChainKey       string
	MinWords       int
	MaxWords       int
	Metadata       map[string]string
}

// Service runs batches through the router on a bounded worker pool. Items
// succeed or fail one by one; a failing item never aborts its siblings.
type Service struct {
	db      *gorm.DB
	rdb     *pkgredis.Client
	router  *routing.Router
	events  routing.EventSink
	workers int
	maxSize int
	logger  *zap.Logger

	wg sync.WaitGroup
}

func NewService(db *gorm.DB, rdb *pkgredis.Client, router *routing.Router, events routing.EventSink, workers, maxSize int, logger *zap.Logger) *Service {
	if workers <= 0 {
		workers = 4
	}
	if maxSize <= 0 {
		maxSize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:      db,
		rdb:     rdb,
		router:  router,
		events:  events,
		workers: workers,
		maxSize: maxSize,
		logger:  logger.Named("BatchService"),
	}
}

// Submit persists the job and starts executing it in the background.
func (s *Service) Submit(ctx context.Context, submittedBy string, items []Item) (*models.BatchJobModel, error) {
	if len(items) == 0 {
		return nil, ErrBatchEmpty
	}
	if len(items) > s.maxSize {
		return nil, fmt.Errorf("%w: %d items, maximum %d", ErrBatchTooLarge, len(items), s.maxSize)
	}

	job := models.BatchJobModel{
		Status:        models.BatchStatusPending,
		Operation:     jobOperation(items),
		TotalRequests: len(items),
		SubmittedBy:   submittedBy,
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Create(&job).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	rows := make([]models.BatchJobRequestModel, 0, len(items))
	for i, item := range items {
		rows = append(rows, models.BatchJobRequestModel{
			JobID:    job.ID,
			Idx:      i,
			TaskType: item.TaskType,
			Status:   models.BatchStatusPending,
		})
	}
	if err := tx.Create(&rows).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.publish("batch.submitted", map[string]interface{}{
		"jobId": job.ID,
		"total": job.TotalRequests,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(job.ID, rows, items)
	}()

	return &job, nil
}

// run executes every item of a job on the worker pool. It owns the job's
// lifecycle rows; nothing else writes them while the job runs.
func (s *Service) run(jobID string, rows []models.BatchJobRequestModel, items []Item) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.watchCancelFlag(ctx, jobID, cancel)

	now := time.Now()
	if err := s.db.Model(&models.BatchJobModel{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{"status": models.BatchStatusRunning, "started_at": now}).Error; err != nil {
		s.logger.Error("batch start update failed", zap.String("job_id", jobID), zap.Error(err))
	}

	semaphore := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	var skipped int
	for i := range rows {
		if s.cancelRequested(ctx, jobID) {
			skipped = len(rows) - i
			s.markSkipped(jobID, rows[i:])
			break
		}

		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			skipped = len(rows) - i
			s.markSkipped(jobID, rows[i:])
		}
		if skipped > 0 {
			break
		}

		wg.Add(1)
		go func(row models.BatchJobRequestModel, item Item) {
			defer wg.Done()
			defer func() { <-semaphore }()
			s.runItem(ctx, jobID, row, item)
		}(rows[i], items[i])
	}

	wg.Wait()
	s.finishJob(jobID, skipped > 0)
}

func (s *Service) runItem(ctx context.Context, jobID string, row models.BatchJobRequestModel, item Item) {
	requestID := uuid.NewString()
	resp, err := s.router.Route(ctx, routing.Request{
		RequestID:      requestID,
		TaskType:       item.TaskType,
		Prompt:         item.Prompt,
		SystemPrompt:   item.SystemPrompt,
		MaxTokens:      item.MaxTokens,
		Temperature:    item.Temperature,
		ResponseFormat: routing.ResponseFormat(item.ResponseFormat),
		ForceTier:      item.ForceTier,
		ChainKey:       item.ChainKey,
		MinWords:       item.MinWords,
		MaxWords:       item.MaxWords,
		BatchRequestID: jobID,
		Metadata:       item.Metadata,
	})

	if err != nil {
		s.completeItem(jobID, row.ID, requestID, "", err)
		return
	}

	contentRef := s.storeResult(jobID, row.ID, resp)
	s.completeItem(jobID, row.ID, requestID, contentRef, nil)
}

// completeItem records one item outcome and bumps the job counters.
func (s *Service) completeItem(jobID, itemID, requestID, contentRef string, itemErr error) {
	update := map[string]interface{}{
		"invocation_id": requestID,
	}
	counter := "completed_requests"
	if itemErr != nil {
		update["status"] = models.BatchStatusFailed
		update["error_message"] = itemErr.Error()
		counter = "failed_requests"
	} else {
		update["status"] = models.BatchStatusCompleted
		update["content_ref"] = contentRef
	}

	if err := s.db.Model(&models.BatchJobRequestModel{}).
		Where("id = ?", itemID).
		Updates(update).Error; err != nil {
		s.logger.Error("batch item update failed", zap.String("item_id", itemID), zap.Error(err))
	}
	if err := s.db.Model(&models.BatchJobModel{}).
		Where("id = ?", jobID).
		UpdateColumn(counter, gorm.Expr(counter+" + 1")).Error; err != nil {
		s.logger.Error("batch counter update failed", zap.String("job_id", jobID), zap.Error(err))
	}

	var job models.BatchJobModel
	if err := s.db.Select("total_requests", "completed_requests", "failed_requests").
		Where("id = ?", jobID).
		First(&job).Error; err == nil {
		s.publish("batch.progress", map[string]interface{}{
			"jobId":     jobID,
			"total":     job.TotalRequests,
			"completed": job.CompletedRequests,
			"failed":    job.FailedRequests,
		})
	}
}

// storeResult keeps the response content in Redis so batch items stay
// small rows. Returns the reference key, or "" when storage failed.
func (s *Service) storeResult(jobID, itemID string, resp *routing.Response) string {
	if s.rdb == nil || resp == nil {
		return ""
	}
	key := resultKeyPrefix + jobID + ":" + itemID
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()
	if err := s.rdb.Set(ctx, key, resp.Content, resultTTL); err != nil {
		s.logger.Warn("batch result store failed", zap.String("item_id", itemID), zap.Error(err))
		return ""
	}
	return key
}

// Result loads a stored item result by its content ref.
func (s *Service) Result(ctx context.Context, contentRef string) (string, error) {
	if s.rdb == nil || contentRef == "" {
		return "", nil
	}
	return s.rdb.Get(ctx, contentRef)
}

func (s *Service) markSkipped(jobID string, remaining []models.BatchJobRequestModel) {
	ids := make([]string, 0, len(remaining))
	for _, row := range remaining {
		ids = append(ids, row.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := s.db.Model(&models.BatchJobRequestModel{}).
		Where("id IN ? AND status = ?", ids, models.BatchStatusPending).
		Update("status", models.BatchStatusCancelled).Error; err != nil {
		s.logger.Error("batch skip update failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Service) finishJob(jobID string, cancelled bool) {
	status := models.BatchStatusCompleted
	if cancelled {
		status = models.BatchStatusCancelled
	} else {
		var job models.BatchJobModel
		if err := s.db.Where("id = ?", jobID).First(&job).Error; err == nil {
			if job.FailedRequests == job.TotalRequests && job.TotalRequests > 0 {
				status = models.BatchStatusFailed
			}
		}
	}

	now := time.Now()
	if err := s.db.Model(&models.BatchJobModel{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{"status": status, "finished_at": now}).Error; err != nil {
		s.logger.Error("batch finish update failed", zap.String("job_id", jobID), zap.Error(err))
	}

	s.publish("batch.finished", map[string]interface{}{
		"jobId":  jobID,
		"status": status,
	})
	s.logger.Info("batch finished", zap.String("job_id", jobID), zap.String("status", status))
}

// Cancel requests a stop. In-flight items abort through their context;
// queued items are marked cancelled by the run loop.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	var job models.BatchJobModel
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	if job.Status != models.BatchStatusPending && job.Status != models.BatchStatusRunning {
		return ErrJobFinished
	}
	if s.rdb == nil {
		return errors.New("cancellation requires redis")
	}
	return s.rdb.Set(ctx, cancelKeyPrefix+jobID, "1", cancelFlagTTL)
}

func (s *Service) cancelRequested(ctx context.Context, jobID string) bool {
	if s.rdb == nil {
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	val, err := s.rdb.Get(ctx, cancelKeyPrefix+jobID)
	return err == nil && val != ""
}

// watchCancelFlag cancels the job context once the flag appears, so
// in-flight provider calls stop instead of running to completion.
func (s *Service) watchCancelFlag(ctx context.Context, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(cancelPollStep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cancelRequested(ctx, jobID) {
				cancel()
				return
			}
		}
	}
}

// Job loads a job with its items.
func (s *Service) Job(ctx context.Context, jobID string) (*models.BatchJobModel, []models.BatchJobRequestModel, error) {
	var job models.BatchJobModel
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrJobNotFound
		}
		return nil, nil, err
	}
	var items []models.BatchJobRequestModel
	if err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("idx ASC").
		Find(&items).Error; err != nil {
		return nil, nil, err
	}
	return &job, items, nil
}

// Query builds the newest-first job listing.
func (s *Service) Query(ctx context.Context, status string) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.BatchJobModel{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return query.Order("created_at DESC")
}

// RecoverInterrupted fails jobs left running by a previous process. Runs
// once at startup; their items keep whatever state they reached.
func (s *Service) RecoverInterrupted(ctx context.Context) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.BatchJobModel{}).
		Where("status IN ?", []string{models.BatchStatusPending, models.BatchStatusRunning}).
		Updates(map[string]interface{}{"status": models.BatchStatusFailed, "finished_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.logger.Warn("batch jobs interrupted by restart marked failed", zap.Int64("count", res.RowsAffected))
	}
	return nil
}

// Drain waits for running jobs during shutdown.
func (s *Service) Drain() {
	s.wg.Wait()
}

func (s *Service) publish(event string, payload interface{}) {
	if s.events != nil {
		s.events.Publish(event, payload)
	}
}

func jobOperation(items []Item) string {
	op := items[0].TaskType
	for _, item := range items[1:] {
		if item.TaskType != op {
			return "MIXED"
		}
	}
	return op
}
