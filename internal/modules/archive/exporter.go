package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// TaskTypeExport is the taskqueue type under which export runs are tracked.
	TaskTypeExport = "archive.export"

	dayLayout     = "2006-01-02"
	exportTimeout = 10 * time.Minute

	defaultPrefix        = "archive"
	defaultRetentionDays = 365
)

// Dataset is one exported JSONL bundle inside a run.
type Dataset struct {
	Name      string `json:"name"`
	Rows      int    `json:"rows"`
	Bytes     int    `json:"bytes"`
	SpoolPath string `json:"spool_path"`
	ObjectKey string `json:"object_key,omitempty"`
	Uploaded  bool   `json:"uploaded"`
}

// RunResult summarizes one export run. Stored as the task result.
type RunResult struct {
	Date     string    `json:"date"`
	Datasets []Dataset `json:"datasets"`
}

// SweepResult reports what a retention sweep removed.
type SweepResult struct {
	SpoolFilesRemoved int   `json:"spool_files_removed"`
	ObjectsRemoved    int   `json:"objects_removed"`
	LedgerRowsRemoved int64 `json:"ledger_rows_removed"`
	AuditRowsRemoved  int64 `json:"audit_rows_removed"`
}

// Exporter writes day-sliced ledger and audit exports as gzip JSONL,
// spooled locally and uploaded to object storage when configured. Rows
// leave the hot tables only through the retention sweep, after their day
// has been exported.
type Exporter struct {
	db            *gorm.DB
	store         objectStore
	tasks         *taskqueue.Service
	spoolDir      string
	prefix        string
	retentionDays int
	loc           *time.Location
	logger        *zap.Logger
}

func NewExporter(db *gorm.DB, tasks *taskqueue.Service, cfg config.ArchiveRuntimeConfig, spoolDir string, loc *time.Location, logger *zap.Logger) (*Exporter, error) {
	var store objectStore
	if cfg.Enabled {
		s3, err := newS3Store(cfg)
		if err != nil {
			return nil, err
		}
		store = s3
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Exporter{
		db:            db,
		store:         store,
		tasks:         tasks,
		spoolDir:      spoolDir,
		prefix:        prefix,
		retentionDays: retention,
		loc:           loc,
		logger:        logger.Named("ArchiveExporter"),
	}, nil
}

// Run starts an export for the given day (empty = yesterday) and returns
// the tracking task. A run already in flight for the same day is returned
// as-is instead of starting a second one.
func (e *Exporter) Run(ctx context.Context, day string) (*taskqueue.Task, error) {
	if day == "" {
		day = e.Yesterday()
	}
	if _, err := e.parseDay(day); err != nil {
		return nil, err
	}

	task, err := e.tasks.Enqueue(ctx, TaskTypeExport, map[string]string{"date": day}, day)
	if err != nil {
		return nil, err
	}
	if task.Status != taskqueue.TaskPending {
		return task, nil
	}

	go e.perform(task.ID, day)
	return task, nil
}

func (e *Exporter) perform(taskID, day string) {
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	if err := e.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskRunning, nil, ""); err != nil {
		e.logger.Warn("archive task status update failed", zap.String("task_id", taskID), zap.Error(err))
	}

	result, err := e.Export(ctx, day)
	if err != nil {
		e.logger.Error("archive export failed", zap.String("date", day), zap.Error(err))
		_ = e.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskFailed, nil, err.Error())
		return
	}

	e.logger.Info("archive export completed",
		zap.String("date", day),
		zap.Int("datasets", len(result.Datasets)))
	_ = e.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskCompleted, result, "")
}

// Export builds and stores both datasets for one day.
func (e *Exporter) Export(ctx context.Context, day string) (*RunResult, error) {
	from, err := e.parseDay(day)
	if err != nil {
		return nil, err
	}
	to := from.AddDate(0, 0, 1)

	var invocations []models.AIInvocationModel
	if err := e.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&invocations).Error; err != nil {
		return nil, fmt.Errorf("load invocations for %s: %w", day, err)
	}

	var auditRecords []models.PHIAuditRecordModel
	if err := e.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("chain_key ASC, sequence ASC").
		Find(&auditRecords).Error; err != nil {
		return nil, fmt.Errorf("load audit records for %s: %w", day, err)
	}

	result := &RunResult{Date: day}

	invData, err := encodeJSONL(invocations)
	if err != nil {
		return nil, err
	}
	invSet, err := e.storeDataset(ctx, day, fmt.Sprintf("invocations-%s.jsonl.gz", day), invData, len(invocations))
	if err != nil {
		return nil, err
	}
	result.Datasets = append(result.Datasets, invSet)

	auditData, err := encodeJSONL(auditRecords)
	if err != nil {
		return nil, err
	}
	auditSet, err := e.storeDataset(ctx, day, fmt.Sprintf("phi-audit-%s.jsonl.gz", day), auditData, len(auditRecords))
	if err != nil {
		return nil, err
	}
	result.Datasets = append(result.Datasets, auditSet)

	return result, nil
}

// storeDataset spools the gzip bundle locally, then uploads it when object
// storage is configured. The spool copy stays either way; retention cleans
// it later.
func (e *Exporter) storeDataset(ctx context.Context, day, filename string, jsonl []byte, rows int) (Dataset, error) {
	compressed, err := gzipBytes(jsonl)
	if err != nil {
		return Dataset{}, err
	}

	if err := os.MkdirAll(e.spoolDir, 0o755); err != nil {
		return Dataset{}, err
	}
	spoolPath := filepath.Join(e.spoolDir, filename)
	if err := os.WriteFile(spoolPath, compressed, 0o644); err != nil {
		return Dataset{}, err
	}

	ds := Dataset{
		Name:      filename,
		Rows:      rows,
		Bytes:     len(compressed),
		SpoolPath: spoolPath,
	}

	if e.store != nil {
		key := objectKey(e.prefix, day, filename)
		if err := e.store.Put(ctx, key, compressed, "application/gzip"); err != nil {
			return Dataset{}, fmt.Errorf("upload %s failed (data spooled at %s): %w", key, spoolPath, err)
		}
		ds.ObjectKey = key
		ds.Uploaded = true
	}
	return ds, nil
}

// Sweep removes exported data past the retention window: spool files,
// uploaded objects, ledger rows, and audit chains whose newest entry aged
// out. Partial chains are never removed so replay verification stays
// possible on whatever remains.
func (e *Exporter) Sweep(ctx context.Context) (*SweepResult, error) {
	cutoff := time.Now().In(e.loc).AddDate(0, 0, -e.retentionDays)
	result := &SweepResult{}

	entries, err := os.ReadDir(e.spoolDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl.gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(e.spoolDir, entry.Name())); err == nil {
				result.SpoolFilesRemoved++
			}
		}
	}

	if e.store != nil {
		objects, err := e.store.List(ctx, e.prefix+"/")
		if err != nil {
			return nil, fmt.Errorf("list archive objects: %w", err)
		}
		for _, obj := range objects {
			if obj.LastModified.IsZero() || !obj.LastModified.Before(cutoff) {
				continue
			}
			if err := e.store.Delete(ctx, obj.Key); err != nil {
				e.logger.Warn("archive object delete failed", zap.String("key", obj.Key), zap.Error(err))
				continue
			}
			result.ObjectsRemoved++
		}
	}

	res := e.db.WithContext(ctx).Unscoped().
		Where("created_at < ?", cutoff).
		Delete(&models.AIInvocationModel{})
	if res.Error != nil {
		return nil, fmt.Errorf("ledger retention delete: %w", res.Error)
	}
	result.LedgerRowsRemoved = res.RowsAffected

	var staleChains []string
	if err := e.db.WithContext(ctx).Model(&models.PHIAuditRecordModel{}).
		Select("chain_key").
		Group("chain_key").
		Having("MAX(created_at) < ?", cutoff).
		Pluck("chain_key", &staleChains).Error; err != nil {
		return nil, fmt.Errorf("audit retention scan: %w", err)
	}
	if len(staleChains) > 0 {
		res = e.db.WithContext(ctx).Unscoped().
			Where("chain_key IN ?", staleChains).
			Delete(&models.PHIAuditRecordModel{})
		if res.Error != nil {
			return nil, fmt.Errorf("audit retention delete: %w", res.Error)
		}
		result.AuditRowsRemoved = res.RowsAffected
	}

	e.logger.Info("archive retention sweep finished",
		zap.Int("spool_removed", result.SpoolFilesRemoved),
		zap.Int("objects_removed", result.ObjectsRemoved),
		zap.Int64("ledger_rows_removed", result.LedgerRowsRemoved),
		zap.Int64("audit_rows_removed", result.AuditRowsRemoved))
	return result, nil
}

// SpoolItem is one local export bundle.
type SpoolItem struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
}

// Spool lists the local export bundles, newest first.
func (e *Exporter) Spool() ([]SpoolItem, error) {
	entries, err := os.ReadDir(e.spoolDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SpoolItem{}, nil
		}
		return nil, err
	}
	items := make([]SpoolItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl.gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, SpoolItem{
			Filename: entry.Name(),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ModTime.After(items[j].ModTime)
	})
	return items, nil
}

// Runs lists tracked export runs, newest first.
func (e *Exporter) Runs(ctx context.Context, page, size int) ([]*taskqueue.Task, int64, error) {
	taskType := TaskTypeExport
	return e.tasks.List(ctx, page, size, &taskType, nil)
}

// Yesterday returns the previous day in the exporter's timezone.
func (e *Exporter) Yesterday() string {
	return time.Now().In(e.loc).AddDate(0, 0, -1).Format(dayLayout)
}

func (e *Exporter) parseDay(day string) (time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, day, e.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", day)
	}
	return t, nil
}

func encodeJSONL[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// objectKey lays bundles out as {prefix}/{year}/{month}/{filename} so
// object listings stay browsable by month.
func objectKey(prefix, day, filename string) string {
	year, month := day[:4], day[5:7]
	return path.Join(prefix, year, month, filename)
}
