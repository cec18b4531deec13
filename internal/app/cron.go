package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgcron "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/cron"
	pkgmail "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/mail"
	"go.uber.org/zap"
)

const cronLockTTL = 10 * time.Minute

// registerCronJobs wires the scheduled background jobs. ShouldRunCron
// already gates co-located replicas; the Redis lease handles replicas on
// other hosts sharing the same database.
func (a *App) registerCronJobs(sched *pkgcron.Scheduler) {
	logger := a.logger.Named("CronService")

	at := func(hour int) *int { return &hour }

	sched.Register(pkgcron.Job{
		Name:        "derive_cost_summary",
		Description: "Derive yesterday's cost summary rows from the invocation ledger",
		AtHour:      at(2),
		Fn: func(ctx context.Context) error {
			return a.lockAndRun(ctx, "derive_cost_summary", func(ctx context.Context) error {
				day := a.ledgerSvc.Yesterday()
				if err := a.ledgerSvc.DeriveDay(ctx, day); err != nil {
					logger.Warn("summary derivation failed", zap.String("day", day), zap.Error(err))
					return err
				}
				logger.Info("summary derived", zap.String("day", day))
				return nil
			})
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "archive_export",
		Description: "Export yesterday's ledger and audit rows to object storage",
		AtHour:      at(3),
		Fn: func(ctx context.Context) error {
			// Dedup happens in the task queue; replicas racing here get
			// the same task back.
			task, err := a.exporter.Run(ctx, "")
			if err != nil {
				logger.Warn("archive export failed to start", zap.Error(err))
				return err
			}
			logger.Info("archive export scheduled", zap.String("task_id", task.ID))
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "retention_sweep",
		Description: "Delete ledger rows, audit chains and archive objects past retention",
		AtHour:      at(4),
		Fn: func(ctx context.Context) error {
			return a.lockAndRun(ctx, "retention_sweep", func(ctx context.Context) error {
				result, err := a.exporter.Sweep(ctx)
				if err != nil {
					logger.Warn("retention sweep failed", zap.Error(err))
					return err
				}
				logger.Info("retention sweep done",
					zap.Int64("ledger_rows", result.LedgerRowsRemoved),
					zap.Int64("audit_rows", result.AuditRowsRemoved),
					zap.Int("objects", result.ObjectsRemoved),
				)
				return nil
			})
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "cache_stats_sweep",
		Description: "Drop cache hit counters whose entries expired",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			return a.lockAndRun(ctx, "cache_stats_sweep", func(ctx context.Context) error {
				removed, err := a.cache.SweepStaleStats(ctx)
				if err != nil {
					return err
				}
				if removed > 0 {
					logger.Info("stale cache stats removed", zap.Int64("rows", removed))
				}
				return nil
			})
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "task_queue_cleanup",
		Description: "Remove finished queue tasks older than seven days",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			before := time.Now().AddDate(0, 0, -7).UnixMilli()
			return a.taskSvc.DeleteCompleted(ctx, before)
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "budget_check",
		Description: "Alert when today's spend crosses the configured budget",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			current, err := a.settingsSvc.Get()
			if err != nil {
				return err
			}
			if !current.Alerts.Enable || current.Alerts.BudgetDailyUsd <= 0 {
				return nil
			}
			spend, over, err := a.ledgerSvc.CheckBudget(ctx, current.Alerts.BudgetDailyUsd)
			if err != nil {
				return err
			}
			if !over {
				return nil
			}
			a.hub.Publish("budget.exceeded", map[string]interface{}{
				"spendUsd":  spend,
				"budgetUsd": current.Alerts.BudgetDailyUsd,
			})
			a.alertSvc.SendThrottled("budget", "critical",
				"Daily AI budget exceeded",
				fmt.Sprintf("Spend today is $%.4f against a budget of $%.2f.", spend, current.Alerts.BudgetDailyUsd),
			)
			return nil
		},
	})

	digestHour := 7
	if current, err := a.settingsSvc.Get(); err == nil {
		digestHour = current.Digest.SendHour
	}
	sched.Register(pkgcron.Job{
		Name:        "daily_digest",
		Description: "Mail the daily spend digest to the configured recipients",
		AtHour:      at(digestHour),
		Fn: func(ctx context.Context) error {
			return a.lockAndRun(ctx, "daily_digest", func(ctx context.Context) error {
				return a.sendSpendDigest(ctx, logger)
			})
		},
	})
}

// lockAndRun takes a short Redis lease so only one replica executes the
// job per window.
func (a *App) lockAndRun(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := "rf:cron:lock:" + name
	acquired, err := a.rc.SetNX(ctx, key, time.Now().Format(time.RFC3339), cronLockTTL)
	if err != nil {
		return fmt.Errorf("cron lock %s: %w", name, err)
	}
	if !acquired {
		return nil
	}
	return fn(ctx)
}

func (a *App) sendSpendDigest(ctx context.Context, logger *zap.Logger) error {
	current, err := a.settingsSvc.Get()
	if err != nil {
		return err
	}
	if !current.Digest.Enable {
		return nil
	}

	sender := pkgmail.NewSender(pkgmail.BuildConfig(a.cfg))
	if !sender.Enabled() {
		logger.Warn("digest enabled but mail is not configured")
		return nil
	}
	recipients := splitRecipients(a.cfg.Mail.To)
	if len(recipients) == 0 {
		logger.Warn("digest enabled but mail.to is empty")
		return nil
	}

	day := a.ledgerSvc.Yesterday()
	summaries, _, err := a.ledgerSvc.SummaryRange(ctx, day, day)
	if err != nil {
		return err
	}

	data := pkgmail.DigestData{
		Date:           day,
		BudgetDailyUsd: current.Alerts.BudgetDailyUsd,
	}
	for _, s := range summaries {
		data.TotalInvocations += s.TotalInvocations
		data.TotalCostUsd += s.TotalCostUsd
		data.Rows = append(data.Rows, pkgmail.DigestTierRow{
			Tier:        s.ModelTier,
			Invocations: s.TotalInvocations,
			CostUsd:     s.TotalCostUsd,
		})
	}
	if data.BudgetDailyUsd > 0 && data.TotalCostUsd > data.BudgetDailyUsd {
		data.OverBudget = true
	}
	if hits, misses, err := a.cacheStats.Totals(ctx); err == nil && hits+misses > 0 {
		data.CacheHitRatePct = float64(hits) / float64(hits+misses) * 100
	}

	if err := sender.SendSpendDigest(recipients, data); err != nil {
		logger.Warn("digest send failed", zap.Error(err))
		return err
	}
	logger.Info("digest sent", zap.String("day", day), zap.Int("recipients", len(recipients)))
	return nil
}

func splitRecipients(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
