package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/database"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/middleware"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/archive"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/batch"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/events"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/phi"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/promptcache"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/provider"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/quality"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/settings"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/alerts"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/cluster"
	pkgcron "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/cron"
	pkgredis "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/redis"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies. Services are constructed once
// here and shared by the HTTP routes and the cron jobs.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	logger *zap.Logger
	cancel context.CancelFunc
	sched  *pkgcron.Scheduler

	hub         *events.Hub
	settingsSvc *settings.Service
	alertSvc    *alerts.Service
	registry    *provider.Registry
	gate        *quality.Gate
	scanner     *phi.Scanner
	cache       *promptcache.Cache
	cacheStats  *promptcache.StatsRecorder
	ledgerSvc   *ledger.Service
	aiRouter    *routing.Router
	batchSvc    *batch.Service
	taskSvc     *taskqueue.Service
	exporter    *archive.Exporter
}

// New initializes the application: config → DB → Redis → services → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := applyRuntimeSettings(cfg, logger); err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
		if !cluster.ShouldLogDevDiagnostics() {
			gin.DebugPrintRouteFunc = func(string, string, string, int) {}
			gin.DebugPrintFunc = func(string, ...interface{}) {}
		}
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(buildCORSConfig(cfg)))

	ctx, cancel := context.WithCancel(context.Background())

	hub := events.NewHub(rc, logger)
	go hub.Run(ctx)

	settingsSvc := settings.NewService(db, cfg, logger)

	// Alert config lives in runtime settings so PATCH /settings can turn
	// the webhook on and off without a restart.
	alertSvc := alerts.New(func() (bool, string) {
		current, err := settingsSvc.Get()
		if err != nil {
			return cfg.Alerts.Enable, cfg.Alerts.WebhookURL
		}
		return current.Alerts.Enable, current.Alerts.WebhookURL
	})

	registry, err := provider.NewRegistry(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("providers: %w", err)
	}

	gate := quality.NewGate(logger)
	for _, schema := range cfg.AI.Schemas {
		gate.RegisterSchema(quality.Schema{
			TaskType:     schema.TaskType,
			RequiredKeys: schema.RequiredKeys,
			ValidatorJS:  schema.ValidatorJS,
		})
	}

	audit := phi.NewAuditWriter(db)
	scanner, err := phi.NewScanner(cfg.PHI.FailClosed, cfg.Env, audit, alertSvc, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("phi: %w", err)
	}

	cacheStats := promptcache.NewStatsRecorder(db, logger)
	cache := promptcache.New(rc, time.Duration(cfg.Cache.TTLHours)*time.Hour, cacheStats, logger)

	sink := ledger.NewSink(db, logger)
	ledgerSvc := ledger.NewService(db, time.Local, logger)

	aiRouter, err := routing.NewRouter(routing.RouterDeps{
		Adapters: registry,
		Cache:    cache,
		Quality:  gate,
		PHI:      scanner,
		Ledger:   sink,
		Events:   hub,
		Policy:   buildPolicyFunc(cfg, settingsSvc),
		Logger:   logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("routing: %w", err)
	}

	batchSvc := batch.NewService(db, rc, aiRouter, hub, cfg.Batch.Workers, cfg.Batch.MaxRequests, logger)
	if err := batchSvc.RecoverInterrupted(ctx); err != nil {
		logger.Warn("failed to recover interrupted batch jobs", zap.Error(err))
	}

	taskSvc := taskqueue.NewService(rc)

	exporter, err := archive.NewExporter(db, taskSvc, cfg.Archive, cfg.ArchiveStagingDir(), time.Local, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("archive: %w", err)
	}

	app := &App{
		cfg:         cfg,
		router:      router,
		db:          db,
		rc:          rc,
		logger:      logger,
		cancel:      cancel,
		sched:       pkgcron.New(),
		hub:         hub,
		settingsSvc: settingsSvc,
		alertSvc:    alertSvc,
		registry:    registry,
		gate:        gate,
		scanner:     scanner,
		cache:       cache,
		cacheStats:  cacheStats,
		ledgerSvc:   ledgerSvc,
		aiRouter:    aiRouter,
		batchSvc:    batchSvc,
		taskSvc:     taskSvc,
		exporter:    exporter,
	}

	if cluster.ShouldRunCron() {
		app.registerCronJobs(app.sched)
		go app.sched.Start(ctx)
	}

	app.registerRoutes()

	return app, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background goroutines and waits for in-flight batch
// workers to finish their current request.
func (a *App) Shutdown() {
	a.cancel()
	a.batchSvc.Drain()
}

var processStart = time.Now()
