package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/middleware"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/archive"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/auth"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/batch"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/events"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/health"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/phi"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/promptcache"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/provider"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/settings"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

func (a *App) registerRoutes() {
	r := a.router
	db := a.db
	authMW := middleware.Auth(db)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	appInfo := gin.H{
		"name":     "researchflow-ai-core",
		"author":   "ResearchFlow Platform Team",
		"version":  "1.0.0",
		"homepage": "https://github.com/ry86pkqf74-rgb/researchflow-production-sub006",
		"issues":   "https://github.com/ry86pkqf74-rgb/researchflow-production-sub006/issues",
	}
	banner := func(c *gin.Context) { c.PureJSON(http.StatusOK, appInfo) }
	r.GET("/", banner)

	apiPrefix := "/api/v2"

	// Versioned API. OptionalAuth runs first so the rate limiter and the
	// response cache can tell service callers apart from anonymous traffic.
	api := r.Group(apiPrefix)
	api.Use(middleware.OptionalAuth(db))
	api.Use(middleware.RateLimit(a.rc.Raw(), a.alertSvc))
	api.Use(middleware.Idempotence(a.rc.Raw()))
	api.Use(middleware.HTTPCache(a.rc.Raw(), middleware.HTTPCacheOptions{
		TTL:                    15 * time.Second,
		EnableCDNHeader:        true,
		EnableForceCacheHeader: false,
		Disable:                a.cfg.IsDev(),
		SkipPaths:              httpCacheSkipPaths(apiPrefix),
	}))

	api.GET("", banner)
	api.GET("/info", banner)
	api.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"data": "pong"}) })
	api.GET("/uptime", func(c *gin.Context) {
		uptimeMs := time.Since(processStart).Milliseconds()
		c.JSON(http.StatusOK, gin.H{
			"timestamp": uptimeMs,
			"humanize":  humanizeDuration(time.Duration(uptimeMs) * time.Millisecond),
		})
	})

	// Liveness, readiness, cron job admin, log browsing
	health.RegisterRoutes(api, db, a.rc, a.sched, a.alertSvc, a.cfg, authMW)

	api.GET("/clean_cache", authMW, func(c *gin.Context) {
		a.settingsSvc.Invalidate()
		deleted, err := middleware.PurgeHTTPCache(c.Request.Context(), a.rc.Raw())
		if err != nil {
			response.InternalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "deleted": deleted})
	})

	// Operator auth, sessions, API tokens
	auth.NewHandler(auth.NewService(db)).RegisterRoutes(api, authMW)

	// Request routing and the model catalog
	routing.NewHandler(a.aiRouter).RegisterRoutes(api, authMW)
	provider.NewHandler(a.registry).RegisterRoutes(api, authMW)

	// Batch execution
	batch.NewHandler(a.batchSvc).RegisterRoutes(api, authMW)

	// Cost ledger and summaries
	ledger.NewHandler(a.ledgerSvc).RegisterRoutes(api, authMW)

	// Prompt cache admin
	promptcache.NewHandler(a.cache, a.cacheStats).RegisterRoutes(api, authMW)

	// PHI scan and audit chain
	phi.NewHandler(a.scanner, db).RegisterRoutes(api, authMW)

	// Runtime settings
	settings.NewHandler(a.settingsSvc).RegisterRoutes(api, authMW)

	// Cold archive export
	archive.NewHandler(a.exporter).RegisterRoutes(api, authMW)

	// Event stream (SSE)
	events.NewHandler(a.hub).RegisterRoutes(api, authMW)
}

// httpCacheSkipPaths lists GET endpoints whose responses must never be
// served stale: probes, the live event stream, and anything that mutates.
func httpCacheSkipPaths(apiPrefix string) []string {
	p := strings.TrimSuffix(strings.TrimSpace(apiPrefix), "/")
	if p == "" {
		p = "/api/v2"
	}
	return []string{
		p + "/uptime",
		p + "/health",
		p + "/health/*",
		p + "/events/stream",
		p + "/jobs",
		p + "/jobs/*",
		p + "/clean_cache",
	}
}
