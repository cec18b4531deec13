package promptcache

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/pagination"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

type Handler struct {
	cache *Cache
	stats *StatsRecorder
}

func NewHandler(cache *Cache, stats *StatsRecorder) *Handler {
	return &Handler{cache: cache, stats: stats}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	grp := rg.Group("/cache", authMW)
	{
		grp.GET("/stats", h.listStats)
		grp.DELETE("/:key", h.deleteEntry)
	}
}

type statsSummaryDTO struct {
	TotalHits   int64   `json:"totalHits"`
	TotalMisses int64   `json:"totalMisses"`
	HitRate     float64 `json:"hitRate"`
}

func (h *Handler) listStats(c *gin.Context) {
	q := pagination.FromContext(c)
	query := h.stats.Query(
		c.Request.Context(),
		strings.ToUpper(strings.TrimSpace(c.Query("operation"))),
		strings.ToUpper(strings.TrimSpace(c.Query("tier"))),
	)

	var rows []models.PromptCacheStatModel
	page, err := pagination.Paginate(query, q, &rows)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	hits, misses, err := h.stats.Totals(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	summary := statsSummaryDTO{TotalHits: hits, TotalMisses: misses}
	if hits+misses > 0 {
		summary.HitRate = float64(hits) / float64(hits+misses)
	}

	response.OK(c, gin.H{"summary": summary, "keys": rows, "pagination": page})
}

func (h *Handler) deleteEntry(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		response.BadRequest(c, "cache key is required")
		return
	}
	if err := h.cache.Delete(c.Request.Context(), key); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
