package archive

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/pagination"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

type Handler struct {
	exporter *Exporter
}

func NewHandler(exporter *Exporter) *Handler { return &Handler{exporter: exporter} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/archive", authMW)
	g.POST("/run", h.run)
	g.POST("/sweep", h.sweep)
	g.GET("/runs", h.runs)
	g.GET("/files", h.files)
}

type runRequestDTO struct {
	Date string `json:"date"`
}

// POST /archive/run
func (h *Handler) run(c *gin.Context) {
	var dto runRequestDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	task, err := h.exporter.Run(c.Request.Context(), strings.TrimSpace(dto.Date))
	if err != nil {
		if strings.HasPrefix(err.Error(), "invalid date") {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Accepted(c, task)
}

// POST /archive/sweep
func (h *Handler) sweep(c *gin.Context) {
	result, err := h.exporter.Sweep(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, result)
}

// GET /archive/runs
func (h *Handler) runs(c *gin.Context) {
	q := pagination.FromContext(c)
	tasks, total, err := h.exporter.Runs(c.Request.Context(), q.Page, q.Size)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))
	response.Paged(c, tasks, response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	})
}

// GET /archive/files
func (h *Handler) files(c *gin.Context) {
	items, err := h.exporter.Spool()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, items)
}
