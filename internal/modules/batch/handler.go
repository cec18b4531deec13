package batch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/middleware"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/pagination"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/ai/batch", authMW)
	g.POST("", h.submit)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/cancel", h.cancel)
}

type batchItemDTO struct {
	TaskType       string            `json:"taskType" binding:"required"`
	Prompt         string            `json:"prompt" binding:"required"`
	SystemPrompt   string            `json:"systemPrompt"`
	MaxTokens      int               `json:"maxTokens"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat string            `json:"responseFormat"`
	ForceTier      string            `json:"forceTier"`
	ChainKey       string            `json:"chainKey"`
	MinWords       int               `json:"minWords"`
	MaxWords       int               `json:"maxWords"`
	Metadata       map[string]string `json:"metadata"`
}

type submitRequestDTO struct {
	Items []batchItemDTO `json:"items" binding:"required,min=1,dive"`
}

// POST /ai/batch
func (h *Handler) submit(c *gin.Context) {
	var dto submitRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	items := make([]Item, 0, len(dto.Items))
	for i, raw := range dto.Items {
		item, err := raw.toItem()
		if err != nil {
			response.BadRequest(c, fmt.Sprintf("item %d: %s", i, err))
			return
		}
		items = append(items, item)
	}

	job, err := h.svc.Submit(c.Request.Context(), middleware.CurrentOperatorID(c), items)
	if err != nil {
		if errors.Is(err, ErrBatchEmpty) || errors.Is(err, ErrBatchTooLarge) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Accepted(c, job)
}

// GET /ai/batch
func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	var jobs []models.BatchJobModel
	page, err := pagination.Paginate(h.svc.Query(c.Request.Context(), c.Query("status")), q, &jobs)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, jobs, page)
}

type batchItemView struct {
	models.BatchJobRequestModel
	Content string `json:"content,omitempty"`
}

// GET /ai/batch/:id
func (h *Handler) get(c *gin.Context) {
	job, items, err := h.svc.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}

	includeResults := c.Query("includeResults") == "true" || c.Query("includeResults") == "1"
	views := make([]batchItemView, 0, len(items))
	for _, item := range items {
		view := batchItemView{BatchJobRequestModel: item}
		if includeResults && item.ContentRef != "" {
			content, err := h.svc.Result(c.Request.Context(), item.ContentRef)
			if err == nil {
				view.Content = content
			}
		}
		views = append(views, view)
	}

	response.OK(c, gin.H{"job": job, "items": views})
}

// POST /ai/batch/:id/cancel
func (h *Handler) cancel(c *gin.Context) {
	err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		response.OK(c, gin.H{"cancelRequested": true})
	case errors.Is(err, ErrJobNotFound):
		response.NotFound(c)
	case errors.Is(err, ErrJobFinished):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

func (dto *batchItemDTO) toItem() (Item, error) {
	item := Item{
		TaskType:       dto.TaskType,
		Prompt:         dto.Prompt,
		SystemPrompt:   dto.SystemPrompt,
		MaxTokens:      dto.MaxTokens,
		Temperature:    dto.Temperature,
		ResponseFormat: strings.ToLower(strings.TrimSpace(dto.ResponseFormat)),
		ChainKey:       strings.TrimSpace(dto.ChainKey),
		MinWords:       dto.MinWords,
		MaxWords:       dto.MaxWords,
		Metadata:       dto.Metadata,
	}
	if raw := strings.TrimSpace(dto.ForceTier); raw != "" {
		tier, ok := routing.ParseTier(raw)
		if !ok {
			return Item{}, fmt.Errorf("unknown forceTier %q", raw)
		}
		item.ForceTier = &tier
	}
	return item, nil
}
