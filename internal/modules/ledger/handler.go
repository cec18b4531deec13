package ledger

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/pagination"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	grp := rg.Group("/ledger", authMW)
	{
		grp.GET("/invocations", h.listInvocations)
		grp.GET("/summary", h.summary)
		grp.POST("/summary/derive", h.derive)
	}
}

func (h *Handler) listInvocations(c *gin.Context) {
	filter := InvocationFilter{
		Tier:           strings.ToUpper(strings.TrimSpace(c.Query("tier"))),
		Day:            strings.TrimSpace(c.Query("day")),
		RequestID:      strings.TrimSpace(c.Query("requestId")),
		BatchRequestID: strings.TrimSpace(c.Query("batchRequestId")),
		ErrorKind:      strings.TrimSpace(c.Query("errorKind")),
	}
	if raw := strings.TrimSpace(c.Query("success")); raw != "" {
		v := raw == "true" || raw == "1"
		filter.Success = &v
	}
	if raw := strings.TrimSpace(c.Query("terminal")); raw != "" {
		v := raw == "true" || raw == "1"
		filter.Terminal = &v
	}

	query, err := h.svc.Query(c.Request.Context(), filter)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	q := pagination.FromContext(c)
	var rows []models.AIInvocationModel
	page, err := pagination.Paginate(query, q, &rows)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, rows, page)
}

func (h *Handler) summary(c *gin.Context) {
	from := strings.TrimSpace(c.Query("from"))
	to := strings.TrimSpace(c.Query("to"))
	if from == "" || to == "" {
		response.BadRequest(c, "from and to query params are required (YYYY-MM-DD)")
		return
	}

	summaries, usage, err := h.svc.SummaryRange(c.Request.Context(), from, to)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, gin.H{"costSummary": summaries, "modelUsage": usage})
}

type deriveRequestDTO struct {
	Date string `json:"date"`
}

// derive backfills the aggregates for one day. Without a date it reruns
// yesterday, matching what the nightly job does.
func (h *Handler) derive(c *gin.Context) {
	var dto deriveRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	day := strings.TrimSpace(dto.Date)
	if day == "" {
		day = h.svc.Yesterday()
	}

	if err := h.svc.DeriveDay(c.Request.Context(), day); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, gin.H{"date": day, "derived": true})
}
