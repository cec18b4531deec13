package phi

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/pagination"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
	"gorm.io/gorm"
)

type Handler struct {
	scanner *Scanner
	db      *gorm.DB
}

func NewHandler(scanner *Scanner, db *gorm.DB) *Handler {
	return &Handler{scanner: scanner, db: db}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	grp := rg.Group("/phi", authMW)
	{
		grp.POST("/scan", h.scan)
		grp.GET("/audit", h.listAudit)
		grp.POST("/audit/verify", h.verifyChain)
	}
}

type scanRequestDTO struct {
	Text     string `json:"text" binding:"required"`
	TaskType string `json:"taskType"`
}

// scan is a dry run for callers that want to check content before
// submitting it for routing. It reports findings without echoing any
// matched text and leaves the audit chains untouched.
func (h *Handler) scan(c *gin.Context) {
	var dto scanRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	report := h.scanner.Inspect(dto.Text, "precheck")
	response.OK(c, report)
}

func (h *Handler) listAudit(c *gin.Context) {
	chainKey := strings.TrimSpace(c.Query("chainKey"))
	if chainKey == "" {
		chainKey = strings.TrimSpace(c.Query("chain_key"))
	}

	q := pagination.FromContext(c)
	query := h.db.WithContext(c.Request.Context()).Model(&models.PHIAuditRecordModel{})
	if chainKey != "" {
		query = query.Where("chain_key = ?", chainKey)
	}
	if action := strings.TrimSpace(c.Query("action")); action != "" {
		query = query.Where("action = ?", action)
	}
	query = query.Order("created_at DESC, sequence DESC")

	var records []models.PHIAuditRecordModel
	page, err := pagination.Paginate(query, q, &records)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, records, page)
}

type verifyRequestDTO struct {
	ChainKey string `json:"chainKey" binding:"required"`
}

func (h *Handler) verifyChain(c *gin.Context) {
	var dto verifyRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.scanner.Audit().Verify(c.Request.Context(), dto.ChainKey)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, result)
}
