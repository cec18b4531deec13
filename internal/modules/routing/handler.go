package routing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

type Handler struct {
	router *Router
}

func NewHandler(router *Router) *Handler { return &Handler{router: router} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/ai", authMW)
	g.POST("/route", h.route)
}

type routeRequestDTO struct {
	TaskType       string            `json:"taskType" binding:"required"`
	Prompt         string            `json:"prompt" binding:"required"`
	SystemPrompt   string            `json:"systemPrompt"`
	MaxTokens      int               `json:"maxTokens"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat string            `json:"responseFormat"`
	ForceTier      string            `json:"forceTier"`
	MaxEscalations *int              `json:"maxEscalations"`
	MinWords       int               `json:"minWords"`
	MaxWords       int               `json:"maxWords"`
	ChainKey       string            `json:"chainKey"`
	RequestID      string            `json:"requestId"`
	Metadata       map[string]string `json:"metadata"`
}

type routeResponseDTO struct {
	RequestID     string         `json:"requestId"`
	Content       string         `json:"content"`
	Parsed        *ParsedPayload `json:"parsed,omitempty"`
	QualityGate   Verdict        `json:"qualityGate"`
	Usage         Usage          `json:"usage"`
	ModelTier     string         `json:"modelTier"`
	ModelID       string         `json:"modelId"`
	ProviderID    string         `json:"providerId,omitempty"`
	CacheHit      bool           `json:"cacheHit"`
	EscalatedFrom *string        `json:"escalatedFrom,omitempty"`
	LatencyMs     int64          `json:"latencyMs"`
}

// POST /ai/route
func (h *Handler) route(c *gin.Context) {
	var dto routeRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	req, err := dto.toRequest()
	if err != nil {
		WriteRouteError(c, err)
		return
	}

	resp, err := h.router.Route(c.Request.Context(), req)
	if err != nil {
		WriteRouteError(c, err)
		return
	}

	if resp.CacheHit {
		c.Header("x-rf-cache", "hit")
	} else {
		c.Header("x-rf-cache", "miss")
	}
	c.Header("x-rf-served-by", resp.ModelID)
	response.OK(c, toResponseDTO(req.RequestID, resp))
}

func (dto *routeRequestDTO) toRequest() (Request, error) {
	req := Request{
		RequestID:      strings.TrimSpace(dto.RequestID),
		TaskType:       dto.TaskType,
		Prompt:         dto.Prompt,
		SystemPrompt:   dto.SystemPrompt,
		MaxTokens:      dto.MaxTokens,
		Temperature:    dto.Temperature,
		ResponseFormat: ResponseFormat(strings.ToLower(strings.TrimSpace(dto.ResponseFormat))),
		MaxEscalations: dto.MaxEscalations,
		MinWords:       dto.MinWords,
		MaxWords:       dto.MaxWords,
		ChainKey:       strings.TrimSpace(dto.ChainKey),
		Metadata:       dto.Metadata,
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if raw := strings.TrimSpace(dto.ForceTier); raw != "" {
		tier, ok := ParseTier(raw)
		if !ok {
			return Request{}, &InvalidRequestError{Reason: "unknown forceTier " + raw}
		}
		req.ForceTier = &tier
	}
	return req, nil
}

func toResponseDTO(requestID string, resp *Response) routeResponseDTO {
	dto := routeResponseDTO{
		RequestID:   requestID,
		Content:     resp.Content,
		Parsed:      resp.Parsed,
		QualityGate: resp.QualityGate,
		Usage:       resp.Usage,
		ModelTier:   resp.ModelTier.String(),
		ModelID:     resp.ModelID,
		ProviderID:  resp.ProviderID,
		CacheHit:    resp.CacheHit,
		LatencyMs:   resp.LatencyMs,
	}
	if resp.EscalatedFrom != nil {
		from := resp.EscalatedFrom.String()
		dto.EscalatedFrom = &from
	}
	return dto
}

// WriteRouteError maps the routing error taxonomy onto the response
// envelope with stable business codes. Payloads never include prompt or
// response text.
func WriteRouteError(c *gin.Context, err error) {
	var (
		invalidErr  *InvalidRequestError
		detectedErr *PHIDetectedError
		scanErr     *PHIScanFailureError
		qualityErr  *QualityGateFailedError
		providerErr *ProviderError
	)
	switch {
	case errors.As(err, &invalidErr):
		response.BusinessError(c, http.StatusBadRequest, "INVALID_REQUEST", invalidErr.Reason, nil)
	case errors.As(err, &detectedErr):
		response.BusinessError(c, http.StatusUnprocessableEntity, "PHI_DETECTED", detectedErr.Error(), gin.H{
			"stage":         detectedErr.Stage,
			"findingsCount": detectedErr.FindingsCount,
			"riskLevel":     detectedErr.RiskLevel,
			"detectionIds":  detectedErr.DetectionIDs,
		})
	case errors.As(err, &scanErr):
		response.BusinessError(c, http.StatusServiceUnavailable, "PHI_SCAN_FAILURE", scanErr.Error(), gin.H{
			"stage": scanErr.Stage,
		})
	case errors.As(err, &qualityErr):
		tiers := make([]string, 0, len(qualityErr.TiersAttempted))
		for _, t := range qualityErr.TiersAttempted {
			tiers = append(tiers, t.String())
		}
		response.BusinessError(c, http.StatusUnprocessableEntity, "QUALITY_GATE_FAILED", "quality gate failed after escalation budget was spent", gin.H{
			"tiersAttempted": tiers,
			"checks":         qualityErr.Checks,
		})
	case errors.As(err, &providerErr):
		response.BusinessError(c, http.StatusBadGateway, "PROVIDER_ERROR", providerErr.Error(), gin.H{
			"tier":       providerErr.Tier.String(),
			"providerId": providerErr.ProviderID,
		})
	case errors.Is(err, context.DeadlineExceeded):
		response.BusinessError(c, http.StatusGatewayTimeout, "TIMEOUT", "request deadline exceeded", nil)
	case errors.Is(err, context.Canceled):
		response.BusinessError(c, http.StatusBadRequest, "CANCELLED", "request cancelled by caller", nil)
	default:
		response.InternalError(c, err)
	}
}
