package provider

import (
	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler { return &Handler{registry: registry} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/ai", authMW)
	g.GET("/tiers", h.listTiers)
}

// GET /ai/tiers
func (h *Handler) listTiers(c *gin.Context) {
	response.OK(c, h.registry.Catalog())
}
