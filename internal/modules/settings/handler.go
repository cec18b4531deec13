package settings

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/settings", authMW)
	g.GET("", h.get)
	g.PATCH("", h.patch)
}

func (h *Handler) get(c *gin.Context) {
	current, err := h.svc.Get()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, current)
}

func (h *Handler) patch(c *gin.Context) {
	var partial map[string]json.RawMessage
	if err := c.ShouldBindJSON(&partial); err != nil {
		response.BadRequest(c, "request body must be a JSON object")
		return
	}
	if len(partial) == 0 {
		response.BadRequest(c, "no settings provided")
		return
	}

	updated, err := h.svc.Patch(partial)
	if err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			response.UnprocessableEntity(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, updated)
}
