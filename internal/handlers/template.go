package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/franzego/dispatchd/internal/dispatch"
	"github.com/franzego/dispatchd/internal/models"
	"github.com/franzego/dispatchd/internal/store"
)

type TemplateHandler struct {
	svc *dispatch.TemplateService
}

func NewTemplateHandler(svc *dispatch.TemplateService) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

func (h *TemplateHandler) List(c *gin.Context) {
	all := c.Query("include_inactive") == "true"
	tpls, err := h.svc.List(c.Request.Context(), all)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Templates", tpls)
}

func (h *TemplateHandler) Create(c *gin.Context) {
	var req models.TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.svc.Create(c.Request.Context(), dispatch.TemplateInput{
		Name:            req.Name,
		Channel:         req.Channel,
		SubjectTemplate: req.SubjectTemplate,
		BodyTemplate:    req.BodyTemplate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Template created", tpl)
}

func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.svc.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Template found", tpl)
}

func (h *TemplateHandler) Update(c *gin.Context) {
	var req models.TemplatePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.svc.Update(c.Request.Context(), c.Param("name"), store.TemplatePatch{
		SubjectTemplate: req.SubjectTemplate,
		BodyTemplate:    req.BodyTemplate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Template updated", tpl)
}

func (h *TemplateHandler) Deactivate(c *gin.Context) {
	if err := h.svc.Deactivate(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Template deactivated", nil)
}
