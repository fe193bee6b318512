package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// CreatePreference handles POST /api/v1/preferences.
func (s *Server) CreatePreference(c *gin.Context) {
	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "malformed preference body"))
		return
	}

	created, err := s.builder.Create(c.Request.Context(), req.toPreference())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toPreferenceResponse(created))
}

// UpdatePreference handles PUT /api/v1/preferences/:id.
func (s *Server) UpdatePreference(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "malformed preference body"))
		return
	}

	draft := req.toPreference()
	draft.ID = id
	updated, err := s.builder.Update(c.Request.Context(), draft)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toPreferenceResponse(updated))
}

// DeletePreference handles DELETE /api/v1/preferences/:id.
func (s *Server) DeletePreference(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.builder.DeleteCustom(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPreference handles GET /api/v1/preferences/:id.
func (s *Server) GetPreference(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := s.store.ByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if p == nil {
		_ = c.Error(apperrors.NotFound(apperrors.CodePreferenceNotFound, "preference not found"))
		return
	}
	c.JSON(http.StatusOK, toPreferenceResponse(p))
}

// ListPreferences handles POST /api/v1/preferences/list: every stored
// preference at one extended context, across resolvers.
func (s *Server) ListPreferences(c *gin.Context) {
	var req contextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "malformed context body"))
		return
	}

	rows, err := s.lister.ListAtContext(c.Request.Context(), req.toContext())
	if err != nil {
		_ = c.Error(err)
		return
	}
	items := make([]preferenceResponse, 0, len(rows))
	for i := range rows {
		items = append(items, toPreferenceResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// EffectivePreference handles POST /api/v1/preferences/effective: the fully
// resolved preference one event at the given context would use.
func (s *Server) EffectivePreference(c *gin.Context) {
	var req struct {
		ResolverKey string         `json:"resolver_key" binding:"required"`
		Context     contextRequest `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "malformed effective lookup body"))
		return
	}

	eff, err := s.loader.Effective(c.Request.Context(), req.ResolverKey, req.Context.toContext())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toEffectiveResponse(eff))
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "invalid preference id"))
		return 0, false
	}
	return id, true
}
