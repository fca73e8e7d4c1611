package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSettings godoc
// @ID          getSettings
// @Summary     Site settings
// @Description Public. Returns the defaults until an admin saves settings.
// @Tags        Settings
// @Produce     json
// @Success     200  {object}  domain.AppSettings
// @Router      /settings [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	s, err := h.svc.Settings.Get(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// UpdateSettings godoc
// @ID          updateSettings
// @Summary     Update site settings (admin)
// @Description Merges a partial settings document onto the stored one, validates and persists it.
// @Tags        Settings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      domain.AppSettings  true  "Full or partial settings"
// @Success     200   {object}  domain.AppSettings
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid settings"
// @Router      /settings [put]
func (h *Handlers) UpdateSettings(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	s, err := h.svc.Settings.Update(c.Request.Context(), actor(c), body)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}
