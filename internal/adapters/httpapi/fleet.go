package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) fleetResult(c *gin.Context, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) StopAll(c *gin.Context) {
	h.fleetResult(c, h.fleet.StopAll(c.Request.Context()))
}

func (h *Handler) StopJob(c *gin.Context) {
	h.fleetResult(c, h.fleet.StopJob(c.Request.Context(), c.Param("job"), c.Param("unit")))
}

func (h *Handler) RunJob(c *gin.Context) {
	h.fleetResult(c, h.fleet.RunJob(c.Request.Context(), c.Param("job"), c.Param("unit")))
}

func (h *Handler) Reboot(c *gin.Context) {
	h.fleetResult(c, h.fleet.Reboot(c.Request.Context(), c.Param("unit")))
}

func (h *Handler) ListPlugins(c *gin.Context) {
	out, err := h.fleet.ListPlugins(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

type pluginBody struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) InstallPlugin(c *gin.Context) {
	var body pluginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "name", err.Error())
		return
	}
	h.fleetResult(c, h.fleet.InstallPlugin(c.Request.Context(), body.Name))
}

func (h *Handler) UninstallPlugin(c *gin.Context) {
	var body pluginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "name", err.Error())
		return
	}
	h.fleetResult(c, h.fleet.UninstallPlugin(c.Request.Context(), body.Name))
}
