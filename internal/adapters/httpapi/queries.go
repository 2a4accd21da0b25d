package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"reactorboard/internal/core"
	"reactorboard/pkg/domain"
)

// TimeSeries serves the plotting envelope of one metric.
func (h *Handler) TimeSeries(c *gin.Context) {
	defaults := h.svc.Defaults()
	req := core.SeriesRequest{
		Metric:        c.Param("metric"),
		Experiment:    c.Param("experiment"),
		SamplingRate:  defaults.SamplingRate,
		LookbackHours: defaults.LookbackHours,
	}
	raw := c.Query("sampling_rate")
	if raw == "" {
		raw = c.Query("filter_mod_n")
	}
	if raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "sampling_rate", "must be an integer")
			return
		}
		req.SamplingRate = k
	}
	if raw := c.Query("lookback"); raw != "" {
		hrs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "lookback", "must be a number of hours")
			return
		}
		req.LookbackHours = hrs
	}
	env, err := h.svc.QuerySeries(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

// RecentLogs serves the newest central log events.
func (h *Handler) RecentLogs(c *gin.Context) {
	views, err := h.svc.RecentLogs(c.Request.Context(), core.LogRequest{
		MinLevel:   c.Query("min_level"),
		Experiment: c.DefaultQuery("experiment", domain.CurrentExperiment),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// UnitLogs serves this unit's locally cached events.
func (h *Handler) UnitLogs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit", "must be a non-negative integer")
			return
		}
		limit = n
	}
	views, err := h.svc.UnitLogs(c.Request.Context(), c.Query("min_level"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) RecentMediaRates(c *gin.Context) {
	rates, err := h.svc.RecentMediaRates(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rates)
}

func (h *Handler) Calibrations(c *gin.Context) {
	cals, err := h.svc.Calibrations(c.Request.Context(), c.Param("unit"), c.Param("type"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cals)
}
