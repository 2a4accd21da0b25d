// Package httpapi serves the dashboard and unit APIs over gin.
//
// The dashboard API under /api is only registered on the leader. Every unit
// serves /unit_api and /metrics.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"reactorboard/internal/adapters/datasets"
	"reactorboard/internal/bridge"
	"reactorboard/internal/core"
	"reactorboard/internal/fleet"
)

// RequestIDHeader carries the per-request identifier.
const RequestIDHeader = "X-Request-ID"

// Deps are the components the handlers call. Fleet and Exports may be nil,
// in which case their routes are not registered.
type Deps struct {
	Service *core.Service
	Bridge  *bridge.Bridge
	Fleet   *fleet.Controller
	Exports *datasets.Worker
	Metrics *core.Metrics
	Logger  *zap.Logger
}

// Handler holds the route handlers.
type Handler struct {
	svc     *core.Service
	bridge  *bridge.Bridge
	fleet   *fleet.Controller
	exports *datasets.Worker
	logger  *zap.Logger
}

// NewRouter builds the engine for this unit's role.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: d.Service, bridge: d.Bridge, fleet: d.Fleet, exports: d.Exports, logger: logger}

	r := gin.New()
	r.Use(requestID(), accessLog(logger), gin.Recovery(), h.handles())

	unit := r.Group("/unit_api")
	unit.GET("/health", h.Health)
	unit.GET("/logs", h.UnitLogs)

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	if !d.Service.Gate().IsLeader() {
		return r
	}
	api := r.Group("/api")
	api.GET("/time_series/:metric/:experiment", h.TimeSeries)
	api.GET("/logs/recent", h.RecentLogs)
	api.GET("/media_rates/recent", h.RecentMediaRates)
	api.GET("/experiments", h.ListExperiments)
	api.GET("/experiments/latest", h.LatestExperiment)
	api.GET("/experiments/historical/:kind", h.HistoricalValues)
	api.POST("/experiments", h.CreateExperiment)
	api.PATCH("/experiments/:experiment", h.UpdateExperiment)
	api.GET("/calibrations/:unit/:type", h.Calibrations)

	if h.fleet != nil {
		api.POST("/fleet/stop_all", h.StopAll)
		api.POST("/fleet/stop/:job/:unit", h.StopJob)
		api.POST("/fleet/run/:job/:unit", h.RunJob)
		api.POST("/fleet/reboot/:unit", h.Reboot)
		api.GET("/plugins", h.ListPlugins)
		api.POST("/plugins/install", h.InstallPlugin)
		api.POST("/plugins/uninstall", h.UninstallPlugin)
	}
	if h.exports != nil {
		api.POST("/exports", h.CreateExport)
		api.GET("/exports/:id", h.GetExport)
		api.GET("/exports/:id/download", h.DownloadExport)
	}
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")))
	}
}

// handles scopes store sessions to the request and releases them after the
// handler chain returns.
func (h *Handler) handles() gin.HandlerFunc {
	return func(c *gin.Context) {
		hs := h.svc.NewHandles()
		c.Request = c.Request.WithContext(core.WithHandles(c.Request.Context(), hs))
		c.Next()
		if err := hs.Release(); err != nil {
			h.logger.Warn("release request handles", zap.Error(err), zap.String("request_id", c.GetString("request_id")))
		}
	}
}

// Health reports this unit's identity, role and local cache size. An
// unreadable cache is reported as degraded rather than failing the check.
func (h *Handler) Health(c *gin.Context) {
	gate := h.svc.Gate()
	status := "ok"
	cached, err := h.svc.CachedEventCount(c.Request.Context())
	if err != nil {
		h.logger.Warn("count cached events", zap.Error(err))
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"unit":            gate.Unit(),
		"role":            gate.String(),
		"leader_hostname": gate.LeaderHost(),
		"cached_events":   cached,
	})
}
