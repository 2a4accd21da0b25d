package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reactorboard/internal/adapters/datasets"
	"reactorboard/pkg/domain"
)

// CreateExport queues a dataset export and answers 202 with its record.
func (h *Handler) CreateExport(c *gin.Context) {
	var req datasets.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if req.Experiment == "" {
		req.Experiment = domain.CurrentExperiment
	}
	rec, err := h.exports.Enqueue(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

func (h *Handler) GetExport(c *gin.Context) {
	rec, ok := h.exports.Get(c.Param("id"))
	if !ok {
		h.writeError(c, domain.NotFoundError{Entity: "export", ID: c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DownloadExport streams a finished archive.
func (h *Handler) DownloadExport(c *gin.Context) {
	rec, body, err := h.exports.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer func() { _ = body.Close() }()
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.zip"`, rec.Experiment, rec.ID))
	c.Header("Content-Type", datasets.ContentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.logger.Warn("stream export", zap.String("id", rec.ID), zap.Error(err))
	}
}
