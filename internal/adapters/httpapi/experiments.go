package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reactorboard/pkg/domain"
)

func (h *Handler) ListExperiments(c *gin.Context) {
	exps, err := h.svc.ListExperiments(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exps)
}

func (h *Handler) LatestExperiment(c *gin.Context) {
	latest, err := h.svc.LatestExperiment(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, latest)
}

// CreateExperiment answers 201 with the stored experiment and 409 when the
// identifier is taken.
func (h *Handler) CreateExperiment(c *gin.Context) {
	var exp domain.Experiment
	if err := c.ShouldBindJSON(&exp); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	created, err := h.svc.CreateExperiment(c.Request.Context(), exp)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdateExperiment(c *gin.Context) {
	var body struct {
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if body.Description == nil {
		badRequest(c, "description", "required")
		return
	}
	id := c.Param("experiment")
	if err := h.svc.UpdateExperimentDescription(c.Request.Context(), id, *body.Description); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment": id, "description": *body.Description})
}

func (h *Handler) HistoricalValues(c *gin.Context) {
	values, err := h.svc.HistoricalValues(c.Request.Context(), c.Param("kind"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, values)
}
