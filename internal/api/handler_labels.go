package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"venue-backend/internal/transport"
)

var knownLabels = map[transport.Label]bool{
	transport.LabelReady:      true,
	transport.LabelInProgress: true,
	transport.LabelArchived:   true,
	transport.LabelOccupied:   true,
	transport.LabelReserved:   true,
	transport.LabelAvailable:  true,
}

type labelsBody struct {
	Labels []transport.Label `json:"labels"`
}

// GetLabels handles GET /api/resources/:id/labels.
func (h *Handler) GetLabels(c *gin.Context) {
	if unavailable(c, h.labels != nil, "labels") {
		return
	}
	labels, err := h.labels.Labels(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if labels == nil {
		labels = []transport.Label{}
	}
	c.JSON(http.StatusOK, labelsBody{Labels: labels})
}

// PutLabels handles PUT /api/resources/:id/labels. It lets operators mark a
// resource ready for an auction when no chat platform does it.
func (h *Handler) PutLabels(c *gin.Context) {
	if unavailable(c, h.labels != nil, "labels") {
		return
	}
	var req labelsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	for _, l := range req.Labels {
		if !knownLabels[l] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown label " + string(l)})
			return
		}
	}
	if err := h.labels.ApplyLabels(c.Request.Context(), c.Param("id"), req.Labels...); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
