package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type triggerView struct {
	Name        string   `json:"name"`
	Time        string   `json:"time"`
	WeekendOnly bool     `json:"weekend_only"`
	Message     string   `json:"message"`
	Remindees   []string `json:"remindees,omitempty"`
	Fired       bool     `json:"fired"`
}

// ListTriggers handles GET /api/triggers.
func (h *Handler) ListTriggers(c *gin.Context) {
	if unavailable(c, h.triggers != nil, "triggers") {
		return
	}
	status := h.triggers.Status()
	out := make([]triggerView, len(status))
	for i, s := range status {
		out[i] = triggerView{
			Name:        s.Name,
			Time:        fmt.Sprintf("%02d:%02d", s.Hour, s.Minute),
			WeekendOnly: s.WeekendOnly,
			Message:     s.Message,
			Remindees:   s.Remindees,
			Fired:       s.Fired,
		}
	}
	c.JSON(http.StatusOK, out)
}

// FireTrigger handles POST /api/triggers/:name/fire.
func (h *Handler) FireTrigger(c *gin.Context) {
	if unavailable(c, h.triggers != nil, "triggers") {
		return
	}
	if err := h.triggers.Fire(c.Request.Context(), c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fired": c.Param("name")})
}
