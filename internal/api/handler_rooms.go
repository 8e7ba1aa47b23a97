package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type checkInRequest struct {
	Slots int    `json:"slots"`
	CC    string `json:"cc"`
}

// CheckIn handles POST /api/rooms/:id/check-in.
func (h *Handler) CheckIn(c *gin.Context) {
	if unavailable(c, h.rooms != nil, "rooms") {
		return
	}
	user, ok := caller(c)
	if !ok {
		return
	}
	req := checkInRequest{Slots: 1}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	r, err := h.rooms.CheckIn(c.Request.Context(), c.Param("id"), user, req.Slots, req.CC)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReservation(r))
}

// Reserve handles POST /api/rooms/:id/reserve.
func (h *Handler) Reserve(c *gin.Context) {
	if unavailable(c, h.rooms != nil, "rooms") {
		return
	}
	user, ok := caller(c)
	if !ok {
		return
	}
	r, err := h.rooms.ReserveNext(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReservation(r))
}

type extendRoomRequest struct {
	Slots int `json:"slots" binding:"required"`
}

// ExtendRoom handles POST /api/rooms/:id/extend.
func (h *Handler) ExtendRoom(c *gin.Context) {
	if unavailable(c, h.rooms != nil, "rooms") {
		return
	}
	var req extendRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	r, err := h.rooms.Extend(c.Request.Context(), c.Param("id"), req.Slots)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservation(r))
}

// ClearRoom handles DELETE /api/rooms/:id.
func (h *Handler) ClearRoom(c *gin.Context) {
	if unavailable(c, h.rooms != nil, "rooms") {
		return
	}
	removed, err := h.rooms.Clear(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": toReservations(removed)})
}

// Queue handles GET /api/rooms/queue.
func (h *Handler) Queue(c *gin.Context) {
	if unavailable(c, h.rooms != nil, "rooms") {
		return
	}
	rows, err := h.rooms.Queue(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservations(rows))
}

// RoomStats handles GET /api/rooms/:id/stats.
func (h *Handler) RoomStats(c *gin.Context) {
	if unavailable(c, h.rooms != nil, "rooms") {
		return
	}
	stats, err := h.rooms.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"resource_id":           c.Param("id"),
		"rent_count":            stats.RentCount,
		"extension_count":       stats.ExtensionCount,
		"rent_total_time_hours": stats.RentTotalTimeHours,
	})
}
