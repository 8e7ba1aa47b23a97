package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"venue-backend/internal/auction"
)

type beginAuctionRequest struct {
	Duration     string `json:"duration" binding:"required"`
	StartingBid  string `json:"starting_bid" binding:"required"`
	BidIncrement string `json:"bid_increment" binding:"required"`
	Test         bool   `json:"test"`
}

// BeginAuction handles POST /api/auctions/:id.
func (h *Handler) BeginAuction(c *gin.Context) {
	if unavailable(c, h.auctions != nil, "auctions") {
		return
	}
	var req beginAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	a, err := h.auctions.Begin(c.Request.Context(), auction.BeginRequest{
		ResourceID:   c.Param("id"),
		Duration:     req.Duration,
		StartingBid:  req.StartingBid,
		BidIncrement: req.BidIncrement,
		Test:         req.Test,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAuction(a))
}

type bidRequest struct {
	Amount string `json:"amount"`
}

// PlaceBid handles POST /api/auctions/:id/bids. An empty amount raises the
// current bid by the increment.
func (h *Handler) PlaceBid(c *gin.Context) {
	if unavailable(c, h.auctions != nil, "auctions") {
		return
	}
	user, ok := caller(c)
	if !ok {
		return
	}
	var req bidRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	res, err := h.auctions.PlaceBid(c.Request.Context(), c.Param("id"), user, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"auction": toAuction(res.Auction),
		"total":   res.Total,
		"count":   res.Count,
		"fixed":   res.Entry.IsFixedAmount,
	})
}

type extendAuctionRequest struct {
	Duration string `json:"duration" binding:"required"`
}

// ExtendAuction handles POST /api/auctions/:id/extend.
func (h *Handler) ExtendAuction(c *gin.Context) {
	if unavailable(c, h.auctions != nil, "auctions") {
		return
	}
	var req extendAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	a, err := h.auctions.Extend(c.Request.Context(), c.Param("id"), req.Duration)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toAuction(a))
}

type cancelAuctionRequest struct {
	Reason  string `json:"reason"`
	Confirm bool   `json:"confirm"`
}

// CancelAuction handles POST /api/auctions/:id/cancel. HTTP callers confirm
// up front with "confirm": true.
func (h *Handler) CancelAuction(c *gin.Context) {
	if unavailable(c, h.auctions != nil, "auctions") {
		return
	}
	user, ok := caller(c)
	if !ok {
		return
	}
	var req cancelAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	decision := auction.Denied
	if req.Confirm {
		decision = auction.Confirmed
	}
	d, err := h.auctions.Cancel(c.Request.Context(), c.Param("id"), user, req.Reason, auction.Preconfirmed(decision))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": d.String()})
}

// Participants handles GET /api/auctions/:id/participants.
func (h *Handler) Participants(c *gin.Context) {
	if unavailable(c, h.auctions != nil, "auctions") {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	ps, err := h.auctions.ListParticipants(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toParticipants(ps))
}

// Settlements handles GET /api/auctions/settlements.
func (h *Handler) Settlements(c *gin.Context) {
	if unavailable(c, h.auctions != nil, "auctions") {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	rows, err := h.auctions.Settlements(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSettlements(rows))
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}
