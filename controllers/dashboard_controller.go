package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portfolio_dashboard/scheduler"
	"portfolio_dashboard/services"
)

// DashboardController exposes the coordinator's state and its user triggers
// over HTTP. It owns no scheduling logic of its own.
type DashboardController struct {
	coordinator *scheduler.Scheduler
	hub         *services.Hub
}

// NewDashboardController creates a controller around the coordinator.
func NewDashboardController(coordinator *scheduler.Scheduler, hub *services.Hub) *DashboardController {
	return &DashboardController{coordinator: coordinator, hub: hub}
}

// GetSnapshot returns the last known value and error marker per feed.
func (dc *DashboardController) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"currency": dc.coordinator.Currency(),
		"running":  dc.coordinator.Running(),
		"feeds":    dc.coordinator.Snapshot(),
	})
}

// GetCountdown returns seconds remaining per refresh job.
func (dc *DashboardController) GetCountdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": dc.coordinator.Running(),
		"jobs":    dc.coordinator.CountdownSnapshot(),
	})
}

// PostRefresh runs a primary cycle out of band, bypassing the cache.
func (dc *DashboardController) PostRefresh(c *gin.Context) {
	if !dc.coordinator.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "dashboard is paused"})
		return
	}
	dc.coordinator.RefreshNow()
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

// PostCurrency switches the display currency. In-flight fetches under the
// old currency are cancelled and refetched.
func (dc *DashboardController) PostCurrency(c *gin.Context) {
	var req struct {
		Currency string `json:"currency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency is required"})
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency must be a 3-letter code"})
		return
	}

	dc.coordinator.SwitchCurrency(currency)
	c.JSON(http.StatusOK, gin.H{"currency": currency})
}

// PostVisibility pauses or resumes the refresh loop as the page is hidden
// or shown. Pausing tears the schedule down entirely; resuming rebuilds it.
func (dc *DashboardController) PostVisibility(c *gin.Context) {
	var req struct {
		Visible *bool `json:"visible" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visible is required"})
		return
	}

	if *req.Visible {
		dc.coordinator.Start()
	} else {
		dc.coordinator.Stop()
	}
	c.JSON(http.StatusOK, gin.H{"running": dc.coordinator.Running()})
}

// GetFeed handles WebSocket subscriptions to the live renderer stream.
func (dc *DashboardController) GetFeed(c *gin.Context) {
	dc.hub.HandleWebSocket(c.Writer, c.Request)
}
