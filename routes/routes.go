package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"portfolio_dashboard/controllers"
	"portfolio_dashboard/middleware"
	"portfolio_dashboard/scheduler"
	"portfolio_dashboard/services"
)

// Manual refreshes allowed per IP per minute. The schedule itself keeps the
// data fresh; this only absorbs impatient clicking.
const (
	refreshLimit  = 6
	refreshWindow = time.Minute
)

// SetupRoutes registers the dashboard API
func SetupRoutes(router *gin.Engine, coordinator *scheduler.Scheduler, hub *services.Hub) {
	dc := controllers.NewDashboardController(coordinator, hub)
	refreshLimiter := middleware.NewRateLimiter(refreshLimit, refreshWindow)

	api := router.Group("/api/dashboard")
	{
		api.GET("/snapshot", dc.GetSnapshot)
		api.GET("/countdown", dc.GetCountdown)
		api.POST("/refresh", middleware.RefreshRateLimitMiddleware(refreshLimiter), dc.PostRefresh)
		api.POST("/currency", dc.PostCurrency)
		api.POST("/visibility", dc.PostVisibility)
	}

	router.GET("/ws", dc.GetFeed)
}
