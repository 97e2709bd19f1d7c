package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"portfolio_dashboard/config"
	"portfolio_dashboard/gateway"
	"portfolio_dashboard/routes"
	"portfolio_dashboard/scheduler"
	"portfolio_dashboard/services"
)

func main() {
	log.Println("==============================================")
	log.Println("  Portfolio Dashboard - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Optionally run the simulated upstream for local development
	var simulator *services.UpstreamSimulator
	if cfg.DemoUpstream {
		simulator = services.NewUpstreamSimulator(cfg.JWTSecret)
		go func() {
			if err := simulator.Start("0.0.0.0:9090"); err != nil && err != http.ErrServerClosed {
				log.Printf("Upstream simulator error: %v", err)
			}
		}()
	}

	// Build the data layer: token provider -> fetch gateway -> coordinator
	var tokens gateway.TokenProvider
	if cfg.UpstreamToken != "" {
		tokens = gateway.StaticToken(cfg.UpstreamToken)
	} else {
		tokens = services.NewSessionTokenProvider(cfg.JWTSecret)
	}
	feedGateway := gateway.New(cfg.UpstreamBaseURL, cfg.Feeds, tokens)

	hub := services.NewHub()
	coordinator := scheduler.New(cfg.Scheduler, feedGateway, hub.Hooks(), cfg.DefaultCurrency, scheduler.RealClock())

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	setupHealthEndpoints(router, coordinator)
	routes.SetupRoutes(router, coordinator, hub)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Start the refresh loop; the first primary cycle runs immediately so
	// connected dashboards are never blank.
	coordinator.Start()

	gracefulShutdown(server, coordinator, hub, simulator)
}

// setupHealthEndpoints sets up liveness/readiness probes
func setupHealthEndpoints(router *gin.Engine, coordinator *scheduler.Scheduler) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Portfolio Dashboard API",
			"version": "1.0.0",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ready",
			"running": coordinator.Running(),
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, coordinator *scheduler.Scheduler, hub *services.Hub, simulator *services.UpstreamSimulator) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop the refresh loop first so no new fetches start
	coordinator.Stop()
	hub.Shutdown()
	if simulator != nil {
		simulator.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server shutdown completed")
}
