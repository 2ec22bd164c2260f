package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/liveclass/config"
	"github.com/mossy-p/liveclass/internal/middleware"
	"github.com/mossy-p/liveclass/internal/models"
	"github.com/mossy-p/liveclass/internal/signaling"
)

// RelayTransport is what the WebSocket relay publishes to and retains on
type RelayTransport interface {
	signaling.Transport
	signaling.Retainer
}

// NewRouter wires every route of the server
func NewRouter(cfg *config.Config, transport RelayTransport, lectures *Lectures) *gin.Engine {
	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(middleware.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", Health)

	auth := middleware.JWTAuth(cfg.JWTSecret)
	teacherOnly := middleware.RequireRole(models.RoleTeacher)

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret))

		// Live status: teachers start and end, anyone can look
		apiGroup.POST("/classes/:classId/live", auth, teacherOnly, StartLive(cfg.RetainTTL))
		apiGroup.GET("/classes/:classId/live", GetLive)
		apiGroup.DELETE("/classes/:classId/live", auth, teacherOnly, EndLive(transport))

		// Packaged lessons
		apiGroup.POST("/classes/:classId/lectures", auth, teacherOnly, lectures.Upload)
		apiGroup.GET("/classes/:classId/lectures", auth, lectures.List)
		apiGroup.GET("/lectures/:id/artifact", auth, lectures.Artifact)
	}

	// WebSocket signaling endpoint, "live-<classId>". Browsers pass the
	// token as ?token= since they cannot set headers on the handshake.
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal/:channel", auth, HandleSignaling(transport, transport))
	}

	return router
}
