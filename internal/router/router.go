package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/handler"
	"github.com/stemsi/exstem-screening/internal/middleware"
	"github.com/stemsi/exstem-screening/internal/response"
	"github.com/stemsi/exstem-screening/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// wsLimiter throttles session connection attempts per subject.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	wsLimiter *middleware.RateLimiter,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/health/ready", handlers.System.Ready)
	router.GET("/health/status", handlers.System.Status)

	// ─── 1. Subject Group (JWT) ────────────────────────────────────────
	subjectAPI := router.Group("/api/v1/subject")
	subjectAPI.Use(middleware.RequireSubjectJWT(authService))
	{
		subjectAPI.GET("/assessments/:assessment_id", handlers.Session.GetAssessment)
		subjectAPI.GET("/assessments/:assessment_id/session", handlers.Session.GetSessionState)
	}

	// ─── 2. WebSocket Group (Subject WS Auth, Rate Limited) ────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSubjectWSAuth(authService))
	if wsLimiter != nil {
		ws.Use(wsLimiter.Middleware())
	}
	{
		ws.GET("/subject/assessments/:assessment_id/session", handlers.Session.SessionStream)
	}

	return router
}
