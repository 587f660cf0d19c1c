package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/aksara-lms/proctor-backend/internal/auth"
	"github.com/aksara-lms/proctor-backend/internal/config"
	"github.com/aksara-lms/proctor-backend/internal/handler"
	"github.com/aksara-lms/proctor-backend/internal/middleware"
	"github.com/aksara-lms/proctor-backend/internal/response"
	"github.com/aksara-lms/proctor-backend/internal/session"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *auth.Service,
	sessions *session.Validator,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.HeaderDeviceHash}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for unauthenticated entry routes (30 requests per minute per IP).
	entryLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Entry Group (Session Token, Rate Limited) ──────────────────
	entryAPI := router.Group("/api/v1/exams/:exam_id")
	entryAPI.Use(entryLimiter.Middleware())
	{
		entryAPI.POST("/attempt/start", handlers.Attempt.StartAttempt)
		entryAPI.POST("/session/validate", handlers.Attempt.ValidateSession)
	}

	// ─── 2. Attempt Group (Attempt JWT + Device Binding) ───────────────
	attemptAPI := router.Group("/api/v1/attempt")
	attemptAPI.Use(middleware.RequireAttemptJWT(authService, sessions))
	{
		attemptAPI.GET("/state", handlers.Attempt.GetState)
	}

	// ─── 3. WebSocket Group (Attempt WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAttemptWSAuth(authService, sessions))
	{
		ws.GET("/exams/:exam_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 4. Invigilator Group (Invigilator JWT) ────────────────────────
	invigilatorAPI := router.Group("/api/v1/invigilator")
	invigilatorAPI.Use(middleware.RequireInvigilatorJWT(authService))
	{
		invigilatorAPI.GET("/exams/:exam_id/progress", handlers.Attempt.GetProgress)
	}

	return router
}
