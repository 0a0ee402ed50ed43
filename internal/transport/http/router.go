// Package httptransport 实现对外的 HTTP API。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	SessionService *service.SessionService
	WebSocketHub   *websocket.Hub
	RateLimiter    *middleware.RateLimiter
	Metrics        *monitoring.Metrics
	HealthHandler  http.Handler
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))

	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Owner-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		sessions: deps.SessionService,
		log:      deps.Logger,
	}

	// 监控与健康检查端点
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}
	if deps.HealthHandler != nil {
		router.GET("/live", gin.WrapH(deps.HealthHandler))
		router.GET("/ready", gin.WrapH(deps.HealthHandler))
	}

	api := router.Group("/api")
	{
		// ========== Email Routes ==========
		createHandlers := []gin.HandlerFunc{}
		if deps.RateLimiter != nil {
			createHandlers = append(createHandlers, deps.RateLimiter.Limit())
		}
		createHandlers = append(createHandlers, handler.createEmail)
		api.POST("/email/create", createHandlers...)
		api.GET("/email/check", handler.checkEmail)
		api.GET("/emails", handler.listEmails)

		// ========== Session Routes ==========
		api.POST("/session/end", handler.endSession)
		api.POST("/session/keepalive", handler.keepalive)

		// ========== Public Routes ==========
		api.GET("/domains", handler.listDomains)
		api.GET("/health", handler.health)

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			api.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
