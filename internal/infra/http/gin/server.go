package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"marketchat/internal/infra/config"
	"marketchat/internal/infra/obs"
)

type ChatHTTP interface {
	StartConversation(c *gin.Context)
	PreloadConversation(c *gin.Context)
	Inbox(c *gin.Context)
	Conversation(c *gin.Context)
	OpenSession(c *gin.Context)
	Snapshot(c *gin.Context)
	Events(c *gin.Context)
	Send(c *gin.Context)
	Refresh(c *gin.Context)
	Resubscribe(c *gin.Context)
	CloseSession(c *gin.Context)
	Logout(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg.Env, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gateway routes; it is split out of NewServer for httptest.
func NewRouter(env string, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			obs.RequestIDHeader,
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.POST("/auth/logout", h.Chat.Logout)

		conversations := api.Group("/conversations")
		conversations.POST("", h.Chat.StartConversation)
		conversations.POST("/preload", h.Chat.PreloadConversation)
		conversations.GET("", h.Chat.Inbox)
		conversations.GET("/:id", h.Chat.Conversation)

		sessions := api.Group("/sessions")
		sessions.POST("", h.Chat.OpenSession)
		sessions.GET("/:id", h.Chat.Snapshot)
		sessions.GET("/:id/events", h.Chat.Events)
		sessions.POST("/:id/messages", h.Chat.Send)
		sessions.POST("/:id/refresh", h.Chat.Refresh)
		sessions.POST("/:id/resubscribe", h.Chat.Resubscribe)
		sessions.DELETE("/:id", h.Chat.CloseSession)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
