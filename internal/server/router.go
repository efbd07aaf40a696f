package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"channel-watch-server/internal/auth"
	"channel-watch-server/internal/config"
	"channel-watch-server/internal/handler"
	"channel-watch-server/internal/hub"
	"channel-watch-server/internal/lifecycle"
	"channel-watch-server/internal/middleware"
	"channel-watch-server/internal/monitor"
	"channel-watch-server/internal/session"
)

type Deps struct {
	Config      *config.Config
	TokenConfig auth.TokenConfig
	Sessions    *session.Manager
	Monitors    *monitor.Registry
	Hub         *hub.Hub
	Lifecycle   *lifecycle.Manager
	// SendCodeLimiter throttles code requests per client IP.
	SendCodeLimiter *middleware.RateLimiter
	Log             *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config

	r := gin.New()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(cors.New(corsConfig(cfg.CORSOriginList())))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": "channel-watch-server", "status": "running"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	limiter := deps.SendCodeLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(cfg.SendCodeRateLimit, cfg.SendCodeRateWindow)
	}

	api := r.Group(cfg.APIPrefix)

	authHandler := &handler.AuthHandler{Sessions: deps.Sessions, Lifecycle: deps.Lifecycle, TokenConfig: deps.TokenConfig}
	api.POST("/auth/send_code", middleware.RateLimitMiddleware(limiter), authHandler.SendCode)
	api.POST("/auth/sign_in", authHandler.SignIn)
	api.POST("/auth/logout", authHandler.Logout)
	api.GET("/auth/status", authHandler.Status)

	protected := api.Group("")
	protected.Use(middleware.RequireSession(deps.TokenConfig, deps.Sessions))

	userHandler := &handler.UserHandler{Sessions: deps.Sessions}
	protected.GET("/user/me", userHandler.Me)

	channelHandler := &handler.ChannelHandler{Sessions: deps.Sessions}
	protected.GET("/channels", channelHandler.Search)
	protected.GET("/channels/:id", channelHandler.Get)
	protected.GET("/channels/:id/messages", channelHandler.Messages)
	protected.GET("/channels/:id/messages/:message_id", channelHandler.Message)
	protected.GET("/channels/:id/messages/:message_id/comments", channelHandler.Comments)

	monitoringHandler := &handler.MonitoringHandler{Monitors: deps.Monitors}
	protected.POST("/monitoring/start", monitoringHandler.Start)
	protected.POST("/monitoring/stop", monitoringHandler.Stop)
	protected.GET("/monitoring", monitoringHandler.List)

	wsHandler := &handler.WebSocketHandler{
		Sessions: deps.Sessions,
		Monitors: deps.Monitors,
		Hub:      deps.Hub,
		Log:      log,
		Options: handler.WebSocketOptions{
			PingInterval:   cfg.WSPingInterval,
			PongWait:       cfg.WSPongWait,
			WriteTimeout:   cfg.WSWriteTimeout,
			MaxMessageSize: cfg.WSMaxMessageSize,
			AllowedOrigins: cfg.CORSOriginList(),
		},
	}
	api.GET("/ws/:session_key", wsHandler.Serve)

	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = origins
	cc.AllowCredentials = true
	return cc
}
