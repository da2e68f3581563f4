package http

import (
	stdhttp "net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/proxichat/internal/auth"
	"github.com/vovakirdan/proxichat/internal/config"
	"github.com/vovakirdan/proxichat/internal/core"
	"github.com/vovakirdan/proxichat/internal/metrics"
	"github.com/vovakirdan/proxichat/internal/store"
)

// chatIDPattern is the shape of a chat id in routes; anything else is a 404.
var chatIDPattern = regexp.MustCompile(`^[0-9a-f-]+$`)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Chats    *core.Service
	Auth     *auth.Service
	Resolver *auth.Resolver
	Store    store.Store
	Metrics  *metrics.Metrics
}

// NewServer builds the HTTP server with all routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the WebSocket endpoint on a plain mux and hands every other path to gin.
// gin's response writer refuses the hijack the upgrade needs.
func NewHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle(wsChatsPrefix, NewWSHandler(deps.Chats, cfg, logger))
	mux.Handle("/", NewRouter(deps, cfg, logger))
	return mux
}

// NewRouter registers the REST and operational routes.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	if cfg.MetricsEnabled && deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := NewAPIHandlers(deps.Auth, logger)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)

	chats := NewChatHandlers(deps.Store, logger)
	authed := router.Group("/api", AuthMiddleware(deps.Resolver, logger))
	authed.GET("/chats", chats.ListChats)
	authed.POST("/chats/poke", chats.Poke)
	authed.GET("/chats/:chatID/messages", chats.ListMessages)

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
