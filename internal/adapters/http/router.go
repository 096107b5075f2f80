package http

import (
	"context"
	"net/http"

	"github.com/dkeye/tripsync/internal/adapters/signal"
	"github.com/dkeye/tripsync/internal/app/lifecycle"
	"github.com/dkeye/tripsync/internal/app/orch"
	"github.com/dkeye/tripsync/internal/config"
	"github.com/dkeye/tripsync/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionUserField = "user_id"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// IdentityMiddleware exposes the logged-in user id, if the cookie session has one.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid, ok := sessions.Default(c).Get(sessionUserField).(string); ok && uid != "" {
			c.Set(signal.SessionUserKey, uid)
		}
		c.Next()
	}
}

type Deps struct {
	Orch      *orch.Orchestrator
	Lifecycle *lifecycle.Service
	Users     core.UserDirectory
	Signal    *signal.SignalWSController
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("TripSyncSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(IdentityMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	h := &handlers{orch: deps.Orch, rooms: deps.Lifecycle, users: deps.Users}
	log.Info().Str("module", "adapters.http").Str("base_url", cfg.BaseURL).Msg("router setup")

	r.GET("/rooms/:id/join", h.getRoom)

	api := r.Group("/api")
	api.GET("/health", h.health)
	api.POST("/login", h.login)
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms", h.listLiveRooms)
	api.GET("/rooms/:id", h.getRoom)
	api.DELETE("/rooms/:id", h.evictRoom)
	api.GET("/join/:code", h.resolveJoinCode)

	api.GET("/ws/room", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws room endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})

	return r
}
