// Package server wires gin and net/http around the rest of the relay:
// route registration, CORS, body-size limits, and the http.Server
// lifecycle. Generalized to the full HTTP surface and to mount
// internal/wsserver instead of a hub-backed /ws handler.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/auth"
	"relay/internal/handler"
	"relay/internal/metrics"
	"relay/internal/middleware"
	"relay/internal/router"
	"relay/internal/store"
	"relay/internal/wsserver"
)

// maxBodyBytes caps request bodies at 10MB; ciphertext payloads are the
// only thing that gets large here, and clients chunk anything bigger.
const maxBodyBytes = 10 << 20

type Deps struct {
	Store       *store.Store
	TokenConfig auth.TokenConfig
	Cache       *auth.VerificationCache
	Router      *router.Router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	}
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	r.Use(corsMiddleware())
	r.Use(bodyLimitMiddleware())

	healthHandler := &handler.HealthHandler{}
	r.GET("/health", healthHandler.Check)

	metrics.Init()
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	pairingRequestLimiter := middleware.NewRateLimiter(10, time.Minute)
	authHandler := &handler.AuthHandler{Store: deps.Store, TokenConfig: deps.TokenConfig, PairingRequestLimiter: pairingRequestLimiter}

	r.POST("/v1/auth", authHandler.Auth)
	r.POST("/v1/auth/account/request", authHandler.Request)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig, deps.Cache))

	protected.POST("/auth/account/response", authHandler.Response)

	sessionHandler := &handler.SessionHandler{Store: deps.Store, Router: deps.Router}
	protected.GET("/sessions", sessionHandler.List)
	protected.POST("/sessions", sessionHandler.GetOrCreate)
	protected.DELETE("/sessions/:id", sessionHandler.Delete)
	protected.GET("/sessions/:id/messages", sessionHandler.Messages)

	machineHandler := &handler.MachineHandler{Store: deps.Store, Router: deps.Router}
	protected.GET("/machines", machineHandler.List)
	protected.GET("/machines/:id", machineHandler.Get)
	protected.POST("/machines", machineHandler.Upsert)

	accountHandler := &handler.AccountHandler{Store: deps.Store}
	protected.GET("/account/profile", accountHandler.Profile)
	protected.GET("/account/settings", accountHandler.Settings)
	protected.POST("/account/settings", accountHandler.UpdateSettings)

	artifactHandler := &handler.ArtifactHandler{Store: deps.Store}
	protected.GET("/artifacts", artifactHandler.List)
	protected.GET("/artifacts/:id", artifactHandler.Get)
	protected.POST("/artifacts", artifactHandler.Create)
	protected.PATCH("/artifacts/:id", artifactHandler.Update)
	protected.DELETE("/artifacts/:id", artifactHandler.Delete)

	feedHandler := &handler.FeedHandler{}
	protected.GET("/feed", feedHandler.List)

	friendsHandler := &handler.FriendsHandler{}
	protected.GET("/friends", friendsHandler.List)
	protected.POST("/friends/add", friendsHandler.Add)
	protected.POST("/friends/remove", friendsHandler.Remove)

	pushTokensHandler := &handler.PushTokensHandler{}
	protected.GET("/push-tokens", pushTokensHandler.List)
	protected.POST("/push-tokens", pushTokensHandler.Register)

	userHandler := &handler.UserHandler{}
	protected.GET("/users/search", userHandler.Search)
	protected.GET("/users/:id", userHandler.Get)

	versionHandler := &handler.VersionHandler{}
	r.GET("/v1/version", versionHandler.Check)

	wsSrv := wsserver.NewServer(wsserver.Deps{
		Store:       deps.Store,
		TokenConfig: deps.TokenConfig,
		Cache:       deps.Cache,
		Router:      deps.Router,
	})
	r.Any("/v1/updates", gin.WrapH(wsSrv))

	return r
}
