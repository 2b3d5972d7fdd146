package server

import (
	"time"

	"github.com/aspect-build/listbridge/internal/account"
	"github.com/aspect-build/listbridge/internal/server/handler"
	"github.com/aspect-build/listbridge/internal/server/session"
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(svc *Services, cfg *Config) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})

	store := svc.Store
	cookie := session.Cookie{Name: session.CookieName, Secure: cfg.CookieSecure, TTL: cfg.SessionTTL}
	if cookie.TTL <= 0 {
		cookie.TTL = DefaultSessionTTL
	}
	now := svc.Now
	if now == nil {
		now = time.Now
	}
	configPage := cfg.ConfigPage
	if configPage == "" {
		configPage = "/settings"
	}

	bearer := AdminAuth(cfg.AdminToken)
	authed := RequireSession()
	admin := RequireRole(account.RoleAdmin)

	v1 := r.Group("/v1")
	{
		// Operator bootstrap
		v1.POST("/accounts", bearer, handler.HandleCreateAccount(store))
		v1.POST("/accounts/:account_id/users", bearer, handler.HandleCreateUser(store))
		v1.POST("/sessions", bearer, handler.HandleCreateSession(store, cookie))
	}

	app := v1.Group("")
	app.Use(Sessions(store, cookie, now), ResolveCredentials(store, svc.Resolver, cookie))
	{
		app.DELETE("/session", handler.HandleLogout(store, cookie))

		// eBay OAuth
		app.GET("/ebay/oauth/initiate", authed, admin, handler.HandleOAuthInitiate(svc.OAuth))
		app.GET("/ebay/oauth/callback", authed, handler.HandleOAuthCallback(svc.OAuth, configPage))
		app.POST("/ebay/oauth/disconnect", authed, admin, handler.HandleOAuthDisconnect(svc.OAuth))

		// Configuration
		app.GET("/config", authed, handler.HandleGetConfig(svc.Vault))
		app.PUT("/config", authed, handler.HandlePutConfig(store, svc.Vault, svc.AppTokens))
		app.GET("/credentials/status", authed, handler.HandleCredentialStatus(svc.AppTokens))
		app.POST("/credentials/verify", authed, handler.HandleVerifyCredentials(svc.AppTokens))

		// Account members
		app.GET("/users", authed, admin, handler.HandleListUsers(store))
		app.PUT("/users/:id/role", authed, admin, handler.HandleUpdateRole(store))
		app.DELETE("/users/:id", authed, admin, handler.HandleDeleteUser(store))
	}

	return r
}
