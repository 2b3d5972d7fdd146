package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aspect-build/listbridge/internal/account"
	"github.com/aspect-build/listbridge/internal/credentials"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/aspect-build/listbridge/internal/server/session"
	"github.com/gin-gonic/gin"
)

// CORS returns a Gin middleware that handles Cross-Origin Resource Sharing.
// Allowed origins may send credentials (the session cookie).
func CORS(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[strings.TrimRight(origin, "/")] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Max-Age", "86400")

			if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}

		c.Next()
	}
}

// AdminAuth returns a Gin middleware that requires a valid Bearer token.
func AdminAuth(token string) gin.HandlerFunc {
	expected := "Bearer " + token
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must use Bearer scheme"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

// Sessions loads the session named by the cookie. Unknown or expired
// sessions leave the request unauthenticated.
func Sessions(store *db.Store, cookie session.Cookie, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := cookie.Read(c)
		if id == "" {
			c.Next()
			return
		}

		sess, err := store.GetSession(c.Request.Context(), id)
		if err != nil {
			logx.Errorf("load session: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if sess != nil && !now().Before(sess.ExpiresAt) {
			if err := store.DeleteSession(c.Request.Context(), id); err != nil {
				logx.Warnf("delete expired session: %v", err)
			}
			sess = nil
		}
		if sess == nil {
			cookie.Clear(c)
			c.Next()
			return
		}

		session.Set(c, sess)
		c.Next()
	}
}

// ResolveCredentials re-reads the session's user and account owner, heals
// the session's cached role and account, and attaches the account's
// credential bundle to the request context. Requests without a session pass
// through untouched.
func ResolveCredentials(store *db.Store, resolver *credentials.Resolver, cookie session.Cookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.Current(c)
		if sess == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		ident, err := account.Lookup(ctx, store, sess.UserID)
		if errors.Is(err, account.ErrUserNotFound) {
			if err := store.DeleteSession(ctx, sess.ID); err != nil {
				logx.Warnf("destroy stale session: %v", err)
			}
			cookie.Clear(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if err != nil {
			logx.Errorf("resolve identity: user=%s err=%v", sess.UserID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		if string(ident.Role) != sess.Role || ident.AccountID != sess.AccountID {
			if err := store.UpdateSessionIdentity(ctx, sess.ID, string(ident.Role), ident.AccountID); err != nil {
				logx.Errorf("sync session identity: user=%s err=%v", sess.UserID, err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			logx.Infof("session identity synced: user=%s role=%s->%s account=%s",
				sess.UserID, sess.Role, ident.Role, ident.AccountID)
			sess.Role = string(ident.Role)
			sess.AccountID = ident.AccountID
		}

		bundle := resolver.Resolve(ctx, ident.Owner)
		session.SetIdentity(c, ident)
		c.Request = c.Request.WithContext(credentials.WithBundle(ctx, &bundle))
		c.Next()
	}
}

// RequireSession rejects requests without an authenticated identity.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if session.Identity(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RequireRole rejects requests whose freshly resolved role is not role.
func RequireRole(role account.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := session.Identity(c)
		if ident == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if ident.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}
