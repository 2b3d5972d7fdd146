package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/aspect-build/listbridge/internal/ebay"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/oauthflow"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/aspect-build/listbridge/internal/server/session"
	"github.com/gin-gonic/gin"
)

// HandleOAuthInitiate handles GET /v1/ebay/oauth/initiate.
func HandleOAuthInitiate(ctrl *oauthflow.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.Current(c)

		authURL, err := ctrl.Initiate(c.Request.Context(), sess.ID)
		if err != nil {
			var ce *ebay.ConfigError
			if errors.As(err, &ce) {
				logx.Errorf("oauth initiate: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "oauth not configured", "detail": ce.Error()})
				return
			}
			logx.Errorf("oauth initiate: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start oauth flow"})
			return
		}

		c.Redirect(http.StatusFound, authURL)
	}
}

// HandleOAuthCallback handles GET /v1/ebay/oauth/callback. Every outcome
// redirects to configPage with a status flag.
func HandleOAuthCallback(ctrl *oauthflow.Controller, configPage string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.Current(c)
		ident := session.Identity(c)

		out := ctrl.Callback(c.Request.Context(), sess.ID, oauthflow.CallbackParams{
			Code:  c.Query("code"),
			State: c.Query("state"),
			Error: c.Query("error"),
		}, ident.AccountID)

		c.Redirect(http.StatusFound, withQuery(configPage, out.RedirectQuery()))
	}
}

// HandleOAuthDisconnect handles POST /v1/ebay/oauth/disconnect.
func HandleOAuthDisconnect(ctrl *oauthflow.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := session.Identity(c)

		if err := ctrl.Disconnect(c.Request.Context(), ident.AccountID); err != nil {
			if errors.Is(err, db.ErrUserNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "account owner not found"})
				return
			}
			logx.Errorf("oauth disconnect: account=%s err=%v", ident.AccountID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func withQuery(target string, q url.Values) string {
	u, err := url.Parse(target)
	if err != nil {
		return target + "?" + q.Encode()
	}
	existing := u.Query()
	for k, vs := range q {
		existing[k] = vs
	}
	u.RawQuery = existing.Encode()
	return u.String()
}
