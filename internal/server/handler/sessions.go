package handler

import (
	"net/http"
	"time"

	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/aspect-build/listbridge/internal/server/session"
	"github.com/gin-gonic/gin"
)

type createSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// HandleCreateSession handles POST /v1/sessions. It is the front door used by
// the identity layer after it has authenticated a user.
func HandleCreateSession(store *db.Store, cookie session.Cookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := store.GetUser(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		sess, err := session.Start(c.Request.Context(), store, user, cookie.TTL, time.Now())
		if err != nil {
			logx.Errorf("create session: user=%s err=%v", user.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}

		cookie.Write(c, sess.ID)
		c.JSON(http.StatusCreated, gin.H{
			"session_id": sess.ID,
			"user_id":    sess.UserID,
			"expires_at": sess.ExpiresAt.Format(time.RFC3339),
		})
	}
}

// HandleLogout handles DELETE /v1/session.
func HandleLogout(store *db.Store, cookie session.Cookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.Current(c)
		if sess != nil {
			if err := store.DeleteSession(c.Request.Context(), sess.ID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
		}
		cookie.Clear(c)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
