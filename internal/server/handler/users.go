package handler

import (
	"errors"
	"net/http"

	"github.com/aspect-build/listbridge/internal/account"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/aspect-build/listbridge/internal/server/session"
	"github.com/gin-gonic/gin"
)

// HandleListUsers handles GET /v1/users.
func HandleListUsers(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := session.Identity(c)

		users, err := store.ListAccountUsers(c.Request.Context(), ident.AccountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if users == nil {
			users = []db.User{}
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// HandleUpdateRole handles PUT /v1/users/:id/role.
func HandleUpdateRole(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := session.Identity(c)
		ctx := c.Request.Context()

		var req updateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		target, err := store.GetUser(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if target == nil || target.AccountID != ident.AccountID {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		admins, err := store.CountAdmins(ctx, ident.AccountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		newRole := account.Role(req.Role)
		switch err := account.CheckRoleChange(ident, target, newRole, admins); {
		case errors.Is(err, account.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		case errors.Is(err, account.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		case errors.Is(err, account.ErrLastAdmin):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		if _, err := store.UpdateUserRole(ctx, target.ID, string(newRole)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		logx.Infof("role changed: account=%s user=%s role=%s->%s by=%s",
			ident.AccountID, target.ID, target.Role, newRole, ident.User.ID)
		c.JSON(http.StatusOK, gin.H{"user_id": target.ID, "role": string(newRole)})
	}
}

// HandleDeleteUser handles DELETE /v1/users/:id. The user's sessions are
// destroyed with it.
func HandleDeleteUser(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := session.Identity(c)
		ctx := c.Request.Context()

		target, err := store.GetUser(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if target == nil || target.AccountID != ident.AccountID {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if err := account.CheckRemoval(ident, target); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}

		if _, err := store.DeleteUser(ctx, target.ID); err != nil {
			if errors.Is(err, db.ErrOwnerDeletion) {
				c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		logx.Infof("user removed: account=%s user=%s by=%s", ident.AccountID, target.ID, ident.User.ID)
		c.Status(http.StatusNoContent)
	}
}
