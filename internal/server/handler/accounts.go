package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aspect-build/listbridge/internal/account"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
)

type createAccountRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func (r createAccountRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.DisplayName, validation.Length(0, 200)),
	)
}

type createUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func (r createUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.DisplayName, validation.Length(0, 200)),
		validation.Field(&r.Role, validation.Required, validation.In(roleNames()...)),
	)
}

func roleNames() []interface{} {
	roles := account.AllRoles()
	out := make([]interface{}, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// HandleCreateAccount handles POST /v1/accounts. The new user is the owner
// of a fresh account and starts as its admin.
func HandleCreateAccount(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id := uuid.NewString()
		owner := &db.User{
			ID:          id,
			AccountID:   id,
			Email:       req.Email,
			DisplayName: strings.TrimSpace(req.DisplayName),
			Role:        string(account.RoleAdmin),
		}
		if err := store.CreateUser(c.Request.Context(), owner); err != nil {
			if errors.Is(err, db.ErrUserDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
				return
			}
			logx.Errorf("create account: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
			return
		}

		logx.Infof("account created: account=%s", id)
		c.JSON(http.StatusCreated, gin.H{"account_id": id, "user_id": id, "role": owner.Role})
	}
}

// HandleCreateUser handles POST /v1/accounts/:account_id/users.
func HandleCreateUser(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		owner, err := store.GetUser(c.Request.Context(), accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if owner == nil || !owner.IsOwner() {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		user := &db.User{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Email:       req.Email,
			DisplayName: strings.TrimSpace(req.DisplayName),
			Role:        req.Role,
		}
		if err := store.CreateUser(c.Request.Context(), user); err != nil {
			if errors.Is(err, db.ErrUserDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
				return
			}
			logx.Errorf("create user: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
			return
		}

		logx.Infof("user created: account=%s user=%s role=%s", accountID, user.ID, user.Role)
		c.JSON(http.StatusCreated, gin.H{"user_id": user.ID, "account_id": accountID, "role": user.Role})
	}
}
