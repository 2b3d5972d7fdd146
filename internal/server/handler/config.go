package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/aspect-build/listbridge/internal/credentials"
	"github.com/aspect-build/listbridge/internal/crypto"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/aspect-build/listbridge/internal/server/session"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation"
)

// AppTokenInvalidator drops cached application tokens of an account.
type AppTokenInvalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

type profileView struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type ebayView struct {
	TokenPreview        string `json:"ebay_token"`
	ClientIDPreview     string `json:"ebay_client_id"`
	ClientSecretPreview string `json:"ebay_client_secret"`
	OAuthConnected      bool   `json:"oauth_connected"`
	OAuthUsername       string `json:"oauth_username,omitempty"`
}

type configView struct {
	User profileView `json:"user"`
	Ebay *ebayView   `json:"ebay,omitempty"`
}

// HandleGetConfig handles GET /v1/config. Admins see masked previews of the
// manual keys and the OAuth connection; other roles see their profile only.
func HandleGetConfig(vault *crypto.Vault) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := session.Identity(c)
		u := ident.User

		view := configView{User: profileView{
			ID:          u.ID,
			AccountID:   ident.AccountID,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Role:        string(ident.Role),
		}}

		if ident.Role.CanManageCredentials() {
			ev := &ebayView{
				TokenPreview:        vault.Mask(ident.Owner.EbayToken),
				ClientIDPreview:     vault.Mask(ident.Owner.EbayClientID),
				ClientSecretPreview: vault.Mask(ident.Owner.EbayClientSecret),
			}
			if b, ok := credentials.FromContext(c.Request.Context()); ok {
				ev.OAuthConnected = b.OAuthConnected
				ev.OAuthUsername = b.OAuthUsername
			}
			view.Ebay = ev
		}

		c.JSON(http.StatusOK, view)
	}
}

type updateConfigRequest struct {
	DisplayName      *string `json:"display_name"`
	EbayToken        *string `json:"ebay_token"`
	EbayClientID     *string `json:"ebay_client_id"`
	EbayClientSecret *string `json:"ebay_client_secret"`
}

func (r updateConfigRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DisplayName, validation.Length(0, 200)),
		validation.Field(&r.EbayToken, validation.Length(0, 8192)),
		validation.Field(&r.EbayClientID, validation.Length(0, 512)),
		validation.Field(&r.EbayClientSecret, validation.Length(0, 512)),
	)
}

func (r updateConfigRequest) touchesCredentials() bool {
	return r.EbayToken != nil || r.EbayClientID != nil || r.EbayClientSecret != nil
}

// HandlePutConfig handles PUT /v1/config. Fields left out are unchanged; a
// blank credential value clears the stored one. Only admins may write
// credentials.
func HandlePutConfig(store *db.Store, vault *crypto.Vault, apps AppTokenInvalidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := session.Identity(c)
		ctx := c.Request.Context()

		var req updateConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if req.touchesCredentials() {
			if !ident.Role.CanManageCredentials() {
				c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
				return
			}

			var upd db.ManualCredentialsUpdate
			for _, f := range []struct {
				in  *string
				out **string
			}{
				{req.EbayToken, &upd.EbayToken},
				{req.EbayClientID, &upd.EbayClientID},
				{req.EbayClientSecret, &upd.EbayClientSecret},
			} {
				if f.in == nil {
					continue
				}
				sealed, err := vault.Encrypt(strings.TrimSpace(*f.in))
				if err != nil {
					logx.Errorf("encrypt credential: account=%s err=%v", ident.AccountID, err)
					c.JSON(http.StatusInternalServerError, gin.H{"error": "encryption failed"})
					return
				}
				*f.out = &sealed
			}

			ok, err := store.UpdateManualCredentials(ctx, ident.AccountID, upd)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "account owner not found"})
				return
			}
			logx.Infof("manual credentials updated: account=%s by=%s", ident.AccountID, ident.User.ID)

			if (req.EbayClientID != nil || req.EbayClientSecret != nil) && apps != nil {
				if err := apps.Invalidate(ctx, ident.AccountID); err != nil {
					logx.Warnf("invalidate app token: account=%s err=%v", ident.AccountID, err)
				}
			}
		}

		if req.DisplayName != nil {
			if _, err := store.UpdateDisplayName(ctx, ident.User.ID, strings.TrimSpace(*req.DisplayName)); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
