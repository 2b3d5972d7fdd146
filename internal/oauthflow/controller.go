// Package oauthflow runs the authorization-code flow that connects an
// account to its eBay seller identity.
package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aspect-build/listbridge/internal/ebay"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/server/db"
)

// ErrNotConfigured is returned when the provider client id or redirect
// identifier is missing.
var ErrNotConfigured = ebay.ErrNotConfigured

const stateBytes = 32

// Provider is the authorization server.
type Provider interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*ebay.Token, error)
	Identity(ctx context.Context, accessToken string) (string, bool)
}

// Store holds the per-session state slot and the owner credential columns.
type Store interface {
	SetOAuthState(ctx context.Context, sessionID, state string) error
	TakeOAuthState(ctx context.Context, sessionID string) (string, error)
	SetOwnerOAuthTokens(ctx context.Context, ownerID string, t db.OAuthTokens) error
	ClearOwnerOAuth(ctx context.Context, ownerID string) (bool, error)
}

// Sealer encrypts secrets before they are persisted.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// Controller implements Initiate, Callback and Disconnect.
type Controller struct {
	store    Store
	provider Provider
	vault    Sealer
}

// NewController returns a Controller.
func NewController(store Store, provider Provider, vault Sealer) *Controller {
	return &Controller{store: store, provider: provider, vault: vault}
}

// Initiate stores a fresh state nonce in the session, replacing any pending
// one, and returns the consent URL. Fails with an error wrapping
// ErrNotConfigured when the provider is not configured.
func (c *Controller) Initiate(ctx context.Context, sessionID string) (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}

	authURL, err := c.provider.AuthCodeURL(state)
	if err != nil {
		return "", err
	}
	if err := c.store.SetOAuthState(ctx, sessionID, state); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return authURL, nil
}

// Callback consumes the session's state slot and evaluates the provider
// redirect. Tokens are written onto ownerID, never onto the acting user.
func (c *Controller) Callback(ctx context.Context, sessionID string, params CallbackParams, ownerID string) Outcome {
	stored, takeErr := c.store.TakeOAuthState(ctx, sessionID)

	switch {
	case params.Error != "":
		logx.Infof("oauth callback declined: account=%s error=%s", ownerID, params.Error)
		return Outcome{Kind: Declined}
	case takeErr != nil:
		logx.Errorf("oauth callback: read state: account=%s err=%v", ownerID, takeErr)
		return Outcome{Kind: ServerError}
	case !stateMatches(stored, params.State):
		logx.Warnf("oauth callback state mismatch: account=%s", ownerID)
		return Outcome{Kind: StateError}
	case params.Code == "":
		logx.Infof("oauth callback without code: account=%s", ownerID)
		return Outcome{Kind: NoCode}
	}

	tok, err := c.provider.Exchange(ctx, params.Code)
	if err != nil {
		if errors.Is(err, ebay.ErrNotConfigured) {
			logx.Errorf("oauth callback: %v", err)
			return Outcome{Kind: ServerError}
		}
		logx.Warnf("oauth token exchange failed: account=%s err=%v", ownerID, err)
		return Outcome{Kind: ExchangeError}
	}

	username, _ := c.provider.Identity(ctx, tok.AccessToken)

	if err := c.persist(ctx, ownerID, tok, username); err != nil {
		logx.Errorf("oauth callback: persist tokens: account=%s err=%v", ownerID, err)
		return Outcome{Kind: ServerError}
	}
	logx.Infof("oauth connected: account=%s expires=%s", ownerID, tok.Expiry.Format(time.RFC3339))
	return Outcome{Kind: Connected, Username: username}
}

func (c *Controller) persist(ctx context.Context, ownerID string, tok *ebay.Token, username string) error {
	access, err := c.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := c.vault.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	return c.store.SetOwnerOAuthTokens(ctx, ownerID, db.OAuthTokens{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       tok.Expiry,
		Username:     username,
	})
}

// Disconnect removes the stored OAuth credentials of ownerID. No revocation
// call is made to the provider.
func (c *Controller) Disconnect(ctx context.Context, ownerID string) error {
	ok, err := c.store.ClearOwnerOAuth(ctx, ownerID)
	if err != nil {
		return err
	}
	if !ok {
		return db.ErrUserNotFound
	}
	logx.Infof("oauth disconnected: account=%s", ownerID)
	return nil
}

func newState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func stateMatches(stored, got string) bool {
	if stored == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(got)) == 1
}
