// Package credentials decides, per request, which eBay credentials an
// account can use, refreshing its OAuth access token when it is about to
// expire.
package credentials

import (
	"context"
	"time"

	"github.com/aspect-build/listbridge/internal/ebay"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/server/db"
	"golang.org/x/sync/singleflight"
)

// DefaultBuffer is how long before its expiry an access token is treated as
// already expired.
const DefaultBuffer = 5 * time.Minute

// Bundle is the request-scoped credential set of one account. Empty strings
// mean unset.
type Bundle struct {
	AccountID string

	ManualToken        string
	ManualClientID     string
	ManualClientSecret string

	OAuthToken     string
	OAuthConnected bool
	OAuthUsername  string
}

// HasManualKeys reports whether any manual credential is set.
func (b *Bundle) HasManualKeys() bool {
	return b.ManualToken != "" || b.ManualClientID != "" || b.ManualClientSecret != ""
}

// Refresher redeems refresh tokens at the provider.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*ebay.Token, error)
}

// TokenStore persists refreshed tokens onto the owner row.
type TokenStore interface {
	UpdateOwnerAccessToken(ctx context.Context, ownerID, accessToken string, expiry time.Time, refreshToken string) error
}

// Vault opens and seals stored secrets.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) string
}

// Options configures a Resolver.
type Options struct {
	Store     TokenStore
	Vault     Vault
	Refresher Refresher
	Now       func() time.Time
	// Buffer defaults to DefaultBuffer.
	Buffer time.Duration
	// RefreshTimeout bounds one refresh attempt. Defaults to ebay.DefaultHTTPTimeout.
	RefreshTimeout time.Duration
}

// Resolver builds Bundles from owner rows.
type Resolver struct {
	store          TokenStore
	vault          Vault
	refresher      Refresher
	now            func() time.Time
	buffer         time.Duration
	refreshTimeout time.Duration
	group          singleflight.Group
}

// NewResolver returns a Resolver for opts.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		store:          opts.Store,
		vault:          opts.Vault,
		refresher:      opts.Refresher,
		now:            opts.Now,
		buffer:         opts.Buffer,
		refreshTimeout: opts.RefreshTimeout,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.buffer <= 0 {
		r.buffer = DefaultBuffer
	}
	if r.refreshTimeout <= 0 {
		r.refreshTimeout = ebay.DefaultHTTPTimeout
	}
	return r
}

// Resolve returns the credential bundle of owner. It never fails: an
// unusable OAuth token leaves the bundle disconnected and the manual keys
// remain available as fallback.
func (r *Resolver) Resolve(ctx context.Context, owner *db.User) Bundle {
	b := Bundle{
		AccountID:          owner.ID,
		ManualToken:        r.vault.Decrypt(owner.EbayToken),
		ManualClientID:     r.vault.Decrypt(owner.EbayClientID),
		ManualClientSecret: r.vault.Decrypt(owner.EbayClientSecret),
	}

	if owner.OAuthAccessToken == "" {
		return b
	}

	if !r.expired(owner.OAuthTokenExpiry) {
		if access := r.vault.Decrypt(owner.OAuthAccessToken); access != "" {
			b.OAuthToken = access
			b.OAuthConnected = true
			b.OAuthUsername = owner.OAuthUsername
		}
		return b
	}

	if owner.OAuthRefreshToken == "" {
		logx.Debugf("oauth token expired without refresh token: account=%s", owner.ID)
		return b
	}

	access, ok := r.refresh(ctx, owner)
	if !ok {
		return b
	}
	b.OAuthToken = access
	b.OAuthConnected = true
	b.OAuthUsername = owner.OAuthUsername
	return b
}

// expired reports whether a token with the given expiry must be refreshed.
// A token sitting exactly on the buffer boundary counts as expired.
func (r *Resolver) expired(expiry *time.Time) bool {
	if expiry == nil {
		return true
	}
	return !r.now().Before(expiry.Add(-r.buffer))
}

// refresh exchanges the owner's refresh token for a new access token and
// persists it. Concurrent refreshes of one account share a single call.
func (r *Resolver) refresh(ctx context.Context, owner *db.User) (string, bool) {
	v, err, shared := r.group.Do(owner.ID, func() (any, error) {
		return r.doRefresh(ctx, owner)
	})
	if err != nil {
		logx.Warnf("oauth refresh failed, falling back: account=%s err=%v", owner.ID, err)
		return "", false
	}
	if shared {
		logx.Debugf("oauth refresh shared: account=%s", owner.ID)
	}
	return v.(string), true
}

func (r *Resolver) doRefresh(ctx context.Context, owner *db.User) (string, error) {
	refreshToken := r.vault.Decrypt(owner.OAuthRefreshToken)
	if refreshToken == "" {
		return "", errUnreadableRefreshToken
	}

	// The refresh outlives a cancelled request so its result is still persisted.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout)
	defer cancel()

	tok, err := r.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	access, err := r.vault.Encrypt(tok.AccessToken)
	if err != nil {
		logx.Errorf("oauth refresh: encrypt access token: account=%s err=%v", owner.ID, err)
		return tok.AccessToken, nil
	}
	rotated, err := r.vault.Encrypt(tok.RefreshToken)
	if err != nil {
		logx.Errorf("oauth refresh: encrypt refresh token: account=%s err=%v", owner.ID, err)
		rotated = ""
	}
	if err := r.store.UpdateOwnerAccessToken(ctx, owner.ID, access, tok.Expiry, rotated); err != nil {
		logx.Errorf("oauth refresh: persist: account=%s err=%v", owner.ID, err)
	} else {
		logx.Infof("oauth token refreshed: account=%s expires=%s rotated=%t",
			owner.ID, tok.Expiry.Format(time.RFC3339), tok.RefreshToken != "")
	}
	return tok.AccessToken, nil
}
