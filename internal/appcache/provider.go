package appcache

import (
	"context"
	"time"

	"github.com/aspect-build/listbridge/internal/ebay"
	"github.com/aspect-build/listbridge/internal/logx"
	"golang.org/x/sync/singleflight"
)

// EarlyExpiry is how long before a token's own expiry it stops being served.
const EarlyExpiry = 60 * time.Second

// TokenIssuer obtains client-credential tokens.
type TokenIssuer interface {
	ApplicationToken(ctx context.Context, clientID, clientSecret string) (*ebay.Token, error)
}

// Provider serves application tokens keyed by account id, fetching a new one
// only when the cached token is absent or about to expire.
type Provider struct {
	cache  Cache
	issuer TokenIssuer
	now    func() time.Time
	group  singleflight.Group
}

// NewProvider returns a Provider. A nil now uses time.Now.
func NewProvider(cache Cache, issuer TokenIssuer, now func() time.Time) *Provider {
	if now == nil {
		now = time.Now
	}
	return &Provider{cache: cache, issuer: issuer, now: now}
}

// Token returns the application token for accountID, issued with the given
// key pair.
func (p *Provider) Token(ctx context.Context, accountID, clientID, clientSecret string) (string, error) {
	if e, ok, err := p.cache.Get(ctx, accountID); err != nil {
		logx.Warnf("app token cache read failed: account=%s err=%v", accountID, err)
	} else if ok {
		return e.Token, nil
	}

	// Waiters share the fetch, so it must outlive the caller that started it.
	// The issuer bounds it with its own timeout.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := p.group.Do(accountID, func() (any, error) {
		tok, err := p.issuer.ApplicationToken(fetchCtx, clientID, clientSecret)
		if err != nil {
			return "", err
		}
		e := Entry{Token: tok.AccessToken, ExpiresAt: tok.Expiry.Add(-EarlyExpiry)}
		if e.ExpiresAt.After(p.now()) {
			if err := p.cache.Set(fetchCtx, accountID, e); err != nil {
				logx.Warnf("app token cache write failed: account=%s err=%v", accountID, err)
			}
		}
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token of an account, e.g. after its manual
// client credentials change.
func (p *Provider) Invalidate(ctx context.Context, accountID string) error {
	return p.cache.Delete(ctx, accountID)
}
