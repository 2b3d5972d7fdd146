package appcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aspect-build/listbridge/internal/ebay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryCache(t *testing.T) {
	clk := newClock()
	c := NewMemoryCache(clk.Now)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "acct", Entry{Token: "t1", ExpiresAt: clk.Now().Add(time.Minute)}))
	e, ok, err := c.Get(ctx, "acct")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t1", e.Token)

	clk.Advance(time.Minute)
	_, ok, _ = c.Get(ctx, "acct")
	assert.False(t, ok, "entry must expire at ExpiresAt")
	assert.Zero(t, c.Len(), "expired entry is evicted on read")

	require.NoError(t, c.Set(ctx, "acct", Entry{Token: "t2", ExpiresAt: clk.Now().Add(time.Hour)}))
	require.NoError(t, c.Delete(ctx, "acct"))
	_, ok, _ = c.Get(ctx, "acct")
	assert.False(t, ok)
}

type fakeIssuer struct {
	mu     sync.Mutex
	calls  map[string]int
	expiry time.Time
	err    error
}

func (f *fakeIssuer) ApplicationToken(_ context.Context, clientID, _ string) (*ebay.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[clientID]++
	if f.err != nil {
		return nil, f.err
	}
	return &ebay.Token{AccessToken: "app-" + clientID, Expiry: f.expiry}, nil
}

func TestProvider_CachesPerAccount(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{expiry: clk.Now().Add(2 * time.Hour)}
	p := NewProvider(NewMemoryCache(clk.Now), issuer, clk.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, err := p.Token(ctx, "acct-a", "cid-a", "secret")
		require.NoError(t, err)
		assert.Equal(t, "app-cid-a", tok)
	}
	tok, err := p.Token(ctx, "acct-b", "cid-b", "secret")
	require.NoError(t, err)
	assert.Equal(t, "app-cid-b", tok)

	assert.Equal(t, 1, issuer.calls["cid-a"])
	assert.Equal(t, 1, issuer.calls["cid-b"])
}

func TestProvider_RefetchesShortlyBeforeExpiry(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{expiry: clk.Now().Add(10 * time.Minute)}
	p := NewProvider(NewMemoryCache(clk.Now), issuer, clk.Now)
	ctx := context.Background()

	_, err := p.Token(ctx, "acct", "cid", "secret")
	require.NoError(t, err)

	clk.Advance(10*time.Minute - EarlyExpiry - time.Second)
	_, err = p.Token(ctx, "acct", "cid", "secret")
	require.NoError(t, err)
	assert.Equal(t, 1, issuer.calls["cid"])

	clk.Advance(time.Second)
	issuer.expiry = clk.Now().Add(time.Hour)
	_, err = p.Token(ctx, "acct", "cid", "secret")
	require.NoError(t, err)
	assert.Equal(t, 2, issuer.calls["cid"])
}

func TestProvider_ErrorNotCached(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{err: errors.New("invalid_client")}
	p := NewProvider(NewMemoryCache(clk.Now), issuer, clk.Now)
	ctx := context.Background()

	_, err := p.Token(ctx, "acct", "cid", "secret")
	require.Error(t, err)

	issuer.err = nil
	issuer.expiry = clk.Now().Add(time.Hour)
	tok, err := p.Token(ctx, "acct", "cid", "secret")
	require.NoError(t, err)
	assert.Equal(t, "app-cid", tok)
	assert.Equal(t, 2, issuer.calls["cid"])
}

// gatedIssuer blocks until released and fails if its context was cancelled
// by then, the way an HTTP call would.
type gatedIssuer struct {
	started chan struct{}
	release chan struct{}
	expiry  time.Time
}

func (g *gatedIssuer) ApplicationToken(ctx context.Context, clientID, _ string) (*ebay.Token, error) {
	close(g.started)
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ebay.Token{AccessToken: "app-" + clientID, Expiry: g.expiry}, nil
}

func TestProvider_FetchSurvivesCallerCancel(t *testing.T) {
	clk := newClock()
	issuer := &gatedIssuer{
		started: make(chan struct{}),
		release: make(chan struct{}),
		expiry:  clk.Now().Add(time.Hour),
	}
	p := NewProvider(NewMemoryCache(clk.Now), issuer, clk.Now)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		tok string
		err error
	}
	first := make(chan result, 1)
	go func() {
		tok, err := p.Token(ctx, "acct", "cid", "secret")
		first <- result{tok, err}
	}()

	<-issuer.started
	cancel()
	close(issuer.release)

	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, "app-cid", r.tok)

	// The fetched token was cached for everyone else.
	tok, err := p.Token(context.Background(), "acct", "cid", "secret")
	require.NoError(t, err)
	assert.Equal(t, "app-cid", tok)
}

func TestProvider_Invalidate(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{expiry: clk.Now().Add(time.Hour)}
	p := NewProvider(NewMemoryCache(clk.Now), issuer, clk.Now)
	ctx := context.Background()

	_, _ = p.Token(ctx, "acct", "cid", "secret")
	require.NoError(t, p.Invalidate(ctx, "acct"))
	_, _ = p.Token(ctx, "acct", "cid", "secret")
	assert.Equal(t, 2, issuer.calls["cid"])
}

func TestRedisCache_KeyNamespacing(t *testing.T) {
	assert.Equal(t, "listbridge:apptoken:acct-1", NewRedisCache(nil, "").key("acct-1"))
	assert.Equal(t, "custom:acct-1", NewRedisCache(nil, "custom").key("acct-1"))
}
