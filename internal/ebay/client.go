// Package ebay talks to the eBay OAuth token and identity endpoints.
package ebay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/version"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Token is an issued access token with its absolute expiry.
type Token struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not return one
	Expiry       time.Time
}

// Client performs the provider calls. Every call is bounded by the
// configured HTTP timeout.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewClient returns a Client for cfg. A nil httpClient uses http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = EndpointsFor(cfg.Environment)
	}
	hc := *httpClient
	hc.Transport = &userAgentTransport{base: httpClient.Transport, ua: version.UserAgent()}
	return &Client{cfg: cfg, httpClient: &hc, now: time.Now}
}

// userAgentTransport stamps outbound requests with the listbridge User-Agent.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("User-Agent") != "" {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return base.RoundTrip(r)
}

// Config returns the provider configuration.
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.Endpoints.AuthURL,
			TokenURL:  c.cfg.Endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// callContext bounds ctx by the provider timeout and routes x/oauth2 through
// the client's HTTP client.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.cfg.HTTPTimeout)
}

// AuthCodeURL builds the consent URL carrying client_id, response_type=code,
// redirect_uri, scope and state.
func (c *Client) AuthCodeURL(state string) (string, error) {
	if err := c.cfg.require(needClientID | needRedirectURI); err != nil {
		return "", err
	}
	return c.oauthConfig().AuthCodeURL(state), nil
}

// Exchange trades an authorization code for tokens using HTTP Basic client
// authentication and the configured redirect identifier.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	if err := c.cfg.require(needClientID | needClientSecret | needRedirectURI); err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	tok, err := c.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, c.describe("exchange authorization code", err, code)
	}
	return c.toToken(tok)
}

// Refresh redeems a refresh token for a new access token, requesting the
// same fixed scope list.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if err := c.cfg.require(needClientID | needClientSecret); err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	// clientcredentials lets grant_type be overridden, which gives a
	// refresh_token grant that still carries the scope parameter.
	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.Endpoints.TokenURL,
		Scopes:       Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
		EndpointParams: url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refreshToken},
		},
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, c.describe("refresh access token", err, refreshToken)
	}
	// x/oauth2 echoes the submitted refresh token when the response has
	// none; only a different value is a rotation.
	if tok.RefreshToken == refreshToken {
		tok.RefreshToken = ""
	}
	return c.toToken(tok)
}

// ApplicationToken obtains a client-credential application token for the
// given key pair. It is not tied to any end user.
func (c *Client) ApplicationToken(ctx context.Context, clientID, clientSecret string) (*Token, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("application token requires client id and client secret")
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     c.cfg.Endpoints.TokenURL,
		Scopes:       ApplicationScopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, c.describe("application token", err, clientSecret)
	}
	return c.toToken(tok)
}

type identityResponse struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

// Identity looks up the seller's username with accessToken. It is
// best-effort: any failure yields "", false and is only logged.
func (c *Client) Identity(ctx context.Context, accessToken string) (string, bool) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoints.IdentityURL, nil)
	if err != nil {
		logx.Warnf("ebay identity: build request: %v", err)
		return "", false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		logx.Warnf("ebay identity: request failed: %v", err)
		return "", false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logx.Warnf("ebay identity: status=%d body=%s", resp.StatusCode, logx.Redact(string(body), accessToken))
		return "", false
	}

	var ir identityResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		logx.Warnf("ebay identity: decode response: %v", err)
		return "", false
	}
	if ir.Username != "" {
		return ir.Username, true
	}
	if ir.UserID != "" {
		return ir.UserID, true
	}
	return "", false
}

func (c *Client) toToken(tok *oauth2.Token) (*Token, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(DefaultTokenLifetime)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry.UTC(),
	}, nil
}

// ProviderError is an upstream failure. Detail is redacted and meant for
// server logs only.
type ProviderError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ebay %s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("ebay %s: %s", e.Op, e.Detail)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (c *Client) describe(op string, err error, secrets ...string) error {
	r := logx.NewRedactor(append(secrets, c.cfg.ClientSecret)...)
	pe := &ProviderError{Op: op, Err: err, Detail: r.Redact(err.Error())}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			pe.StatusCode = re.Response.StatusCode
		}
		pe.Detail = r.Redact(string(re.Body))
		if re.ErrorCode != "" {
			pe.Detail = r.Redact(re.ErrorCode + ": " + re.ErrorDescription)
		}
	}
	return pe
}
