package ebay

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment selects the eBay endpoint set.
type Environment string

const (
	Production Environment = "production"
	Sandbox    Environment = "sandbox"
)

// DefaultTokenLifetime applies when a token response omits expires_in.
const DefaultTokenLifetime = 7200 * time.Second

// DefaultHTTPTimeout bounds every call to the token and identity endpoints.
const DefaultHTTPTimeout = 10 * time.Second

// Scopes is the fixed scope list requested on consent and refresh.
var Scopes = []string{
	"https://api.ebay.com/oauth/api_scope",
	"https://api.ebay.com/oauth/api_scope/sell.inventory",
	"https://api.ebay.com/oauth/api_scope/sell.account",
	"https://api.ebay.com/oauth/api_scope/sell.fulfillment",
	"https://api.ebay.com/oauth/api_scope/commerce.identity.readonly",
}

// ApplicationScopes is requested for client-credential application tokens.
var ApplicationScopes = []string{
	"https://api.ebay.com/oauth/api_scope",
}

// Endpoints holds the provider URLs.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	IdentityURL string
}

// EndpointsFor returns the endpoint set of an environment.
func EndpointsFor(env Environment) Endpoints {
	if env == Sandbox {
		return Endpoints{
			AuthURL:     "https://auth.sandbox.ebay.com/oauth2/authorize",
			TokenURL:    "https://api.sandbox.ebay.com/identity/v1/oauth2/token",
			IdentityURL: "https://apiz.sandbox.ebay.com/commerce/identity/v1/user/",
		}
	}
	return Endpoints{
		AuthURL:     "https://auth.ebay.com/oauth2/authorize",
		TokenURL:    "https://api.ebay.com/identity/v1/oauth2/token",
		IdentityURL: "https://apiz.ebay.com/commerce/identity/v1/user/",
	}
}

// Config is the server-held provider configuration. Values may be empty;
// operations that need a missing value fail with a ConfigError.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string // eBay RuName
	Environment  Environment
	Endpoints    Endpoints
	HTTPTimeout  time.Duration
}

// LoadConfig reads provider configuration from EBAY_* environment variables.
func LoadConfig() (Config, error) {
	cfg := Config{
		ClientID:     strings.TrimSpace(os.Getenv("EBAY_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("EBAY_CLIENT_SECRET")),
		RedirectURI:  strings.TrimSpace(os.Getenv("EBAY_REDIRECT_URI")),
		Environment:  Production,
		HTTPTimeout:  DefaultHTTPTimeout,
	}

	switch v := strings.ToLower(strings.TrimSpace(os.Getenv("EBAY_ENVIRONMENT"))); v {
	case "", "production":
	case "sandbox":
		cfg.Environment = Sandbox
	default:
		return Config{}, fmt.Errorf("EBAY_ENVIRONMENT must be production or sandbox, got %q", v)
	}

	if v := strings.TrimSpace(os.Getenv("EBAY_HTTP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("EBAY_HTTP_TIMEOUT must be a positive duration, got %q", v)
		}
		cfg.HTTPTimeout = d
	}

	cfg.Endpoints = EndpointsFor(cfg.Environment)
	return cfg, nil
}

// ErrNotConfigured is wrapped by every ConfigError.
var ErrNotConfigured = errors.New("ebay oauth not configured")

// ConfigError names the provider settings required by an operation but absent.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrNotConfigured, strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Unwrap() error { return ErrNotConfigured }

const (
	needClientID = 1 << iota
	needClientSecret
	needRedirectURI
)

func (c Config) require(need int) error {
	var missing []string
	if need&needClientID != 0 && c.ClientID == "" {
		missing = append(missing, "EBAY_CLIENT_ID")
	}
	if need&needClientSecret != 0 && c.ClientSecret == "" {
		missing = append(missing, "EBAY_CLIENT_SECRET")
	}
	if need&needRedirectURI != 0 && c.RedirectURI == "" {
		missing = append(missing, "EBAY_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}
