package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/aspect-build/listbridge/internal/logx"
)

// Source names where a credential came from.
type Source string

const (
	SourceOAuth       Source = "oauth"
	SourceManual      Source = "manual"
	SourceApplication Source = "application"
)

// Credential is a bearer token for one downstream call.
type Credential struct {
	Source Source
	Token  string
}

var (
	errUnreadableRefreshToken = errors.New("stored refresh token cannot be decrypted")

	// ErrNoCredential is returned when no strategy of a chain applies.
	ErrNoCredential = errors.New("no usable ebay credential")
)

// Strategy yields a credential from a bundle, or reports that it does not
// apply.
type Strategy interface {
	Source() Source
	// Applicable reports, without I/O, whether the strategy can try b.
	Applicable(b *Bundle) bool
	Token(ctx context.Context, b *Bundle) (string, error)
}

// Chain is an ordered list of strategies; the first that yields a token wins.
type Chain []Strategy

// UserChain serves operations that need a seller-authorized token.
func UserChain() Chain {
	return Chain{OAuthUser{}, ManualUser{}}
}

// CatalogChain serves read-only catalog operations, which also accept an
// application token.
func CatalogChain(apps ApplicationTokens) Chain {
	return Chain{OAuthUser{}, Application{Tokens: apps}}
}

// Resolve walks the chain. A strategy that fails is logged and skipped.
func (c Chain) Resolve(ctx context.Context, b *Bundle) (Credential, error) {
	var errs []error
	for _, s := range c {
		if !s.Applicable(b) {
			continue
		}
		tok, err := s.Token(ctx, b)
		if err != nil {
			logx.Warnf("credential source %s failed: account=%s err=%v", s.Source(), b.AccountID, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Source(), err))
			continue
		}
		return Credential{Source: s.Source(), Token: tok}, nil
	}
	return Credential{}, errors.Join(append([]error{ErrNoCredential}, errs...)...)
}

// Plan returns the source Resolve would try first, or "" when none applies.
func (c Chain) Plan(b *Bundle) Source {
	for _, s := range c {
		if s.Applicable(b) {
			return s.Source()
		}
	}
	return ""
}

// OAuthUser uses the connected OAuth user token.
type OAuthUser struct{}

func (OAuthUser) Source() Source { return SourceOAuth }

func (OAuthUser) Applicable(b *Bundle) bool { return b.OAuthConnected && b.OAuthToken != "" }

func (OAuthUser) Token(_ context.Context, b *Bundle) (string, error) { return b.OAuthToken, nil }

// ManualUser uses the manually entered user token.
type ManualUser struct{}

func (ManualUser) Source() Source { return SourceManual }

func (ManualUser) Applicable(b *Bundle) bool { return b.ManualToken != "" }

func (ManualUser) Token(_ context.Context, b *Bundle) (string, error) { return b.ManualToken, nil }

// ApplicationTokens issues cached client-credential tokens per account.
type ApplicationTokens interface {
	Token(ctx context.Context, accountID, clientID, clientSecret string) (string, error)
}

// Application obtains an application token with the manual client id and
// secret.
type Application struct {
	Tokens ApplicationTokens
}

func (Application) Source() Source { return SourceApplication }

func (a Application) Applicable(b *Bundle) bool {
	return a.Tokens != nil && b.ManualClientID != "" && b.ManualClientSecret != ""
}

func (a Application) Token(ctx context.Context, b *Bundle) (string, error) {
	return a.Tokens.Token(ctx, b.AccountID, b.ManualClientID, b.ManualClientSecret)
}
