package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aspect-build/listbridge/internal/appcache"
	"github.com/aspect-build/listbridge/internal/credentials"
	"github.com/aspect-build/listbridge/internal/crypto"
	"github.com/aspect-build/listbridge/internal/ebay"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/oauthflow"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/redis/go-redis/v9"
)

// Services are the long-lived components shared by all requests.
type Services struct {
	Store     *db.Store
	Vault     *crypto.Vault
	Ebay      *ebay.Client
	OAuth     *oauthflow.Controller
	Resolver  *credentials.Resolver
	AppTokens *appcache.Provider
	Now       func() time.Time

	redis *redis.Client
}

// NewServices builds the services for cfg on top of store. A nil httpClient
// uses http.DefaultClient for provider calls.
func NewServices(ctx context.Context, store *db.Store, cfg *Config, httpClient *http.Client) (*Services, error) {
	vault, err := crypto.NewVault(cfg.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	client := ebay.NewClient(cfg.Ebay, httpClient)
	svc := &Services{
		Store: store,
		Vault: vault,
		Ebay:  client,
		OAuth: oauthflow.NewController(store, client, vault),
		Resolver: credentials.NewResolver(credentials.Options{
			Store:          store,
			Vault:          vault,
			Refresher:      client,
			RefreshTimeout: client.Config().HTTPTimeout,
		}),
		Now: time.Now,
	}

	var cache appcache.Cache
	if cfg.RedisAddr != "" {
		rc, err := appcache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		svc.redis = rc
		cache = appcache.NewRedisCache(rc, "")
		logx.Infof("application token cache: redis addr=%s db=%d", cfg.RedisAddr, cfg.RedisDB)
	} else {
		cache = appcache.NewMemoryCache(nil)
		logx.Infof("application token cache: memory")
	}
	svc.AppTokens = appcache.NewProvider(cache, client, nil)

	return svc, nil
}

// Close releases connections held by the services. The store is owned by
// the caller.
func (s *Services) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// PurgeSessions deletes expired sessions every interval until ctx is done.
func PurgeSessions(ctx context.Context, store *db.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			n, err := store.PurgeExpiredSessions(ctx, t)
			if err != nil {
				logx.Warnf("purge sessions: %v", err)
				continue
			}
			if n > 0 {
				logx.Debugf("purged %d expired sessions", n)
			}
		}
	}
}
