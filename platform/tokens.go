/*
Package platform holds the clients for the external platforms the booking
core talks to: Backstage (ticketing), Zoom (webinars), Xero (accounting)
and Stripe (payments), plus the bearer-token cache they share.

PURPOSE:
  Each client exposes only the handful of calls the core needs and maps
  platform responses onto portal errors. Wire formats stay
  platform-specific; nothing here tries to unify them.

TOKENS:
  TokenCache hands out a currently valid bearer token for one provider.
  It refreshes through an oauth2.TokenSource shortly before expiry and
  optionally persists tokens in Redis so several server processes share
  one refresh.

SEE ALSO:
  - reservation/coordinator.go: Ticketing and Webinars interfaces
  - booking/orchestrator.go: Accounting and PaymentVerifier interfaces
*/
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultLeeway is how long before expiry a token is considered stale.
const DefaultLeeway = 2 * time.Minute

// =============================================================================
// TOKEN STORE
// =============================================================================

// TokenStore persists tokens between processes.
type TokenStore interface {
	Load(ctx context.Context, provider string) (*oauth2.Token, error)
	Save(ctx context.Context, provider string, tok *oauth2.Token) error
}

// RedisTokenStore keeps one JSON token per provider, expiring with the token.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore creates a Redis-backed token store.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: "portal:oauth:"}
}

func (s *RedisTokenStore) Load(ctx context.Context, provider string) (*oauth2.Token, error) {
	raw, err := s.client.Get(ctx, s.prefix+provider).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &tok, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, provider string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
		if ttl <= 0 {
			return nil
		}
	}
	return s.client.Set(ctx, s.prefix+provider, raw, ttl).Err()
}

// =============================================================================
// TOKEN CACHE
// =============================================================================

// TokenCache returns a valid bearer token for one provider.
type TokenCache struct {
	provider string
	source   oauth2.TokenSource
	store    TokenStore

	mu      sync.Mutex
	current *oauth2.Token
	leeway  time.Duration
	now     func() time.Time
}

// NewTokenCache creates a cache over source. store may be nil.
func NewTokenCache(provider string, source oauth2.TokenSource, store TokenStore) *TokenCache {
	return &TokenCache{
		provider: provider,
		source:   source,
		store:    store,
		leeway:   DefaultLeeway,
		now:      time.Now,
	}
}

// Token returns a bearer token, refreshing it when it is close to expiry.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fresh(c.current) {
		return c.current.AccessToken, nil
	}

	if c.store != nil {
		tok, err := c.store.Load(ctx, c.provider)
		if err != nil {
			log.Printf("[Tokens] %s: cache read failed: %v", c.provider, err)
		} else if c.fresh(tok) {
			c.current = tok
			return tok.AccessToken, nil
		}
	}

	tok, err := c.source.Token()
	if err != nil {
		return "", fmt.Errorf("%s token refresh: %w", c.provider, err)
	}
	c.current = tok

	if c.store != nil {
		if err := c.store.Save(ctx, c.provider, tok); err != nil {
			log.Printf("[Tokens] %s: cache write failed: %v", c.provider, err)
		}
	}
	return tok.AccessToken, nil
}

func (c *TokenCache) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return c.now().Add(c.leeway).Before(tok.Expiry)
}

// =============================================================================
// TOKEN SOURCES
// =============================================================================

// ClientCredentialsSource builds a client-credentials token source. params
// may override grant_type (Zoom server-to-server uses account_credentials).
func ClientCredentialsSource(ctx context.Context, tokenURL, clientID, clientSecret string, params url.Values) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		TokenURL:       tokenURL,
		EndpointParams: params,
		AuthStyle:      oauth2.AuthStyleInHeader,
	}
	return cfg.TokenSource(ctx)
}

// RefreshTokenSource builds a token source that trades a long-lived refresh
// token for access tokens (Xero).
func RefreshTokenSource(ctx context.Context, tokenURL, clientID, clientSecret, refreshToken string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInHeader},
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}
