package dingtalk

import (
	"context"
	"sync"
	"time"

	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"golang.org/x/oauth2"
)

// TokenCache caches access tokens per client id.
// A cached token is reused only while it stays valid for longer than the refresh buffer.
type TokenCache struct {
	mu      sync.Mutex
	api     *Client
	sources map[string]*clientTokens
}

// clientTokens is the token source of one client id. Calls are serialized so the
// exchange sees the context of the caller that triggered it.
type clientTokens struct {
	mu     sync.Mutex
	api    *Client
	id     string
	secret string
	ctx    context.Context
	reuse  oauth2.TokenSource
}

// NewTokenCache creates an empty cache backed by api
func NewTokenCache(api *Client) *TokenCache {
	return &TokenCache{
		api:     api,
		sources: make(map[string]*clientTokens),
	}
}

// AccessToken returns a valid token for the credential pair, exchanging a new one when needed
func (c *TokenCache) AccessToken(ctx context.Context, clientID, clientSecret string) (string, error) {
	tok, err := c.source(clientID, clientSecret).token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// source returns the token source for clientID. A changed secret starts a fresh source.
func (c *TokenCache) source(clientID, clientSecret string) *clientTokens {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sources[clientID]; ok && s.secret == clientSecret {
		return s
	}
	s := &clientTokens{api: c.api, id: clientID, secret: clientSecret}
	s.reuse = oauth2.ReuseTokenSourceWithExpiry(nil, s, constants.TokenRefreshBuffer)
	c.sources[clientID] = s
	return s
}

func (s *clientTokens) token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	defer func() { s.ctx = nil }()
	return s.reuse.Token()
}

// Token performs the credential exchange. It is only called by the reuse source.
func (s *clientTokens) Token() (*oauth2.Token, error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := s.api.ExchangeToken(ctx, s.id, s.secret)
	if err != nil {
		return nil, &AuthError{ClientID: s.id, Err: err}
	}
	return &oauth2.Token{
		AccessToken: resp.AccessToken,
		Expiry:      time.Now().Add(time.Duration(resp.ExpireIn) * time.Second),
	}, nil
}
