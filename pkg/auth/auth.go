// Package auth resolves the requesting user. Every API operation is scoped
// to the authenticated principal; there is no anonymous access.
package auth

import (
	"net/http"
	"strings"
	"sync"
)

// Provider extracts the user id from a request. ok is false when the request
// carries no valid credentials.
type Provider interface {
	Principal(r *http.Request) (userID string, ok bool)
}

// TokenProvider maps bearer tokens to user ids.
type TokenProvider struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewTokenProvider(tokens map[string]string) *TokenProvider {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &TokenProvider{tokens: copied}
}

var _ Provider = (*TokenProvider)(nil)

func (p *TokenProvider) Principal(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	userID, ok := p.tokens[token]
	return userID, ok
}

// AddToken registers a token at runtime.
func (p *TokenProvider) AddToken(token, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = userID
}

// HeaderProvider trusts an upstream-injected user header. Meant for
// development and deployments behind an authenticating proxy.
type HeaderProvider struct {
	Header string
}

func NewHeaderProvider() *HeaderProvider {
	return &HeaderProvider{Header: "X-User-Id"}
}

var _ Provider = (*HeaderProvider)(nil)

func (p *HeaderProvider) Principal(r *http.Request) (string, bool) {
	userID := r.Header.Get(p.Header)
	return userID, userID != ""
}
