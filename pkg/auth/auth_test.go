package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenProvider(t *testing.T) {
	p := NewTokenProvider(map[string]string{"secret": "alice"})

	r := httptest.NewRequest("GET", "/", nil)
	_, ok := p.Principal(r)
	assert.False(t, ok, "missing header")

	r.Header.Set("Authorization", "Bearer wrong")
	_, ok = p.Principal(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer secret")
	userID, ok := p.Principal(r)
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)

	p.AddToken("other", "bob")
	r.Header.Set("Authorization", "Bearer other")
	userID, ok = p.Principal(r)
	assert.True(t, ok)
	assert.Equal(t, "bob", userID)
}

func TestHeaderProvider(t *testing.T) {
	p := NewHeaderProvider()

	r := httptest.NewRequest("GET", "/", nil)
	_, ok := p.Principal(r)
	assert.False(t, ok)

	r.Header.Set("X-User-Id", "alice")
	userID, ok := p.Principal(r)
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
}
