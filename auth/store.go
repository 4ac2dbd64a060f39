package auth

import (
	"sync"

	"github.com/goliatone/go-fiware-sync/core"
)

// TokenStore holds the current token pair. Tokens are swapped as whole values
// so readers never observe a partially updated token.
type TokenStore struct {
	mu    sync.RWMutex
	token core.Token
}

func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

func (s *TokenStore) Load() core.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *TokenStore) Replace(token core.Token) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *TokenStore) Clear() {
	s.Replace(core.Token{})
}
