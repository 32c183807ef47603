package auth

import (
	"sync"
	"time"
)

// Sessions tracks the tokens issued since the vault was last unlocked.
// Locking the vault revokes all of them at once.
type Sessions struct {
	signer *JWTSigner

	mu     sync.Mutex
	active map[string]time.Time
}

func NewSessions(signer *JWTSigner) *Sessions {
	return &Sessions{signer: signer, active: make(map[string]time.Time)}
}

func (s *Sessions) Issue(sub string) (TokenResponse, error) {
	tok, id, exp, err := s.signer.IssueToken(sub)
	if err != nil {
		return TokenResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, until := range s.active {
		if now.After(until) {
			delete(s.active, k)
		}
	}
	s.active[id] = exp
	return TokenResponse{Token: tok, ExpiresAt: exp}, nil
}

// ParseAndValidate accepts only signed, unexpired tokens that have not
// been revoked.
func (s *Sessions) ParseAndValidate(tokenStr string) (*Claims, error) {
	c, err := s.signer.ParseAndValidate(tokenStr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	_, ok := s.active[c.TokenID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvalidToken
	}
	return c, nil
}

func (s *Sessions) RevokeAll() {
	s.mu.Lock()
	s.active = make(map[string]time.Time)
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
