package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"onebreath/pkg/domain"
)

// Static accepts a fixed set of tokens. It is meant for development and tests.
type Static struct {
	tokens map[string]Identity
}

// NewStatic maps each token to a uid.
func NewStatic(tokens map[string]string) *Static {
	s := &Static{tokens: make(map[string]Identity, len(tokens))}
	for token, uid := range tokens {
		s.tokens[token] = Identity{UID: uid}
	}
	return s
}

// Add registers token for id.
func (s *Static) Add(token string, id Identity) *Static {
	s.tokens[token] = id
	return s
}

// Verify implements Verifier.
func (s *Static) Verify(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	for known, id := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return id, nil
		}
	}
	return Identity{}, domain.Wrap(domain.KindUnauthorized, "verify token", errors.New("invalid token"))
}
