// Package auth verifies bearer tokens presented by dashboard users.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"onebreath/pkg/domain"
)

// Identity is the verified caller.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin"`
}

// Verifier checks a raw ID token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// ErrNoToken is returned when a request carries no bearer token.
var ErrNoToken = domain.Wrap(domain.KindUnauthorized, "authenticate", errors.New("no token provided"))

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// grantAdmins marks configured uids as admins regardless of token claims.
type grantAdmins struct {
	next   Verifier
	admins map[string]struct{}
}

// WithAdmins wraps v so that the listed uids always verify as admins.
func WithAdmins(v Verifier, uids []string) Verifier {
	if len(uids) == 0 {
		return v
	}
	set := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		if uid = strings.TrimSpace(uid); uid != "" {
			set[uid] = struct{}{}
		}
	}
	return grantAdmins{next: v, admins: set}
}

func (g grantAdmins) Verify(ctx context.Context, token string) (Identity, error) {
	id, err := g.next.Verify(ctx, token)
	if err != nil {
		return id, err
	}
	if _, ok := g.admins[id.UID]; ok {
		id.Admin = true
	}
	return id, nil
}
