package auth

import (
	"context"
	"strings"

	"onebreath/internal/config"
	"onebreath/pkg/domain"
)

// FromConfig builds the configured verifier.
func FromConfig(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	var v Verifier
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "firebase":
		fb, err := NewFirebase(ctx, cfg.ProjectID, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		v = fb
	case "static":
		v = NewStatic(cfg.StaticTokens)
	default:
		return nil, domain.Errorf(domain.KindInvalid, "select auth driver", "unknown driver %q", cfg.Driver)
	}
	return WithAdmins(v, cfg.Admins), nil
}
