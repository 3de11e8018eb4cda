package api

import (
	"net/http"
	"strings"

	"onebreath/pkg/domain"
)

type signInRequest struct {
	IDToken string `json:"idToken"`
}

// handleSignIn verifies an ID token minted by the identity provider and
// echoes the caller's uid. Both sign-in routes share it.
func (s *Server) handleSignIn(success, failure string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.IDToken) == "" {
			s.writeError(w, r, domain.Errorf(domain.KindUnauthorized, "sign in", "%s: no token provided", failure))
			return
		}
		id, err := s.deps.Verifier.Verify(r.Context(), req.IDToken)
		if err != nil {
			if domain.KindOf(err) != domain.KindUpstreamUnavailable {
				err = domain.Errorf(domain.KindUnauthorized, "sign in", "%s: %v", failure, err)
			}
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": success,
			"uid":     id.UID,
			"email":   id.Email,
			"admin":   id.Admin,
		})
	}
}
