package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/mushimuro/agent-company/internal/db"
	coreerrors "github.com/mushimuro/agent-company/internal/errors"
)

type principalKey struct{}

// authenticate resolves the bearer token to a principal when auth is
// enabled. WebSocket clients pass the token as a query parameter because
// browsers cannot set headers on upgrade requests.
func (s *Server) authenticate(h http.HandlerFunc) http.HandlerFunc {
	if !s.cfg.Auth.Enabled {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		owner, ok := s.cfg.Auth.Tokens[token]
		if !ok {
			JSONError(w, "invalid or missing token", http.StatusUnauthorized)
			return
		}
		h(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, owner)))
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// withPrincipal binds an owner to the context the way authenticate does.
func withPrincipal(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, principalKey{}, owner)
}

// principal returns the authenticated owner, or "" when auth is disabled.
func principal(ctx context.Context) string {
	owner, _ := ctx.Value(principalKey{}).(string)
	return owner
}

// authorizeProject rejects access to a project owned by someone else.
// Projects without an owner are shared.
func authorizeProject(ctx context.Context, p *db.Project) error {
	owner := principal(ctx)
	if owner == "" || p.OwnerID == "" || p.OwnerID == owner {
		return nil
	}
	return coreerrors.ErrForbidden("project " + p.ID + " belongs to another owner")
}
