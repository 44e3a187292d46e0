// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package access provides caller identity and bearer-token authentication
 */
package access

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cuido-tech/cuido-bff/core"
	"github.com/cuido-tech/cuido-bff/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyIdentity contextKey = "_identity_"
)

// Identity is the verified caller of a request.
//
// Subject is the identity provider's stable user identifier and serves as the
// ownership key across all resources. An Identity is created once per request
// by the verifier and never cached across requests.
type Identity struct {
	Subject string                 `json:"subject"`
	Email   string                 `json:"email,omitempty"`
	Claims  map[string]interface{} `json:"claims,omitempty"`
}

// Verifier exchanges a bearer token for a verified caller identity
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// ContextWithIdentity returns a new context carrying the identity
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext returns the identity stored in the context
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKeyIdentity).(Identity)
	return identity, ok && identity.Subject != ""
}

// publicPaths are reachable without a bearer token
var publicPaths = map[string]bool{
	"/healthz":           true,
	"/api/auth/register": true,
	"/api/auth/login":    true,
}

// NewAuthMiddleware enforces Authorization: Bearer <token> for all guarded routes.
//
// On success it stores the verified identity in the request context and tags the
// request logger with the caller subject. Token verification happens before any
// data-API call is issued; a missing or malformed header fails without a remote
// call at all.
func NewAuthMiddleware(v Verifier) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				h.ServeHTTP(w, r)
				return
			}

			authz := r.Header.Get("Authorization")
			if authz == "" {
				core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing Authorization header"))
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authz, prefix) {
				core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Malformed Authorization header"))
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
			if token == "" {
				core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing bearer token"))
				return
			}

			identity, err := v.Verify(r.Context(), token)
			if err != nil {
				core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Invalid or expired token"))
				return
			}

			ctx := ContextWithIdentity(r.Context(), identity)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, identity.Subject)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RawTokenFromRequest returns the bearer token of the request, or the empty
// string. Handlers use it to forward caller credentials on outbound calls.
func RawTokenFromRequest(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, prefix))
}
