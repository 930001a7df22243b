package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
)

type contextKey string

const principalKey contextKey = "principal"

// SessionCookieName is the cookie carrying the operator session token.
const SessionCookieName = "fleet_session"

// Guard resolves credentials to principals. *core.IdentityGuard satisfies it.
type Guard interface {
	OperatorSession(ctx context.Context, token string, requireAdmin bool) (*core.Principal, error)
	NodeToken(ctx context.Context, header string) (*core.Principal, error)
	AutomationKey(ctx context.Context, header string) (*core.Principal, error)
}

// GetPrincipal returns the authenticated caller, or nil.
func GetPrincipal(ctx context.Context) *core.Principal {
	p, _ := ctx.Value(principalKey).(*core.Principal)
	return p
}

// WithPrincipal stores p in ctx and tags the request logger with it.
func WithPrincipal(ctx context.Context, p *core.Principal) context.Context {
	logger := zerolog.Ctx(ctx).With().Str("principal_kind", p.Kind).Str("principal_id", p.ID).Logger()
	ctx = logger.WithContext(ctx)
	return context.WithValue(ctx, principalKey, p)
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func authenticate(resolve func(r *http.Request) (*core.Principal, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := resolve(r)
			if err != nil {
				response.WriteServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireOperator admits requests carrying a valid operator session cookie.
func RequireOperator(g Guard) func(http.Handler) http.Handler {
	return authenticate(func(r *http.Request) (*core.Principal, error) {
		return g.OperatorSession(r.Context(), sessionToken(r), false)
	})
}

// RequireAdmin admits operator sessions whose account has the admin flag.
func RequireAdmin(g Guard) func(http.Handler) http.Handler {
	return authenticate(func(r *http.Request) (*core.Principal, error) {
		return g.OperatorSession(r.Context(), sessionToken(r), true)
	})
}

// RequireNode admits requests bearing a registered node token.
func RequireNode(g Guard) func(http.Handler) http.Handler {
	return authenticate(func(r *http.Request) (*core.Principal, error) {
		return g.NodeToken(r.Context(), r.Header.Get("Authorization"))
	})
}

// OperatorOrAutomation admits either an automation key or an operator
// session. When an Authorization header is present it must hold a valid
// automation key; there is no fallback to the session cookie.
func OperatorOrAutomation(g Guard) func(http.Handler) http.Handler {
	return authenticate(func(r *http.Request) (*core.Principal, error) {
		if header := r.Header.Get("Authorization"); header != "" {
			return g.AutomationKey(r.Context(), header)
		}
		return g.OperatorSession(r.Context(), sessionToken(r), false)
	})
}
