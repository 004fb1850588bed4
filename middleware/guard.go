package middleware

import (
	"context"
	"net/http"
	"strings"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/jonboulle/clockwork"
)

// SessionSource is satisfied by *lmsauth.Manager.
type SessionSource interface {
	Session() lmsauth.Session
}

type sessionContextKey struct{}

// SessionFromContext returns the Session admitted by a guard.
func SessionFromContext(ctx context.Context) (lmsauth.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(lmsauth.Session)
	return s, ok
}

// RequireSession rejects requests with 401 while no unexpired session is
// signed in, and with 403 when the session's role is not in roles. An empty
// roles list admits either role.
func RequireSession(source SessionSource, roles ...lmsauth.Role) func(http.Handler) http.Handler {
	return Guard(source, clockwork.NewRealClock(), nil, roles...)
}

// Guard is RequireSession with an explicit clock and an extra per-request
// check run before the role check. check returning false yields 401.
func Guard(source SessionSource, clock clockwork.Clock, check func(*http.Request, lmsauth.Session) bool, roles ...lmsauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if source == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			s := source.Session()
			if s.ExpiredAt(clock.Now()) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if check != nil && !check(r, s) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !s.HasRole(roles...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
