package middleware

import (
	"crypto/subtle"
	"net/http"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/jonboulle/clockwork"
)

// RequireBearer is RequireSession plus proof of possession: the request must
// carry the signed-in session's own token as a Bearer credential.
func RequireBearer(source SessionSource, roles ...lmsauth.Role) func(http.Handler) http.Handler {
	return Guard(source, clockwork.NewRealClock(), presentsSessionToken, roles...)
}

func presentsSessionToken(r *http.Request, s lmsauth.Session) bool {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) == 1
}
