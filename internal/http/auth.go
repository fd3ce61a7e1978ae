package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/middleware/ratelimit"
	"saldo/internal/services"
)

type contextKey string

const userContextKey contextKey = "user"

// Authenticator checks basic auth credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (core.User, error)
}

// withUser resolves HTTP basic credentials to a user before calling next.
// On read routes, which the rate limiter skips, a failed login counts toward
// the client's window and a client whose window is used up is refused before
// its password is checked.
func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := r.BasicAuth()
		if !ok {
			UnauthorizedError().Write(w)
			return
		}

		client := s.ips.ClientIP(r)
		read := !ratelimit.Mutating(r)
		if read && s.limiter.Exhausted(client) {
			w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter(client)))
			s.rateLimited(w, r)
			return
		}

		user, err := s.auth.Authenticate(r.Context(), email, password)
		if err != nil {
			if !errors.Is(err, services.ErrInvalidCredentials) {
				s.fail(w, r, err, "authenticate")
				return
			}
			if read {
				s.limiter.Allow(client)
			}
			log.FromContext(r.Context()).WithComponent(log.ComponentAuth).
				WarnContext(r.Context(), "Authentication failed", log.FieldClientIP, client)
			UnauthorizedError().Write(w)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = log.WithLogger(ctx, log.FromContext(ctx).With(log.FieldUserID, user.ID))
		next(w, r.WithContext(ctx))
	}
}

// currentUser returns the user withUser stored; handlers behind withUser
// can rely on it.
func currentUser(ctx context.Context) core.User {
	u, _ := ctx.Value(userContextKey).(core.User)
	return u
}
