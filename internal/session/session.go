package session

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Session is the per-request identity handed to handlers explicitly,
// instead of being read from ambient global state. Authentication itself
// is delegated to the fronting auth proxy, which sets the user header.
type Session struct {
	UserID uuid.UUID
}

type ctxKey struct{}

const userHeader = "X-User-ID"

// Middleware resolves the authenticated user from the request and
// injects a Session into the context. Requests without a valid user are
// rejected.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(userHeader)
		if raw == "" {
			http.Error(w, "Missing user identity", http.StatusUnauthorized)
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid user identity", http.StatusUnauthorized)
			return
		}
		ctx := WithSession(r.Context(), Session{UserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithSession attaches a session to the context. Exposed for tests and
// internal callers that act on behalf of a user.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session injected by Middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
