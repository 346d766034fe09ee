package identity

import (
	"context"
	"net/http"
	"strings"
)

// DefaultHeader names the request header carrying the acting admin user id.
// The value is asserted upstream by the session gateway before requests reach
// this service.
const DefaultHeader = "X-Admin-Actor"

// Identity describes the authenticated admin operator attached to a request.
type Identity struct {
	ActorID string
}

type contextKey struct{}

// WithIdentity stores the identity on the context for downstream consumers.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext retrieves the identity from context when present.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || strings.TrimSpace(id.ActorID) == "" {
		return Identity{}, false
	}
	return id, true
}

// ActorID returns the acting user id or an empty string.
func ActorID(ctx context.Context) string {
	id, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return id.ActorID
}

// Middleware extracts the actor header and stores it on the request context.
// Requests without the header pass through anonymously; handlers that mutate
// state decide whether an actor is mandatory.
func Middleware(header string) func(http.Handler) http.Handler {
	name := strings.TrimSpace(header)
	if name == "" {
		name = DefaultHeader
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get(name))
			if actor != "" {
				r = r.WithContext(WithIdentity(r.Context(), Identity{ActorID: actor}))
			}
			next.ServeHTTP(w, r)
		})
	}
}
