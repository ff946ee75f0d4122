package shared

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Origin describes where a request came from, for audit purposes.
type Origin struct {
	IP        string
	UserAgent string
}

type originContextKey struct{}

// ContextWithOrigin stores the request origin in context.
func ContextWithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originContextKey{}, origin)
}

// OriginFromContext extracts the request origin from context.
func OriginFromContext(ctx context.Context) Origin {
	origin, _ := ctx.Value(originContextKey{}).(Origin)
	return origin
}

// OriginFromRequest reads the origin of r. RemoteAddr is expected to be
// rewritten by chi's RealIP middleware.
func OriginFromRequest(r *http.Request) Origin {
	ip := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return Origin{IP: ip, UserAgent: r.UserAgent()}
}

// OriginMiddleware attaches the request origin to the request context.
func OriginMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithOrigin(r.Context(), OriginFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
