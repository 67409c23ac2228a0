package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/tabula/internal/core"
)

// WithRequestMetadata adds the client IP and User-Agent to the context so the
// service can log version writes against the client.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithClient(ctx, clientIP(r), r.UserAgent())
}
