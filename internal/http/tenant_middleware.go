package httpx

import (
	"context"
	"net/http"

	"github.com/configmat/configmat/internal/domain"
)

type scopeContextKey string

const contextKeyScope scopeContextKey = "configmat-scope"

// Tenant and actor arrive as headers set by the fronting gateway, which has
// already authenticated the caller. The engine trusts them as-is.
const (
	headerTenant = "X-Tenant-ID"
	headerActor  = "X-Actor-ID"
)

type contextSetter interface {
	SetContext(context.Context)
}

// requireScope rejects requests without a tenant identity before invoking
// the handler.
func (r *Router) requireScope(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureScope(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureScope validates the tenant headers and enriches the context.
func (r *Router) ensureScope(w http.ResponseWriter, req *http.Request) (context.Context, domain.Scope, bool) {
	scope, err := domain.NewScope(req.Header.Get(headerTenant), req.Header.Get(headerActor))
	if err != nil {
		r.logger.Warn("tenant header missing", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return req.Context(), domain.Scope{}, false
	}
	ctx := context.WithValue(req.Context(), contextKeyScope, scope)
	return ctx, scope, true
}

// scopeFromContext extracts the request scope from context.
func scopeFromContext(ctx context.Context) (domain.Scope, bool) {
	value := ctx.Value(contextKeyScope)
	if value == nil {
		return domain.Scope{}, false
	}
	scope, ok := value.(domain.Scope)
	return scope, ok
}
