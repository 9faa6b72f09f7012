package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// BusinessIDHeader carries the tenant. The gateway sets it from the verified
// token; this service trusts it and scopes every read to it.
const BusinessIDHeader = "X-Business-Id"

func BusinessIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyBusinessID).(string)
	return v
}

func ContextWithBusinessID(ctx context.Context, businessID string) context.Context {
	return context.WithValue(ctx, ctxKeyBusinessID, businessID)
}

// WithTenant requires a UUID business id on every path under prefix.
func WithTenant(prefix string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
			id := strings.TrimSpace(r.Header.Get(BusinessIDHeader))
			if id == "" {
				WriteError(w, http.StatusBadRequest, CodeValidation, BusinessIDHeader+" header is required")
				return
			}
			if _, err := uuid.Parse(id); err != nil {
				WriteError(w, http.StatusBadRequest, CodeValidation, BusinessIDHeader+" must be a UUID")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithBusinessID(r.Context(), id)))
		})
	}
}
