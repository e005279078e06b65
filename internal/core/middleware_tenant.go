package core

import (
	"net/http"

	"classbook/internal/types"
)

// TenantMiddleware resolves the request host to a tenant once per request
// and stores the typed reference in the context. Downstream code reads it
// with types.GetTenant and never re-derives it from the host.
//
// Resolution failures are written as-is: an unknown host in a multi-tenant
// deployment is a 404, a tripped breaker a 502.
func (s *Server) TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		tenant, err := s.Tenants.Resolve(r.Context(), r.Host)
		if err != nil {
			Error(w, r, err)
			return
		}

		if !tenant.IsZero() {
			annotateRequestLog(r.Context(), "tenant_id", tenant.ID)
		}
		next.ServeHTTP(w, r.WithContext(types.WithTenant(r.Context(), tenant)))
	})
}
