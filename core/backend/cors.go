package backend

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/popstats/core/logger"
)

// handleCORS answers preflight requests and sets the CORS headers. With
// origin "*" every origin is allowed without credentials, otherwise the
// request origin is echoed if it is in the configured list.
func (b *Backend) handleCORS(router *mux.Router) {
	allowed := map[string]bool{}
	for _, o := range strings.Split(b.corsOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	corsMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed["*"] {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, If-None-Match, X-Requested-With, X-Request-Id")
			w.Header().Set("Access-Control-Expose-Headers", "Etag, X-Request-Id, Pagination-Limit, Pagination-Total-Count, Pagination-Page-Count, Pagination-Current-Page, RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method, " (handled by CORS middleware)")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.ServeHTTP(w, r)
		})
	}
	router.Use(corsMiddleware)
}
