package api

import (
	"net/http"
	"time"

	"github.com/rmedgar/nekowat/pkg/health"
	"github.com/rmedgar/nekowat/pkg/metrics"
	"github.com/rmedgar/nekowat/pkg/middleware"
)

// NewRouter builds the full HTTP handler with all routes and middleware.
//
// Route table:
//
//	GET    /v1/wat                → single match for ?q=
//	GET    /v1/inline             → ranked page for ?q=
//	GET    /v1/me                 → caller's standing
//	GET    /v1/stats              → usage stats          (owner)
//	GET    /v1/wats               → list catalog         (owner)
//	POST   /v1/wats               → add image            (owner)
//	DELETE /v1/wats/{id}          → remove image         (owner)
//	PUT    /v1/wats/{id}/tags     → replace tags         (owner)
//	GET    /v1/whitelist          → list whitelist       (owner)
//	POST   /v1/whitelist          → whitelist a user     (owner)
//	DELETE /v1/whitelist/{id}     → remove a user        (owner)
//	GET    /health                → readiness
//	GET    /health/ready          → readiness (alias)
//	GET    /health/live           → liveness
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Timeout → handler
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	// Health (unauthenticated)
	mux.HandleFunc("GET /health", checker.Handler())
	mux.HandleFunc("GET /health/ready", checker.Handler())
	mux.HandleFunc("GET /health/live", health.LiveHandler())

	// Match API
	mux.HandleFunc("GET /v1/wat", h.Match)
	mux.HandleFunc("GET /v1/inline", h.Inline)
	mux.HandleFunc("GET /v1/me", h.Me)
	mux.HandleFunc("GET /v1/stats", h.Stats)

	// Catalog admin
	mux.HandleFunc("GET /v1/wats", h.ListWATs)
	mux.HandleFunc("POST /v1/wats", h.CreateWAT)
	mux.HandleFunc("DELETE /v1/wats/{id}", h.DeleteWAT)
	mux.HandleFunc("PUT /v1/wats/{id}/tags", h.SetWATTags)

	// Whitelist admin
	mux.HandleFunc("GET /v1/whitelist", h.ListWhitelist)
	mux.HandleFunc("POST /v1/whitelist", h.AddWhitelist)
	mux.HandleFunc("DELETE /v1/whitelist/{id}", h.RemoveWhitelist)

	var chain http.Handler = mux
	if requestTimeout > 0 {
		chain = middleware.Timeout(requestTimeout)(chain)
	}
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.CORS(chain)
	chain = middleware.RequestID(chain)

	return chain
}
