/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, carried into the access log
  2. RequestLog: zap access log (observability.RequestLogger)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /healthz              Liveness + store ping
  /metrics              Prometheus scrape (when enabled)
  /api/properties/*     Property directory
  /api/tenants/*        Tenant directory
  /api/charges/*        Charges
  /api/payments/*       Payments (apply / reverse)
  /api/ledger           Running-balance ledger
  /api/reports/*        Summary report
  /api/scenarios/*      Demo scenarios
  /api/reset            Store reset (dev only)
  /*                    Static files (frontend)

STATIC FILE SERVING:
  When a static directory is configured and exists, serves the built app
  from it and falls back to index.html for client-side routing.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/rent-ledger/observability"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	Logger         *zap.Logger
	CORSOrigins    []string
	StaticDir      string
	MetricsHandler http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(observability.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/properties", func(r chi.Router) {
			r.Get("/", h.ListProperties)
			r.Post("/", h.CreateProperty)
		})

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Post("/", h.CreateTenant)
			r.Get("/{id}", h.GetTenant)
			r.Patch("/{id}", h.UpdateTenant)
		})

		r.Route("/charges", func(r chi.Router) {
			r.Get("/", h.ListCharges)
			r.Post("/", h.CreateCharge)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		r.Get("/ledger", h.GetLedger)
		r.Get("/reports/summary", h.GetReportSummary)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
		r.Post("/reset", h.ResetDatabase)
	})

	mountStatic(r, opts.StaticDir)

	return r
}

// mountStatic serves a built SPA from dir, or a plain index of the API
// when nothing is built there.
func mountStatic(r chi.Router, dir string) {
	if dir != "" {
		if _, err := os.Stat(dir); err == nil {
			fileServer := http.FileServer(http.Dir(dir))
			r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
				fullPath := filepath.Join(dir, filepath.Clean(req.URL.Path))
				if _, err := os.Stat(fullPath); os.IsNotExist(err) {
					// SPA routing: serve index.html
					http.ServeFile(w, req, filepath.Join(dir, "index.html"))
					return
				}
				fileServer.ServeHTTP(w, req)
			})
			return
		}
	}

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Rent Ledger</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Rent Ledger API</h1>
<p>No frontend build is configured (server.static_dir).</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/tenants">/api/tenants</a> - List tenants</li>
<li><a href="/api/charges">/api/charges</a> - List charges</li>
<li><a href="/api/payments">/api/payments</a> - List payments</li>
<li><a href="/api/ledger">/api/ledger</a> - Ledger for all tenants</li>
<li><a href="/api/reports/summary">/api/reports/summary</a> - Summary report</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
</ul>
</body>
</html>`))
	})
}
