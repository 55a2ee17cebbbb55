// Package httptransport composes the public HTTP surface. Handlers stay thin
// and delegate to domain services; cross-cutting concerns live in middleware.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	certhandler "skern/internal/certificate/handler"
	taghandler "skern/internal/tag/handler"
	verifyhandler "skern/internal/verification/handler"
	"skern/pkg/platform/middleware/issuer"
	"skern/pkg/platform/middleware/requestid"
	"skern/pkg/platform/middleware/requesttime"
)

// Deps carries the wired handlers and the health probes the router exposes.
type Deps struct {
	Verification *verifyhandler.Handler
	Certificates *certhandler.Handler
	Tags         *taghandler.Handler
	IssuerToken  string
	Logger       *slog.Logger

	// HealthChecks run on /healthz; a name maps to its probe.
	HealthChecks map[string]func() error
}

// NewRouter mounts all public endpoints. Issuance routes sit behind the
// issuer token; everything else is open to scanning clients.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", healthHandler(deps.HealthChecks, deps.Logger))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		deps.Verification.Register(r)
		deps.Certificates.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(issuer.RequireToken(deps.IssuerToken, deps.Logger))
		deps.Tags.Register(r)
	})

	return r
}

func healthHandler(checks map[string]func() error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for name, check := range checks {
			if err := check(); err != nil {
				logger.ErrorContext(r.Context(), "health check failed",
					"check", name,
					"error", err,
				)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
