// Package httpapi assembles the gymdesk HTTP surface.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/httpx"
	"gymdesk/internal/membership"
	"gymdesk/internal/observability"
	"gymdesk/internal/payments"
	"gymdesk/internal/plans"
	"gymdesk/internal/reporting"
	"gymdesk/internal/staff"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the domain services behind the API.
type Services struct {
	Members    membership.Service
	Attendance attendance.Service
	Plans      plans.Service
	Payments   payments.Service
	Reports    reporting.Service
	Staff      *staff.Service
	Tokens     *staff.TokenManager
}

// Options configure the router's ambient behavior.
type Options struct {
	Location    *time.Location
	CORSOrigins []string
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	// Gatherer backs the metrics endpoint; nil disables it.
	Gatherer    prometheus.Gatherer
	MetricsPath string
	Health      Pinger
}

// NewRouter builds the chi router serving /api/v1, /healthz and metrics.
func NewRouter(svc Services, opts Options) http.Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog(opts.Logger))
	r.Use(instrument(opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors(opts.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, apperr.E(apperr.KindNotFound, "httpapi", "no such route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, httpx.ErrorEnvelope{Error: httpx.APIError{
			Code: "method_not_allowed", Message: "method not allowed",
		}})
	})

	r.Get("/healthz", healthz(opts.Health))
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	reports := reporting.NewHandler(svc.Reports)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", staff.NewHandler(svc.Staff).Mount)

		r.Group(func(r chi.Router) {
			r.Use(staff.Middleware(svc.Tokens))

			r.Route("/members", membership.NewHandler(svc.Members).Mount)
			r.Route("/attendance", func(r chi.Router) {
				attendance.NewHandler(svc.Attendance, opts.Location).Mount(r)
				r.Get("/stats/summary", reports.HandleTodaySummary)
				r.Get("/report/monthly", reports.HandleMonthlyReport)
			})
			r.Route("/plans", plans.NewHandler(svc.Plans).Mount)
			r.Route("/payments", payments.NewHandler(svc.Payments, opts.Location).Mount)
			r.Route("/dashboard", reports.Mount)
		})
	})
	return r
}

func healthz(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				httpx.WriteError(w, err)
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
