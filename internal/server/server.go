package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Devdeo/devv/internal/config"
	"github.com/Devdeo/devv/internal/metrics"
	"github.com/Devdeo/devv/internal/middleware"
	"github.com/Devdeo/devv/internal/routes"
)

type Options struct {
	Deps     *routes.Deps
	Metrics  *metrics.Metrics
	Limiter  *middleware.Limiter
	CORSFile string
}

// Handler builds the router. Health and metrics sit outside the rate limit
// so probes and scrapers never get throttled.
func Handler(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(metrics.RequestMiddleware(opts.Metrics))
	r.Use(securityHeaders)
	r.Use(middleware.LoadCORS(opts.CORSFile))

	d := opts.Deps
	routes.CoreRoutes(r, d)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler(func() metrics.Gauges {
			timers, hashes := d.Pipeline.Stats()
			return metrics.Gauges{
				ActiveSessions: d.Supervisor.ActiveCount(),
				PendingTimers:  timers,
				IndexedHashes:  hashes,
			}
		}))
	}

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Handler)
		}
		routes.UploadRoutes(r, d)
		routes.StreamRoutes(r, d)
		if d.Market != nil {
			routes.MarketRoutes(r, d)
		}
	})

	return r
}

func New(opts Options) *http.Server {
	return &http.Server{
		Addr:              ":" + config.Port,
		Handler:           Handler(opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func PrintBanner() {
	fmt.Printf(`
  ┌──────────────────────────────────┐
  │         relayd %s          │
  │   upload + live relay server     │
  └──────────────────────────────────┘
`, padVersion(config.Version))
}

func padVersion(v string) string {
	for len(v) < 12 {
		v += " "
	}
	return v
}
