package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Probe reports one optional dependency on /healthz. Everything behind a
// probe is best effort, so a degraded one is listed without failing the check.
type Probe struct {
	Name   string
	Health func() (state string, healthy bool)
}

// NewRouter builds the base router. metrics may be nil.
func NewRouter(metrics http.Handler, probes ...Probe) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(traceID)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("ok")
		for _, p := range probes {
			if state, healthy := p.Health(); !healthy {
				b.WriteString("\ndegraded " + p.Name + ": " + state)
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(b.String()))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// traceID carries the request id into published events.
func traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(orders.WithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
