package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accesshttp "github.com/mihaimyh/goaccess/middleware/http"
	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/api"
	"github.com/mihaimyh/goaccess/pkg/auth"
)

// routes is everything the HTTP surface needs
type routes struct {
	resolver    *access.Resolver
	verifier    *auth.Verifier
	api         *api.Handler
	webhook     http.Handler
	gatherer    prometheus.Gatherer
	pingers     map[string]pinger
	checkoutURL string
	trustProxy  bool
}

func (rt *routes) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if rt.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.health)
	r.Handle("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))

	r.Route("/functions/v1", func(r chi.Router) {
		r.Handle("/kiwify-webhook", rt.webhook)
		r.HandleFunc("/generate-soph-token", rt.api.GenerateToken)
		r.HandleFunc("/validate-soph-code", rt.api.ValidateCode)
	})

	r.Route("/api", func(r chi.Router) {
		r.HandleFunc("/access", rt.api.GetAccess)
		r.HandleFunc("/admin/subscriptions", rt.api.AdminSubscriptions)

		gate := accesshttp.Middleware(accesshttp.Config{
			Resolver:    rt.resolver,
			GetUser:     accesshttp.FromVerifier(rt.verifier),
			CheckoutURL: rt.checkoutURL,
		})
		r.With(gate).Get("/premium/*", rt.premium)
	})

	return r
}

// premium is the sample protected content behind the access gate
func (rt *routes) premium(w http.ResponseWriter, r *http.Request) {
	res, _ := accesshttp.ResolutionFromContext(r.Context())
	body := map[string]interface{}{
		"path":     chi.URLParam(r, "*"),
		"is_admin": res.IsAdmin,
	}
	if res.Subscription != nil {
		body["plano"] = res.Subscription.Plan
		body["data_expiracao"] = res.Subscription.ExpiresAt
	}
	writeJSON(w, http.StatusOK, body)
}

func (rt *routes) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(rt.pingers))
	status := http.StatusOK
	for name, p := range rt.pingers {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{"status": overall, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
