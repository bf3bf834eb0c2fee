package routes

import (
	"github.com/go-chi/chi/v5"

	"appregistry/internal/httpserver/deps"
)

func init() { Register(registerMetrics) }

func registerMetrics(r chi.Router, d deps.Deps) {
	r.Method("GET", "/metrics", d.Metrics.Handler())
}
