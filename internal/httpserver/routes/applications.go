package routes

import (
	"github.com/go-chi/chi/v5"

	"appregistry/internal/httpserver/deps"
	"appregistry/internal/httpserver/handlers"
)

func init() { Register(registerApplications) }

func registerApplications(r chi.Router, d deps.Deps) {
	r.Route("/applications", func(r chi.Router) {
		r.Post("/", handlers.CreateApplication(d))
		r.Get("/{id}", handlers.GetApplication(d))
		r.Patch("/{id}", handlers.PatchApplication(d))
	})
}
