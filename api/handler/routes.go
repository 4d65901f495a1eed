package handler

import "github.com/go-chi/chi/v5"

// Routes mounts the API under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/version", h.Version)
		r.Get("/status", h.Status)
		r.Get("/history", h.History)
		r.Get("/site", h.Site)
		r.Post("/deploy", h.Deploy)
	})
}
