package clients

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers client routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/clients", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Get("/{id}/line-items", h.ListLineItems)
		r.Post("/{id}/line-items", h.AddLineItem)
	})
}
