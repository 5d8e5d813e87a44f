package reports

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers report routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/billing/reports", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/reconcile", h.Reconcile)
		r.Post("/sweep", h.Sweep)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/file", h.MarkDone)
		r.Post("/{id}/cancel", h.Cancel)
		r.Post("/{id}/reopen", h.Reopen)
	})
}
