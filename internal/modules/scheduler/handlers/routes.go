package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trader session routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trader/{sessionID}", func(r chi.Router) {
		r.Post("/start", h.HandleStart)
		r.Post("/stop", h.HandleStop)
		r.Post("/toggle-dry-run", h.HandleToggleDryRun)
		r.Post("/interval", h.HandleSetInterval)
		r.Post("/rebalance", h.HandleRebalance)
		r.Get("/status", h.HandleStatus)
		r.Get("/history", h.HandleHistory)
	})
}
