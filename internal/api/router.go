package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Post("/webhooks/orders", h.ReceiveWebhook)
	r.Get("/links/{sourceId}", h.GetLink)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/dead-letters", h.ListDeadLetters)
		r.Post("/dead-letters/{id}/replay", h.ReplayDeadLetter)
		r.Get("/strategies", h.ListStrategies)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
