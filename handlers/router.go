// proof-of-human/handlers/router.go
package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRouter wires the HTTP surface.
func SetupRouter(app App, ingestEvery time.Duration, ingestBurst int, ingestPrune, ingestExpire time.Duration) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", MakeHandler(app, HandleHealth))

	ingest := NewIngestLimiter(ingestEvery, ingestBurst, ingestPrune, ingestExpire)
	mux.Route("/webhook", func(r chi.Router) {
		r.Use(ingest.Middleware)
		r.Post("/", MakeHandler(app, HandleWebhook))
	})

	mux.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdminToken(app))
		r.Get("/stats", MakeHandler(app, HandleStats))
		r.Post("/export", MakeHandler(app, HandleExport))
	})

	return mux
}
