// proof-of-human/handlers/handlers.go

// Package handlers exposes the HTTP surface: the webhook ingest endpoint the
// platform delivers updates to, a health probe, and a token-guarded admin
// area for stats and database export.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Asyncod/proof-of-human/config"
	"github.com/Asyncod/proof-of-human/database"
	"github.com/Asyncod/proof-of-human/gate"
	"github.com/Asyncod/proof-of-human/models"
)

// App is the dependency set the handlers need.
type App interface {
	DB() *database.DatabaseService
	Gate() *gate.Service
	Storage() models.StorageService
	Logger() *slog.Logger
	Config() config.Config
	// WebhookSecret is the shared secret the platform echoes back on every
	// delivery; empty disables the check.
	WebhookSecret() string
	// AdminTokenHash is the bcrypt hash admin requests must match.
	AdminTokenHash() []byte
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload any, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// MakeHandler adapts an App-aware handler to http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}
