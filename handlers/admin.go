// proof-of-human/handlers/admin.go
package handlers

import (
	"net/http"

	"github.com/Asyncod/proof-of-human/config"
)

// HandleHealth is the liveness probe.
func HandleHealth(w http.ResponseWriter, r *http.Request, app App) {
	if err := app.DB().DB.Ping(); err != nil {
		app.Logger().Error("Health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": config.AppVersion}, app)
}

// HandleStats reports the aggregate counters.
func HandleStats(w http.ResponseWriter, r *http.Request, app App) {
	users, err := app.DB().CountUsers()
	if err != nil {
		app.Logger().Error("Failed to count users", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	verified, err := app.DB().CountVerifiedUsers()
	if err != nil {
		app.Logger().Error("Failed to count verified users", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	chats, err := app.DB().CountChats()
	if err != nil {
		app.Logger().Error("Failed to count chats", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	pending, err := app.DB().CountChallenges()
	if err != nil {
		app.Logger().Error("Failed to count challenges", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"users":              users,
		"verified_users":     verified,
		"chats":              chats,
		"pending_challenges": pending,
		"version":            config.AppVersion,
	}, app)
}

// HandleExport snapshots the database into the configured storage backend.
func HandleExport(w http.ResponseWriter, r *http.Request, app App) {
	name, err := app.DB().ExportDatabase(app.Storage())
	if err != nil {
		app.Logger().Error("Database export failed", "error", err)
		http.Error(w, "Export failed", http.StatusInternalServerError)
		return
	}
	app.Logger().Info("Database exported", "name", name)
	respondJSON(w, http.StatusOK, map[string]string{"status": "exported", "name": name}, app)
}
