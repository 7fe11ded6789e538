// proof-of-human/handlers/webhook.go
package handlers

import (
	"io"
	"net/http"

	"github.com/Asyncod/proof-of-human/gate"
	"github.com/Asyncod/proof-of-human/platform"
)

// maxUpdateBytes bounds one webhook body; real updates are far smaller.
const maxUpdateBytes = 1 << 20

// HandleWebhook ingests one platform update. The response is 200 for every
// processed or ignored update: a non-200 makes the platform redeliver, and
// redelivery cannot fix a semantic problem.
func HandleWebhook(w http.ResponseWriter, r *http.Request, app App) {
	if !checkWebhookSecret(r, app.WebhookSecret()) {
		app.Logger().Warn("Rejected webhook delivery with bad secret", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	event, err := platform.DecodeUpdate(body)
	if err != nil {
		app.Logger().Error("Failed to decode update", "error", err)
		// Still 200: a malformed body will not improve on retry.
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"}, app)
		return
	}

	ctx := r.Context()
	switch ev := event.(type) {
	case platform.MessageEvent:
		decision := app.Gate().Admit(ctx, ev.Message)
		if decision == gate.Pass {
			app.Gate().HandleMessage(ctx, ev.Message)
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": decision.String()}, app)

	case platform.ActionEvent:
		app.Gate().HandleAction(ctx, ev.Action)
		respondJSON(w, http.StatusOK, map[string]string{"status": "handled"}, app)

	case platform.MemberChangeEvent:
		app.Gate().HandleMemberEvent(ctx, ev.Change)
		respondJSON(w, http.StatusOK, map[string]string{"status": "handled"}, app)

	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"}, app)
	}
}
