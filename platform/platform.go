// proof-of-human/platform/platform.go

// Package platform is the boundary to the messaging platform. The gate only
// ever talks to the Client interface; the concrete Bot API client lives in
// telegram.go and carries no gate logic.
package platform

import (
	"context"
	"errors"

	"github.com/Asyncod/proof-of-human/models"
)

var (
	// ErrForbidden means the bot was removed, blocked, or lacks rights.
	// Callers treat it as an expected steady-state condition: stop acting
	// on that chat for the current operation, no retry.
	ErrForbidden = errors.New("platform: forbidden")

	// ErrNotFound means the target resource (usually a message) is already
	// gone. Deletions are idempotent from the caller's perspective.
	ErrNotFound = errors.New("platform: not found")
)

// Option is one tappable challenge answer. ActionData round-trips through
// the platform and comes back on a button press.
type Option struct {
	Label      string
	ActionData string
}

// Client is everything the verification gate needs from the platform.
type Client interface {
	// SendChallenge renders the prompt with six tappable options, replying
	// to the triggering message, and returns the sent message id. A non-nil
	// photo is sent as a picture prompt with the text as caption.
	SendChallenge(ctx context.Context, chatID, replyTo int64, text string, photo []byte, options []Option) (int64, error)

	// DeleteMessage removes a message. Deleting an already-gone message
	// returns ErrNotFound, which callers may ignore.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// GetMemberStatus queries a member's live status in a chat.
	GetMemberStatus(ctx context.Context, chatID, userID int64) (models.MemberStatus, error)

	// SendMessage sends a plain notification and returns its message id.
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)

	// AnswerAction acknowledges a button press with a short notice.
	AnswerAction(ctx context.Context, queryID, text string, alert bool) error

	// BotID is the bot's own user id, used for the bot-is-admin check.
	BotID() int64
}
