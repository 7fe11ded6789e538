// proof-of-human/gate/events.go
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/platform"
	"github.com/Asyncod/proof-of-human/utils"
)

// HandleMemberEvent reacts to one tagged membership transition. All platform
// sends here are notifications: failures are logged and swallowed, they
// never affect stored state.
func (s *Service) HandleMemberEvent(ctx context.Context, ev models.MemberEvent) {
	logger := s.logger.With("component", "members", "chat_id", ev.ChatID, "transition", string(ev.Transition))

	switch ev.Transition {
	case models.BotAdded:
		if _, err := s.db.AddChat(ev.ChatID, chatTitle(ev.ChatKind, ev.ChatTitle, ev.ChatID),
			int(s.cfg.ChallengeTimeout.Seconds()), s.cfg.MaxAttempts); err != nil {
			logger.Error("Failed to create chat record", "error", err)
		}

		s.promoteAddingAdmin(ctx, ev)

		link := "no public link"
		if ev.ChatUsername != "" {
			link = "https://t.me/" + ev.ChatUsername
		}
		s.notifyOwner(ctx, fmt.Sprintf(
			"Bot added to chat\nChat ID: %d\nTitle: %s\nType: %s\nLink: %s\nDate: %s",
			ev.ChatID, ev.ChatTitle, ev.ChatKind, link, ev.At))
		s.notifyChat(ctx, ev.ChatID,
			"Hi! I protect this chat from spam.\nNew members must pass verification before their messages flow.\nSend /settings to configure me.")

	case models.BotReturned:
		existing, err := s.db.GetChat(ev.ChatID)
		if err != nil {
			logger.Error("Failed to load chat record", "error", err)
		}
		if existing == nil {
			if _, err := s.db.AddChat(ev.ChatID, chatTitle(ev.ChatKind, ev.ChatTitle, ev.ChatID),
				int(s.cfg.ChallengeTimeout.Seconds()), s.cfg.MaxAttempts); err != nil {
				logger.Error("Failed to re-create chat record", "error", err)
			}
		}
		s.notifyOwner(ctx, fmt.Sprintf(
			"Bot returned to chat\nChat ID: %d\nTitle: %s\nDate: %s\nSettings preserved.",
			ev.ChatID, ev.ChatTitle, ev.At))
		s.notifyChat(ctx, ev.ChatID, "I'm back! All settings were preserved.")

	case models.BotRemoved:
		// Settings stay in the database in case the bot returns.
		s.notifyOwner(ctx, fmt.Sprintf(
			"Bot removed from chat\nChat ID: %d\nTitle: %s\nDate: %s\nSettings preserved in database.",
			ev.ChatID, ev.ChatTitle, ev.At))

	case models.UserAdded:
		if ev.ActorIsBot {
			return
		}
		if _, err := s.db.AddUser(ev.ActorID, ev.ActorUsername, ev.ActorName,
			utils.FormatTimestamp(utils.GetTime()), ev.ActorLanguage); err != nil {
			logger.Error("Failed to record joining user", "user_id", ev.ActorID, "error", err)
		}

	default:
		logger.Warn("Ignoring unknown member transition")
	}
}

// promoteAddingAdmin marks whoever added the bot as verified when they hold
// admin rights in the chat.
func (s *Service) promoteAddingAdmin(ctx context.Context, ev models.MemberEvent) {
	if ev.ActorID == 0 {
		return
	}

	status, err := s.client.GetMemberStatus(ctx, ev.ChatID, ev.ActorID)
	if errors.Is(err, platform.ErrForbidden) {
		return
	}
	if err != nil {
		s.logger.Error("Error checking adder admin status", "chat_id", ev.ChatID, "user_id", ev.ActorID, "error", err)
		return
	}
	if !status.IsAdmin() {
		return
	}

	if _, err := s.db.AddUser(ev.ActorID, ev.ActorUsername, ev.ActorName,
		utils.FormatTimestamp(utils.GetTime()), ev.ActorLanguage); err != nil {
		s.logger.Error("Failed to record adding admin", "user_id", ev.ActorID, "error", err)
		return
	}
	if err := s.db.PromoteUser(ev.ActorID); err != nil {
		s.logger.Error("Failed to promote adding admin", "user_id", ev.ActorID, "error", err)
	}
}

// notifyOwner sends a status notice to the configured owner, best-effort.
func (s *Service) notifyOwner(ctx context.Context, text string) {
	if s.cfg.OwnerID == 0 {
		return
	}
	if _, err := s.client.SendMessage(ctx, s.cfg.OwnerID, text); err != nil {
		s.logger.Error("Failed to notify owner", "error", err)
	}
}

// notifyChat sends a notice into a chat, tolerating revoked access.
func (s *Service) notifyChat(ctx context.Context, chatID int64, text string) {
	_, err := s.client.SendMessage(ctx, chatID, text)
	if err != nil && !errors.Is(err, platform.ErrForbidden) {
		s.logger.Error("Failed to send chat notice", "chat_id", chatID, "error", err)
	}
}
