// proof-of-human/gate/commands.go
package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Asyncod/proof-of-human/config"
	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/platform"
	"github.com/Asyncod/proof-of-human/utils"
)

// HandleMessage consumes a message the gate has already admitted. It only
// acts on known commands; everything else is left to the chat.
func (s *Service) HandleMessage(ctx context.Context, msg models.Message) {
	text := strings.TrimSpace(msg.Text)
	cmd, args := splitCommand(text, s.cfg.BotUsername)

	switch cmd {
	case "/start":
		s.handleStart(ctx, msg)
	case "/settings":
		s.handleSettings(ctx, msg, args)
	case "/stats":
		s.handleStats(ctx, msg)
	}
}

// splitCommand extracts the leading slash command, stripping an @botname
// suffix, and returns the remaining argument words.
func splitCommand(text, botUsername string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd := fields[0]
	if at := strings.Index(cmd, "@"); at >= 0 {
		if botUsername != "" && !strings.EqualFold(cmd[at+1:], botUsername) {
			return "", nil
		}
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

func (s *Service) handleStart(ctx context.Context, msg models.Message) {
	if msg.ChatKind != models.ChatPrivate {
		return
	}

	if !msg.SenderIsBot {
		if _, err := s.db.AddUser(msg.SenderID, msg.SenderUsername, msg.SenderName,
			utils.FormatTimestamp(utils.GetTime()), msg.SenderLanguage); err != nil {
			s.logger.Error("Failed to record user on start", "user_id", msg.SenderID, "error", err)
		}
	}

	intro := "Hi! I protect group chats from spam.\n" +
		"Add me to a group and grant me admin rights: new members will have to pass " +
		"a quick verification before their messages go through.\n" +
		"Group admins can tune me with /settings inside the group."
	if msg.SenderID == s.cfg.OwnerID {
		intro += "\n\nOwner commands: /stats"
	}
	s.notifyChat(ctx, msg.ChatID, intro)
}

func (s *Service) handleSettings(ctx context.Context, msg models.Message, args []string) {
	if msg.ChatKind == models.ChatPrivate {
		s.notifyChat(ctx, msg.ChatID, "Settings are configured inside a group: send /settings there.")
		return
	}

	status, err := s.client.GetMemberStatus(ctx, msg.ChatID, msg.SenderID)
	if err != nil {
		if !errors.Is(err, platform.ErrForbidden) {
			s.logger.Error("Error checking settings caller", "chat_id", msg.ChatID, "user_id", msg.SenderID, "error", err)
		}
		return
	}
	if !status.IsAdmin() {
		s.notifyChat(ctx, msg.ChatID, "Only chat administrators can change my settings.")
		return
	}

	chat, err := s.db.AddChat(msg.ChatID, chatTitle(msg.ChatKind, msg.ChatTitle, msg.ChatID),
		int(s.cfg.ChallengeTimeout.Seconds()), s.cfg.MaxAttempts)
	if err != nil {
		s.logger.Error("Failed to load chat for settings", "chat_id", msg.ChatID, "error", err)
		return
	}

	if len(args) == 0 {
		s.notifyChat(ctx, msg.ChatID, settingsSummary(chat))
		return
	}
	s.applySetting(ctx, msg.ChatID, chat, args)
}

// applySetting mutates exactly one chat setting. Each mutable field has its
// own dedicated store call; there is no generic field update.
func (s *Service) applySetting(ctx context.Context, chatID int64, chat *models.Chat, args []string) {
	key := strings.ToLower(args[0])
	value := ""
	if len(args) > 1 {
		value = strings.ToLower(args[1])
	}

	switch key {
	case "captcha":
		enabled := value == "on"
		if !enabled && value != "off" {
			s.notifyChat(ctx, chatID, "Usage: /settings captcha on|off")
			return
		}
		if err := s.db.SetChatCaptchaEnabled(chatID, enabled); err != nil {
			s.logger.Error("Failed to toggle captcha", "chat_id", chatID, "error", err)
			return
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		s.notifyChat(ctx, chatID, "Verification is now "+state+".")

	case "timeout":
		secs, err := strconv.Atoi(value)
		if err != nil || !containsTimeout(secs) {
			s.notifyChat(ctx, chatID, "Usage: /settings timeout "+timeoutChoices())
			return
		}
		if err := s.db.SetChatTimeout(chatID, secs); err != nil {
			s.logger.Error("Failed to set timeout", "chat_id", chatID, "error", err)
			return
		}
		s.notifyChat(ctx, chatID, fmt.Sprintf("Challenge timeout set to %d seconds.", secs))

	case "attempts":
		n, err := strconv.Atoi(value)
		if err != nil || !containsInt(config.MaxAttemptOptions, n) {
			s.notifyChat(ctx, chatID, "Usage: /settings attempts "+joinInts(config.MaxAttemptOptions))
			return
		}
		if err := s.db.SetChatMaxAttempts(chatID, n); err != nil {
			s.logger.Error("Failed to set max attempts", "chat_id", chatID, "error", err)
			return
		}
		s.notifyChat(ctx, chatID, fmt.Sprintf("Attempt limit set to %d.", n))

	default:
		s.notifyChat(ctx, chatID, settingsSummary(chat))
	}
}

func settingsSummary(chat *models.Chat) string {
	state := "off"
	if chat.CaptchaEnabled {
		state = "on"
	}
	return fmt.Sprintf(
		"Current settings\nCaptcha: %s\nTimeout: %d seconds\nAttempts: %d\n\n"+
			"Change with:\n/settings captcha on|off\n/settings timeout %s\n/settings attempts %s",
		state, chat.TimeoutSeconds, chat.MaxAttempts,
		timeoutChoices(), joinInts(config.MaxAttemptOptions))
}

func (s *Service) handleStats(ctx context.Context, msg models.Message) {
	if msg.ChatKind != models.ChatPrivate || msg.SenderID != s.cfg.OwnerID || s.cfg.OwnerID == 0 {
		return
	}

	users, err := s.db.CountUsers()
	if err != nil {
		s.logger.Error("Failed to count users", "error", err)
		return
	}
	verified, err := s.db.CountVerifiedUsers()
	if err != nil {
		s.logger.Error("Failed to count verified users", "error", err)
		return
	}
	chats, err := s.db.CountChats()
	if err != nil {
		s.logger.Error("Failed to count chats", "error", err)
		return
	}
	pending, err := s.db.CountChallenges()
	if err != nil {
		s.logger.Error("Failed to count challenges", "error", err)
		return
	}

	s.notifyChat(ctx, msg.ChatID, fmt.Sprintf(
		"Bot statistics\nUsers: %d\nVerified: %d\nChats: %d\nPending challenges: %d",
		users, verified, chats, pending))
}

func containsInt(options []int, v int) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func containsTimeout(secs int) bool {
	for _, o := range config.TimeoutOptions {
		if int(o.Seconds()) == secs {
			return true
		}
	}
	return false
}

func timeoutChoices() string {
	parts := make([]string, len(config.TimeoutOptions))
	for i, o := range config.TimeoutOptions {
		parts[i] = strconv.Itoa(int(o.Seconds()))
	}
	return strings.Join(parts, "|")
}

func joinInts(options []int) string {
	parts := make([]string, len(options))
	for i, o := range options {
		parts[i] = strconv.Itoa(o)
	}
	return strings.Join(parts, "|")
}
