// proof-of-human/gate/gate.go

// Package gate implements the verification gate: the decision state machine
// run on every inbound message, the challenge generator and evaluator, the
// membership event handling, and the expiry sweeper.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Asyncod/proof-of-human/config"
	"github.com/Asyncod/proof-of-human/database"
	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/platform"
	"github.com/Asyncod/proof-of-human/utils"
)

// Decision is the gate's verdict on one inbound message.
type Decision int

const (
	// Pass lets the message flow to downstream handlers.
	Pass Decision = iota
	// Drop silently discards the message.
	Drop
	// ChallengeIssued means the message was discarded and a fresh
	// challenge was sent to its sender.
	ChallengeIssued
)

func (d Decision) String() string {
	switch d {
	case Pass:
		return "pass"
	case Drop:
		return "drop"
	case ChallengeIssued:
		return "challenge_issued"
	default:
		return "unknown"
	}
}

// Service wires the gate's collaborators together. Every dependency arrives
// at construction; nothing is global.
type Service struct {
	db      *database.DatabaseService
	client  platform.Client
	limiter *models.RateLimiter
	cfg     config.Config
	logger  *slog.Logger
}

// New builds a gate service.
func New(db *database.DatabaseService, client platform.Client, limiter *models.RateLimiter, cfg config.Config, logger *slog.Logger) *Service {
	return &Service{
		db:      db,
		client:  client,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
	}
}

// isBootstrapCommand matches the two commands that must work even while the
// bot lacks admin rights, so owners can still configure it.
func isBootstrapCommand(text string) bool {
	return strings.HasPrefix(text, "/start") || strings.HasPrefix(text, "/settings")
}

// Admit decides the fate of one inbound message. Each step short-circuits;
// the order is load-bearing.
func (s *Service) Admit(ctx context.Context, msg models.Message) Decision {
	logger := s.logger.With("component", "gate", "chat_id", msg.ChatID, "user_id", msg.SenderID)

	// 1. Gating only applies to group contexts.
	if msg.ChatKind == models.ChatPrivate {
		return Pass
	}

	// 2. Without admin rights the bot cannot act on the chat; only the
	// bootstrap commands flow.
	botStatus, err := s.client.GetMemberStatus(ctx, msg.ChatID, s.client.BotID())
	switch {
	case errors.Is(err, platform.ErrForbidden):
		return Drop
	case err != nil:
		logger.Error("Error checking bot admin status", "error", err)
	case !botStatus.IsAdmin():
		if isBootstrapCommand(msg.Text) {
			return Pass
		}
		return Drop
	}

	// 3. Chat administrators are trusted implicitly; the status is checked
	// live, never cached, so demotions take effect immediately.
	senderStatus, err := s.client.GetMemberStatus(ctx, msg.ChatID, msg.SenderID)
	switch {
	case errors.Is(err, platform.ErrForbidden):
		return Drop
	case err != nil:
		logger.Error("Error checking sender admin status", "error", err)
	case senderStatus.IsAdmin():
		if err := s.ensureVerifiedUser(msg); err != nil {
			logger.Error("Failed to record admin as verified", "error", err)
		}
		return Pass
	}

	// 4. Anonymous channel senders, automatic forwards, and bot accounts
	// cannot be gated meaningfully.
	if msg.SenderChannel || msg.AutoForward || msg.SenderIsBot {
		return Pass
	}

	// 5. First sight creates the user unverified. Fail closed: an
	// unpersisted user never bypasses the gate.
	user, err := s.db.GetUser(msg.SenderID)
	if err != nil {
		logger.Error("Error loading user", "error", err)
		return Drop
	}
	if user == nil {
		user, err = s.db.AddUser(msg.SenderID, msg.SenderUsername, msg.SenderName,
			utils.FormatTimestamp(utils.GetTime()), msg.SenderLanguage)
		if err != nil {
			logger.Error("Failed to create user, dropping message", "error", err)
			return Drop
		}
	}

	// 6. Verified users flow freely.
	if user.Status == models.Verified {
		return Pass
	}

	// 7. A pending challenge means the user must resolve it first; an
	// expired one is replaced on the spot.
	pending, err := s.db.GetChallenge(msg.SenderID, msg.ChatID)
	if err != nil {
		logger.Error("Error loading challenge", "error", err)
		return Drop
	}
	if pending != nil {
		if utils.IsExpired(pending.ExpiresAt) {
			// The replacement record overwrites the old message id, so
			// the stale prompt is removed now.
			s.deleteMessage(ctx, msg.ChatID, pending.MessageID)
			return s.issueOrDrop(ctx, msg)
		}
		// Dropping alone leaves the message visible in the chat; it has
		// to be removed from the platform too.
		s.deleteMessage(ctx, msg.ChatID, msg.ID)
		return Drop
	}

	// 8. Unverified, unchallenged: issue.
	return s.issueOrDrop(ctx, msg)
}

// issueOrDrop delegates to the generator, throttled per pair so a message
// flood cannot turn into a challenge flood.
func (s *Service) issueOrDrop(ctx context.Context, msg models.Message) Decision {
	if !s.limiter.Allow(msg.SenderID, msg.ChatID) {
		s.logger.Warn("Challenge issue rate limited", "chat_id", msg.ChatID, "user_id", msg.SenderID)
		return Drop
	}

	issued, err := s.Issue(ctx, msg)
	if err != nil {
		s.logger.Error("Failed to issue challenge", "chat_id", msg.ChatID, "user_id", msg.SenderID, "error", err)
		return Drop
	}
	if !issued {
		return Drop
	}
	return ChallengeIssued
}

// ensureVerifiedUser records a live-confirmed administrator as verified,
// creating the record on first sight.
func (s *Service) ensureVerifiedUser(msg models.Message) error {
	user, err := s.db.GetUser(msg.SenderID)
	if err != nil {
		return err
	}
	if user == nil {
		if _, err := s.db.AddUser(msg.SenderID, msg.SenderUsername, msg.SenderName,
			utils.FormatTimestamp(utils.GetTime()), msg.SenderLanguage); err != nil {
			return err
		}
		return s.db.PromoteUser(msg.SenderID)
	}
	if user.Status != models.Verified {
		return s.db.PromoteUser(msg.SenderID)
	}
	return nil
}
