// proof-of-human/gate/evaluate.go
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/platform"
	"github.com/Asyncod/proof-of-human/utils"
)

// Verdict classifies one challenge-response evaluation.
type Verdict int

const (
	Correct Verdict = iota
	WrongRemaining
	LockedOut
	NotFound
	Expired
)

func (v Verdict) String() string {
	switch v {
	case Correct:
		return "correct"
	case WrongRemaining:
		return "wrong_remaining"
	case LockedOut:
		return "locked_out"
	case NotFound:
		return "not_found"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Result is the outcome of evaluating a presented token.
type Result struct {
	Verdict   Verdict
	Remaining int // attempts left, meaningful for WrongRemaining only
}

// Evaluate runs the challenge-response state machine for one presented
// token. The whole read-decide-act sequence holds the pair lock, so two
// simultaneous answers for the same key serialize.
func (s *Service) Evaluate(ctx context.Context, userID, chatID int64, token string) (Result, error) {
	unlock := s.db.LockPair(userID, chatID)
	defer unlock()

	challenge, err := s.db.GetChallenge(userID, chatID)
	if err != nil {
		return Result{}, err
	}
	if challenge == nil {
		return Result{Verdict: NotFound}, nil
	}

	if utils.IsExpired(challenge.ExpiresAt) {
		s.deleteMessage(ctx, chatID, challenge.MessageID)
		if err := s.db.DeleteChallenge(userID, chatID); err != nil {
			return Result{}, err
		}
		return Result{Verdict: Expired}, nil
	}

	if utils.TokensEqual(token, challenge.Payload) {
		if err := s.db.DeleteChallenge(userID, chatID); err != nil {
			return Result{}, err
		}
		if err := s.db.PromoteUser(userID); err != nil {
			return Result{}, err
		}
		s.deleteMessage(ctx, chatID, challenge.MessageID)
		s.limiter.Reset(userID, chatID)
		return Result{Verdict: Correct}, nil
	}

	updated, err := s.db.IncrementChallengeAttempts(userID, chatID)
	if err != nil {
		return Result{}, err
	}
	if updated == nil {
		// The sweeper won the race; treat as gone.
		return Result{Verdict: NotFound}, nil
	}

	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return Result{}, err
	}
	if chat == nil {
		return Result{}, fmt.Errorf("chat %d missing while evaluating challenge", chatID)
	}

	remaining := chat.MaxAttempts - updated.Attempts
	if remaining > 0 {
		return Result{Verdict: WrongRemaining, Remaining: remaining}, nil
	}

	// Lockout removes the prompt and the stored original message; the
	// record reference exists precisely for this cleanup.
	s.deleteMessage(ctx, chatID, updated.MessageID)
	if updated.UserMessageID != 0 {
		s.deleteMessage(ctx, chatID, updated.UserMessageID)
	}
	if err := s.db.DeleteChallenge(userID, chatID); err != nil {
		return Result{}, err
	}
	return Result{Verdict: LockedOut}, nil
}

// deleteMessage is the best-effort platform delete: the resource may already
// be gone, or the bot may have lost rights; neither stops the caller.
func (s *Service) deleteMessage(ctx context.Context, chatID, messageID int64) {
	err := s.client.DeleteMessage(ctx, chatID, messageID)
	if err == nil || errors.Is(err, platform.ErrNotFound) || errors.Is(err, platform.ErrForbidden) {
		return
	}
	s.logger.Error("Error deleting message", "chat_id", chatID, "message_id", messageID, "error", err)
}

// HandleAction processes a challenge button press end to end: identifier
// parsing, ownership check, throttling, evaluation, and the user-visible
// acknowledgement.
func (s *Service) HandleAction(ctx context.Context, press models.ActionPress) {
	logger := s.logger.With("component", "evaluator", "query_id", press.QueryID)

	token, userID, chatID, err := parseVerifyAction(press.Data)
	if err != nil {
		logger.Error("Rejected malformed action identifier", "data", press.Data)
		s.answer(ctx, press.QueryID, "Invalid action data.", true)
		return
	}

	if press.SenderID != userID {
		s.answer(ctx, press.QueryID, "This challenge is not for you.", true)
		return
	}

	if !s.limiter.Allow(userID, chatID) {
		s.answer(ctx, press.QueryID, "Too many attempts, slow down.", true)
		return
	}

	result, err := s.Evaluate(ctx, userID, chatID, token)
	if err != nil {
		logger.Error("Evaluation failed", "chat_id", chatID, "user_id", userID, "error", err)
		s.answer(ctx, press.QueryID, "Challenge error, try again.", true)
		return
	}

	switch result.Verdict {
	case Correct:
		s.answer(ctx, press.QueryID, "Verification passed!", false)
	case WrongRemaining:
		s.answer(ctx, press.QueryID, fmt.Sprintf("Wrong! Attempts remaining: %d", result.Remaining), false)
	case LockedOut:
		s.answer(ctx, press.QueryID, "Attempt limit exceeded.", true)
	case Expired:
		s.answer(ctx, press.QueryID, "Challenge expired.", true)
	case NotFound:
		s.answer(ctx, press.QueryID, "Challenge not found.", true)
	}
	logger.Info("Challenge evaluated", "chat_id", chatID, "user_id", userID, "verdict", result.Verdict.String())
}

// answer acknowledges a press; a failed acknowledgement is log-only.
func (s *Service) answer(ctx context.Context, queryID, text string, alert bool) {
	if err := s.client.AnswerAction(ctx, queryID, text, alert); err != nil && !errors.Is(err, platform.ErrForbidden) {
		s.logger.Error("Failed to answer action", "query_id", queryID, "error", err)
	}
}
