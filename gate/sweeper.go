// proof-of-human/gate/sweeper.go
package gate

import (
	"context"
	"time"

	"github.com/Asyncod/proof-of-human/config"
	"github.com/Asyncod/proof-of-human/utils"
)

// RunSweeper reaps expired challenges until the context is cancelled. It is
// restartable: a fresh call picks up wherever the store is. Between cycles
// it sleeps the configured interval, polling cancellation at one-second
// granularity so shutdown stays prompt.
func (s *Service) RunSweeper(ctx context.Context) {
	logger := s.logger.With("component", "sweeper")
	logger.Info("Expiry sweeper started", "interval", config.SweepInterval.String())

	for {
		s.sweepOnce(ctx)

		for slept := time.Duration(0); slept < config.SweepInterval; slept += config.SweepPollStep {
			select {
			case <-ctx.Done():
				logger.Info("Expiry sweeper stopped")
				return
			case <-time.After(config.SweepPollStep):
			}
		}
	}
}

// sweepOnce reclaims everything expired as of now. Message deletes are
// best-effort; the record delete is the authoritative state transition and
// always happens last, so a cancelled cycle never leaves a half-deleted
// record.
func (s *Service) sweepOnce(ctx context.Context) {
	logger := s.logger.With("component", "sweeper")

	expired, err := s.db.ExpiredChallenges(utils.FormatTimestamp(utils.GetTime()))
	if err != nil {
		logger.Error("Error listing expired challenges", "error", err)
		return
	}

	for _, challenge := range expired {
		if ctx.Err() != nil {
			return
		}

		s.deleteMessage(ctx, challenge.ChatID, challenge.MessageID)
		if challenge.UserMessageID != 0 {
			s.deleteMessage(ctx, challenge.ChatID, challenge.UserMessageID)
		}

		if err := s.db.DeleteChallenge(challenge.UserID, challenge.ChatID); err != nil {
			logger.Error("Error deleting expired challenge record",
				"chat_id", challenge.ChatID, "user_id", challenge.UserID, "error", err)
			continue
		}
		logger.Info("Reaped expired challenge", "chat_id", challenge.ChatID, "user_id", challenge.UserID)
	}
}
