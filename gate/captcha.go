// proof-of-human/gate/captcha.go
package gate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/Asyncod/proof-of-human/config"
	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/platform"
	"github.com/Asyncod/proof-of-human/utils"
)

// Action identifiers round-trip through the platform as
// "captcha:verify:{token}:{userId}:{chatId}", exactly five colon-delimited
// fields. The token is what carries the secret: wrong buttons embed
// independent random tokens that never validate, so pressing every button
// does not reveal the answer.
const (
	actionPrefix     = "captcha"
	actionKindVerify = "verify"
)

var errMalformedAction = errors.New("malformed action identifier")

// verifyActionData encodes an option's action identifier.
func verifyActionData(token string, userID, chatID int64) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d", actionPrefix, actionKindVerify, token, userID, chatID)
}

// parseVerifyAction decodes an action identifier. Malformed input is a
// recoverable error, never a crash.
func parseVerifyAction(data string) (token string, userID, chatID int64, err error) {
	parts := strings.Split(data, ":")
	if len(parts) != 5 || parts[0] != actionPrefix || parts[1] != actionKindVerify {
		return "", 0, 0, errMalformedAction
	}
	userID, err = strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", 0, 0, errMalformedAction
	}
	chatID, err = strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return "", 0, 0, errMalformedAction
	}
	return parts[2], userID, chatID, nil
}

// randIndex picks a uniform index below n from the crypto source.
func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// sampleSymbols draws k distinct symbols uniformly without replacement.
func sampleSymbols(k int) ([]string, error) {
	pool := make([]string, len(config.Symbols))
	copy(pool, config.Symbols)
	for i := 0; i < k; i++ {
		j, err := randIndex(len(pool) - i)
		if err != nil {
			return nil, err
		}
		pool[i], pool[i+j] = pool[i+j], pool[i]
	}
	return pool[:k], nil
}

// shuffleSymbols randomizes display order so the correct option's position
// is unpredictable.
func shuffleSymbols(symbols []string) error {
	for i := len(symbols) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return err
		}
		symbols[i], symbols[j] = symbols[j], symbols[i]
	}
	return nil
}

var prompts = []string{
	"Tap %s.",
	"Find %s.",
	"Press the button with %s.",
	"Pick %s.",
}

// Issue generates and sends a fresh challenge for the message's sender,
// replacing any stale record for the pair. It reports false without error
// when the chat has the gate disabled. Persistence failure is
// non-recoverable and propagates.
func (s *Service) Issue(ctx context.Context, msg models.Message) (bool, error) {
	chat, err := s.db.GetChat(msg.ChatID)
	if err != nil {
		return false, err
	}
	if chat == nil {
		chat, err = s.db.AddChat(msg.ChatID, chatTitle(msg.ChatKind, msg.ChatTitle, msg.ChatID),
			int(s.cfg.ChallengeTimeout.Seconds()), s.cfg.MaxAttempts)
		if err != nil {
			return false, fmt.Errorf("failed to create chat record: %w", err)
		}
	}
	if !chat.CaptchaEnabled {
		return false, nil
	}

	correctToken, err := utils.NewToken()
	if err != nil {
		return false, err
	}

	idx, err := randIndex(len(config.Symbols))
	if err != nil {
		return false, err
	}
	correct := config.Symbols[idx]

	shown, err := sampleSymbols(config.DisplayedOptions)
	if err != nil {
		return false, err
	}
	if !containsSymbol(shown, correct) {
		shown[0] = correct
	}
	if err := shuffleSymbols(shown); err != nil {
		return false, err
	}

	options := make([]platform.Option, 0, len(shown))
	for _, symbol := range shown {
		token := correctToken
		if symbol != correct {
			if token, err = utils.NewToken(); err != nil {
				return false, err
			}
		}
		options = append(options, platform.Option{
			Label:      symbol,
			ActionData: verifyActionData(token, msg.SenderID, msg.ChatID),
		})
	}

	promptIdx, err := randIndex(len(prompts))
	if err != nil {
		return false, err
	}
	description := config.SymbolNames[correct]
	if description == "" {
		description = correct
	}
	text := fmt.Sprintf("Verification required.\n"+prompts[promptIdx]+"\nYou have %d seconds.",
		description, chat.TimeoutSeconds)

	var photo []byte
	if s.cfg.PromptImages {
		photo, err = RenderPrompt(fmt.Sprintf(prompts[promptIdx], description))
		if err != nil {
			// The picture is a hardening measure, not a requirement.
			s.logger.Error("Failed to render prompt image, sending text", "error", err)
			photo = nil
		}
	}

	messageID, err := s.client.SendChallenge(ctx, msg.ChatID, msg.ID, text, photo, options)
	if errors.Is(err, platform.ErrForbidden) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to send challenge: %w", err)
	}

	expiresAt := utils.FormatTimestamp(utils.GetTime().Add(time.Duration(chat.TimeoutSeconds) * time.Second))
	if _, err := s.db.PutChallenge(models.Challenge{
		UserID:        msg.SenderID,
		ChatID:        msg.ChatID,
		ExpiresAt:     expiresAt,
		Payload:       correctToken,
		MessageID:     messageID,
		CorrectSymbol: correct,
		UserMessageID: msg.ID,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func containsSymbol(symbols []string, s string) bool {
	for _, candidate := range symbols {
		if candidate == s {
			return true
		}
	}
	return false
}

// chatTitle produces a safe display title for a chat record.
func chatTitle(kind models.ChatKind, title string, chatID int64) string {
	if kind == models.ChatPrivate {
		return fmt.Sprintf("Private Chat %d", chatID)
	}
	if title != "" {
		return title
	}
	return fmt.Sprintf("Chat %d", chatID)
}
