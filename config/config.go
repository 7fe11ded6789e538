// proof-of-human/config/config.go
package config

import "time"

const (
	AppVersion = "1.2.0"

	// Challenge Defaults
	DefaultChallengeTimeout = 30 * time.Second
	DefaultMaxAttempts      = 2
	DisplayedOptions        = 6

	// Sweeper
	SweepInterval = 10 * time.Second
	SweepPollStep = 1 * time.Second
	ShutdownGrace = 5 * time.Second

	// Domain Rate Limiting (challenge actions per user+chat pair)
	DefaultActionLimit  = 10
	DefaultActionWindow = 60 * time.Second

	// Webhook Ingest Rate Limiting Defaults
	DefaultIngestEvery  = "100ms"
	DefaultIngestBurst  = 30
	DefaultIngestPrune  = "1h"
	DefaultIngestExpire = "24h"
)

// TimeoutOptions are the challenge timeouts selectable from chat settings.
var TimeoutOptions = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second}

// MaxAttemptOptions are the wrong-attempt limits selectable from chat settings.
var MaxAttemptOptions = []int{1, 2, 3, 5}

// Symbols is the fixed option set challenges draw from. Its size must stay
// well above DisplayedOptions so decoy sampling never degenerates.
var Symbols = []string{
	"🍎", "🍊", "🍋", "🌶", "🐸", "🐹",
	"🐻", "🐼", "🐽", "🌺", "🌻", "🌼",
	"🌽", "🌾", "🌷", "⚡", "⭐", "💎", "💡",
	"🔥", "⚓", "🎁", "🎈", "🎉", "🎊", "🎯", "🎲",
}

// SymbolNames maps each symbol to the short description shown in the prompt,
// so the correct answer is named in words rather than repeated as a button.
var SymbolNames = map[string]string{
	"🍎": "the apple", "🍊": "the orange", "🍋": "the lemon", "🌶": "the pepper",
	"🐸": "the frog", "🐹": "the hamster", "🐻": "the bear", "🐼": "the panda",
	"🐽": "the pig nose", "🌺": "the hibiscus", "🌻": "the sunflower", "🌼": "the blossom",
	"🌽": "the corn", "🌾": "the rice ear", "🌷": "the tulip", "⚡": "the lightning bolt",
	"⭐": "the star", "💎": "the gem", "💡": "the light bulb", "🔥": "the fire",
	"⚓": "the anchor", "🎁": "the gift", "🎈": "the balloon", "🎉": "the party popper",
	"🎊": "the confetti ball", "🎯": "the dartboard", "🎲": "the die",
}

// Config carries the runtime settings every component receives explicitly at
// construction. There is no ambient global configuration.
type Config struct {
	BotToken    string
	BotUsername string
	OwnerID     int64

	ChallengeTimeout time.Duration
	MaxAttempts      int

	// PromptImages renders the challenge prompt as a picture instead of text.
	PromptImages bool
}

// Default returns a Config populated with compile-time defaults; callers
// overlay environment values on top.
func Default() Config {
	return Config{
		ChallengeTimeout: DefaultChallengeTimeout,
		MaxAttempts:      DefaultMaxAttempts,
	}
}
