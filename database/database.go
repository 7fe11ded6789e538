// proof-of-human/database/database.go
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/utils"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrInconsistent reports an insert that was acknowledged but whose read-back
// found nothing. Callers must treat it as fatal for the current operation:
// downstream logic depends on the write having truly happened.
var ErrInconsistent = errors.New("database inconsistency: row absent after insert")

// DatabaseService is the central struct for all database operations. It is
// the sole writer of Challenge state; other components never cache records
// across calls.
type DatabaseService struct {
	DB     *sql.DB
	logger *slog.Logger
	dsn    string

	// pairLocks serializes read-decide-write sequences on a single
	// (user, chat) challenge key. Cross-key operations do not contend.
	pairMu    sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// InitDB connects to the database and runs schema setup plus versioned
// migrations.
func InitDB(dataSourceName string, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Info("Database initialized", "dsn", dataSourceName)

	return &DatabaseService{
		DB:        db,
		logger:    logger,
		dsn:       dataSourceName,
		pairLocks: make(map[string]*sync.Mutex),
	}, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	for _, m := range allMigrations {
		if m.Version > latestVersion {
			logger.Info("Applying migration", "version", m.Version)
			tx, err := db.Begin()
			if err != nil {
				return err
			}

			if _, err := tx.Exec(m.Query); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.FormatTimestamp(utils.GetTime())); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}

			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
			}
		}
	}
	return nil
}

// LockPair acquires the application-level lock for one (user, chat) challenge
// key and returns the unlock function.
func (ds *DatabaseService) LockPair(userID, chatID int64) func() {
	key := fmt.Sprintf("%d:%d", userID, chatID)

	ds.pairMu.Lock()
	mu, ok := ds.pairLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		ds.pairLocks[key] = mu
	}
	ds.pairMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// --- Users ---

// GetUser fetches a user record, or nil when none exists.
func (ds *DatabaseService) GetUser(userID int64) (*models.User, error) {
	var u models.User
	err := ds.DB.QueryRow(
		"SELECT user_id, username, name, status, first_seen_at, language FROM users WHERE user_id = ?",
		userID,
	).Scan(&u.ID, &u.Username, &u.Name, &u.Status, &u.FirstSeenAt, &u.Language)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error getting user %d: %w", userID, err)
	}
	return &u, nil
}

// AddUser creates a user record with status unverified, tolerating a
// concurrent create of the same id, and returns the stored row. A missing
// read-back is ErrInconsistent.
func (ds *DatabaseService) AddUser(userID int64, username, name, firstSeenAt, language string) (*models.User, error) {
	_, err := ds.DB.Exec(
		"INSERT OR IGNORE INTO users (user_id, username, name, status, first_seen_at, language) VALUES (?, ?, ?, 0, ?, ?)",
		userID, username, name, firstSeenAt, language,
	)
	if err != nil {
		return nil, fmt.Errorf("db error adding user %d: %w", userID, err)
	}

	u, err := ds.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		ds.logger.Error("User absent after insert", "user_id", userID)
		return nil, fmt.Errorf("user %d: %w", userID, ErrInconsistent)
	}
	return u, nil
}

// PromoteUser flips a user's status to verified. Verification is one-way;
// there is deliberately no demotion counterpart.
func (ds *DatabaseService) PromoteUser(userID int64) error {
	_, err := ds.DB.Exec("UPDATE users SET status = 1 WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("db error promoting user %d: %w", userID, err)
	}
	return nil
}

// UpdateUserProfile refreshes the denormalized profile fields.
func (ds *DatabaseService) UpdateUserProfile(userID int64, username, name, language string) error {
	_, err := ds.DB.Exec(
		"UPDATE users SET username = ?, name = ?, language = ? WHERE user_id = ?",
		username, name, language, userID,
	)
	if err != nil {
		return fmt.Errorf("db error updating user %d profile: %w", userID, err)
	}
	return nil
}

// CountUsers returns the total number of known users.
func (ds *DatabaseService) CountUsers() (int, error) {
	var n int
	err := ds.DB.QueryRow("SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// CountVerifiedUsers returns the number of verified users.
func (ds *DatabaseService) CountVerifiedUsers() (int, error) {
	var n int
	err := ds.DB.QueryRow("SELECT COUNT(*) FROM users WHERE status = 1").Scan(&n)
	return n, err
}

// --- Chats ---

// GetChat fetches chat configuration, or nil when the chat is unknown.
func (ds *DatabaseService) GetChat(chatID int64) (*models.Chat, error) {
	var c models.Chat
	var enabled int
	err := ds.DB.QueryRow(
		"SELECT chat_id, title, captcha_enabled, timeout_seconds, max_attempts FROM chats WHERE chat_id = ?",
		chatID,
	).Scan(&c.ID, &c.Title, &enabled, &c.TimeoutSeconds, &c.MaxAttempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error getting chat %d: %w", chatID, err)
	}
	c.CaptchaEnabled = enabled != 0
	return &c, nil
}

// AddChat creates a chat record with the given defaults, returning the
// existing row if the chat is already known.
func (ds *DatabaseService) AddChat(chatID int64, title string, timeoutSeconds, maxAttempts int) (*models.Chat, error) {
	existing, err := ds.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	_, err = ds.DB.Exec(
		"INSERT OR IGNORE INTO chats (chat_id, title, captcha_enabled, timeout_seconds, max_attempts) VALUES (?, ?, 1, ?, ?)",
		chatID, title, timeoutSeconds, maxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("db error adding chat %d: %w", chatID, err)
	}

	c, err := ds.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		ds.logger.Error("Chat absent after insert", "chat_id", chatID)
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrInconsistent)
	}
	return c, nil
}

// The chat settings below are an enumerated set of typed updates, one per
// mutable field. There is no update-by-field-name entry point.

// SetChatTitle updates the denormalized chat title.
func (ds *DatabaseService) SetChatTitle(chatID int64, title string) error {
	_, err := ds.DB.Exec("UPDATE chats SET title = ? WHERE chat_id = ?", title, chatID)
	return err
}

// SetChatCaptchaEnabled toggles the gate for a chat.
func (ds *DatabaseService) SetChatCaptchaEnabled(chatID int64, enabled bool) error {
	_, err := ds.DB.Exec("UPDATE chats SET captcha_enabled = ? WHERE chat_id = ?", utils.BtoI(enabled), chatID)
	return err
}

// SetChatTimeout updates the challenge timeout in seconds.
func (ds *DatabaseService) SetChatTimeout(chatID int64, seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("invalid challenge timeout %d", seconds)
	}
	_, err := ds.DB.Exec("UPDATE chats SET timeout_seconds = ? WHERE chat_id = ?", seconds, chatID)
	return err
}

// SetChatMaxAttempts updates the wrong-attempt limit.
func (ds *DatabaseService) SetChatMaxAttempts(chatID int64, max int) error {
	if max <= 0 {
		return fmt.Errorf("invalid max attempts %d", max)
	}
	_, err := ds.DB.Exec("UPDATE chats SET max_attempts = ? WHERE chat_id = ?", max, chatID)
	return err
}

// CountChats returns the total number of known chats.
func (ds *DatabaseService) CountChats() (int, error) {
	var n int
	err := ds.DB.QueryRow("SELECT COUNT(*) FROM chats").Scan(&n)
	return n, err
}

// --- Challenges ---

// GetChallenge fetches the active challenge for a pair, or nil when none
// exists.
func (ds *DatabaseService) GetChallenge(userID, chatID int64) (*models.Challenge, error) {
	var c models.Challenge
	err := ds.DB.QueryRow(
		"SELECT user_id, chat_id, expires_at, payload, message_id, correct_symbol, user_message_id, attempts FROM challenges WHERE user_id = ? AND chat_id = ?",
		userID, chatID,
	).Scan(&c.UserID, &c.ChatID, &c.ExpiresAt, &c.Payload, &c.MessageID, &c.CorrectSymbol, &c.UserMessageID, &c.Attempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error getting challenge (%d,%d): %w", userID, chatID, err)
	}
	return &c, nil
}

// PutChallenge stores a challenge for a pair, replacing any stale record so
// the at-most-one invariant holds even across a reissue. A missing read-back
// is ErrInconsistent: this write is correctness-critical, not best-effort.
func (ds *DatabaseService) PutChallenge(c models.Challenge) (*models.Challenge, error) {
	_, err := ds.DB.Exec(
		"INSERT OR REPLACE INTO challenges (user_id, chat_id, expires_at, payload, message_id, correct_symbol, user_message_id, attempts) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.UserID, c.ChatID, c.ExpiresAt, c.Payload, c.MessageID, c.CorrectSymbol, c.UserMessageID, c.Attempts,
	)
	if err != nil {
		return nil, fmt.Errorf("db error storing challenge (%d,%d): %w", c.UserID, c.ChatID, err)
	}

	stored, err := ds.GetChallenge(c.UserID, c.ChatID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		ds.logger.Error("Challenge absent after insert", "user_id", c.UserID, "chat_id", c.ChatID)
		return nil, fmt.Errorf("challenge (%d,%d): %w", c.UserID, c.ChatID, ErrInconsistent)
	}
	return stored, nil
}

// DeleteChallenge removes the challenge for a pair. Deleting an absent
// record is not an error; the sweeper and the evaluator race benignly here.
func (ds *DatabaseService) DeleteChallenge(userID, chatID int64) error {
	_, err := ds.DB.Exec("DELETE FROM challenges WHERE user_id = ? AND chat_id = ?", userID, chatID)
	if err != nil {
		return fmt.Errorf("db error deleting challenge (%d,%d): %w", userID, chatID, err)
	}
	return nil
}

// IncrementChallengeAttempts bumps the attempt counter by exactly one and
// returns the updated record. The increment happens inside the database, so
// concurrent wrong answers cannot read the same pre-increment count.
func (ds *DatabaseService) IncrementChallengeAttempts(userID, chatID int64) (*models.Challenge, error) {
	_, err := ds.DB.Exec(
		"UPDATE challenges SET attempts = attempts + 1 WHERE user_id = ? AND chat_id = ?",
		userID, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("db error incrementing attempts (%d,%d): %w", userID, chatID, err)
	}
	return ds.GetChallenge(userID, chatID)
}

// ExpiredChallenges lists every challenge whose expiry lies before the given
// timestamp.
func (ds *DatabaseService) ExpiredChallenges(before string) ([]models.Challenge, error) {
	rows, err := ds.DB.Query(
		"SELECT user_id, chat_id, expires_at, payload, message_id, correct_symbol, user_message_id, attempts FROM challenges WHERE expires_at < ?",
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("db error listing expired challenges: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ExpiredChallenges", "error", err)
		}
	}()

	var expired []models.Challenge
	for rows.Next() {
		var c models.Challenge
		if err := rows.Scan(&c.UserID, &c.ChatID, &c.ExpiresAt, &c.Payload, &c.MessageID, &c.CorrectSymbol, &c.UserMessageID, &c.Attempts); err != nil {
			ds.logger.Error("Failed to scan expired challenge row", "error", err)
			continue
		}
		expired = append(expired, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expired, nil
}

// CountChallenges returns the number of active challenges.
func (ds *DatabaseService) CountChallenges() (int, error) {
	var n int
	err := ds.DB.QueryRow("SELECT COUNT(*) FROM challenges").Scan(&n)
	return n, err
}

// --- Export ---

// ExportDatabase snapshots the live database with VACUUM INTO and hands the
// bytes to the configured storage service.
func (ds *DatabaseService) ExportDatabase(storage models.StorageService) (string, error) {
	tmpDir, err := os.MkdirTemp("", "poh_export_*")
	if err != nil {
		return "", fmt.Errorf("could not create export staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			ds.logger.Error("Failed to remove export staging dir", "path", tmpDir, "error", err)
		}
	}()

	stagePath := filepath.Join(tmpDir, "snapshot.db")
	if _, err := ds.DB.Exec("VACUUM INTO ?", stagePath); err != nil {
		return "", fmt.Errorf("VACUUM INTO command failed: %w", err)
	}

	data, err := os.ReadFile(stagePath)
	if err != nil {
		return "", fmt.Errorf("could not read snapshot: %w", err)
	}

	name := fmt.Sprintf("poh_export_%s_%s.db",
		utils.GetTime().UTC().Format("2006-01-02_15-04-05"),
		uuid.New().String()[:8])

	location, err := storage.SaveExport(name, data)
	if err != nil {
		return "", fmt.Errorf("failed to store export: %w", err)
	}

	ds.logger.Info("Database export complete", "location", location, "bytes", len(data))
	return location, nil
}
