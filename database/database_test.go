// proof-of-human/database/database_test.go
package database

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/utils"
)

// setupTestDB creates a fresh on-disk SQLite database for testing.
func setupTestDB(t *testing.T) *DatabaseService {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dir, err := os.MkdirTemp("", "poh_test_db")
	if err != nil {
		t.Fatalf("Failed to create temp dir for test DB: %v", err)
	}
	dbPath := filepath.Join(dir, "test.db?_journal_mode=WAL&_busy_timeout=5000")

	ds, err := InitDB(dbPath, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	t.Cleanup(func() {
		ds.DB.Close()
		os.RemoveAll(dir)
	})

	return ds
}

func testChallenge(userID, chatID int64, expiresAt string) models.Challenge {
	return models.Challenge{
		UserID:        userID,
		ChatID:        chatID,
		ExpiresAt:     expiresAt,
		Payload:       "correct-token",
		MessageID:     555,
		CorrectSymbol: "⭐",
		UserMessageID: 444,
	}
}

// TestMigrations verifies that versioned migrations run and are recorded.
func TestMigrations(t *testing.T) {
	ds := setupTestDB(t)

	// Columns added by migrations must be queryable.
	rows, err := ds.DB.Query("SELECT attempts FROM challenges LIMIT 1")
	if err != nil {
		t.Fatalf("Migration test failed. Could not query 'attempts' column: %v", err)
	}
	rows.Close()
	rows, err = ds.DB.Query("SELECT max_attempts FROM chats LIMIT 1")
	if err != nil {
		t.Fatalf("Migration test failed. Could not query 'max_attempts' column: %v", err)
	}
	rows.Close()

	var version int
	err = ds.DB.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		t.Fatalf("No migrations recorded in schema_migrations: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected latest migration version 2, got %d", version)
	}
}

// TestUserLifecycle covers creation, idempotent re-creation, and the one-way
// promotion rule.
func TestUserLifecycle(t *testing.T) {
	ds := setupTestDB(t)

	u, err := ds.AddUser(42, "someone", "Some One", utils.FormatTimestamp(time.Now()), "en")
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	if u.Status != models.Unverified {
		t.Errorf("Expected new user to be unverified, got status %d", u.Status)
	}

	// A duplicate insert must return the existing row, not an error.
	dup, err := ds.AddUser(42, "renamed", "Renamed", utils.FormatTimestamp(time.Now()), "de")
	if err != nil {
		t.Fatalf("Duplicate AddUser failed: %v", err)
	}
	if dup.Username != "someone" {
		t.Errorf("Duplicate insert overwrote existing row: username %q", dup.Username)
	}

	if err := ds.PromoteUser(42); err != nil {
		t.Fatalf("PromoteUser failed: %v", err)
	}
	u, err = ds.GetUser(42)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Status != models.Verified {
		t.Error("Expected user to be verified after promotion")
	}

	// Profile updates never touch status.
	if err := ds.UpdateUserProfile(42, "newname", "New Name", "fr"); err != nil {
		t.Fatalf("UpdateUserProfile failed: %v", err)
	}
	u, _ = ds.GetUser(42)
	if u.Status != models.Verified {
		t.Error("Profile update downgraded verification status")
	}
	if u.Username != "newname" || u.Language != "fr" {
		t.Errorf("Profile update not applied: %+v", u)
	}

	missing, err := ds.GetUser(9999)
	if err != nil {
		t.Fatalf("GetUser for missing id errored: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for an unknown user id")
	}
}

// TestChatDefaults checks chat creation and the typed settings updates.
func TestChatDefaults(t *testing.T) {
	ds := setupTestDB(t)

	c, err := ds.AddChat(-100, "Test Group", 30, 2)
	if err != nil {
		t.Fatalf("AddChat failed: %v", err)
	}
	if !c.CaptchaEnabled || c.TimeoutSeconds != 30 || c.MaxAttempts != 2 {
		t.Errorf("Unexpected chat defaults: %+v", c)
	}

	// Re-adding returns the existing record untouched.
	again, err := ds.AddChat(-100, "Renamed Group", 120, 5)
	if err != nil {
		t.Fatalf("Second AddChat failed: %v", err)
	}
	if again.Title != "Test Group" || again.TimeoutSeconds != 30 {
		t.Errorf("AddChat overwrote existing settings: %+v", again)
	}

	if err := ds.SetChatCaptchaEnabled(-100, false); err != nil {
		t.Fatalf("SetChatCaptchaEnabled failed: %v", err)
	}
	if err := ds.SetChatTimeout(-100, 60); err != nil {
		t.Fatalf("SetChatTimeout failed: %v", err)
	}
	if err := ds.SetChatMaxAttempts(-100, 3); err != nil {
		t.Fatalf("SetChatMaxAttempts failed: %v", err)
	}

	c, _ = ds.GetChat(-100)
	if c.CaptchaEnabled {
		t.Error("Expected captcha to be disabled")
	}
	if c.TimeoutSeconds != 60 || c.MaxAttempts != 3 {
		t.Errorf("Settings not applied: %+v", c)
	}

	if err := ds.SetChatTimeout(-100, 0); err == nil {
		t.Error("Expected non-positive timeout to be rejected")
	}
	if err := ds.SetChatMaxAttempts(-100, -1); err == nil {
		t.Error("Expected non-positive max attempts to be rejected")
	}
}

// TestChallengeUniqueness verifies the at-most-one-per-pair invariant under
// replacement.
func TestChallengeUniqueness(t *testing.T) {
	ds := setupTestDB(t)
	future := utils.FormatTimestamp(time.Now().Add(time.Minute))

	if _, err := ds.PutChallenge(testChallenge(1, -100, future)); err != nil {
		t.Fatalf("PutChallenge failed: %v", err)
	}

	replacement := testChallenge(1, -100, future)
	replacement.Payload = "replacement-token"
	if _, err := ds.PutChallenge(replacement); err != nil {
		t.Fatalf("Replacing PutChallenge failed: %v", err)
	}

	var count int
	ds.DB.QueryRow("SELECT COUNT(*) FROM challenges WHERE user_id = 1 AND chat_id = -100").Scan(&count)
	if count != 1 {
		t.Fatalf("Expected exactly one challenge for the pair, got %d", count)
	}

	c, err := ds.GetChallenge(1, -100)
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if c.Payload != "replacement-token" {
		t.Errorf("Expected replacement to win, got payload %q", c.Payload)
	}
	if c.Attempts != 0 {
		t.Errorf("Expected replacement to reset attempts, got %d", c.Attempts)
	}
}

// TestDeleteChallengeIdempotent checks that deleting an absent record is not
// an error.
func TestDeleteChallengeIdempotent(t *testing.T) {
	ds := setupTestDB(t)

	if err := ds.DeleteChallenge(7, -7); err != nil {
		t.Fatalf("Deleting an absent challenge errored: %v", err)
	}

	future := utils.FormatTimestamp(time.Now().Add(time.Minute))
	if _, err := ds.PutChallenge(testChallenge(7, -7, future)); err != nil {
		t.Fatalf("PutChallenge failed: %v", err)
	}
	if err := ds.DeleteChallenge(7, -7); err != nil {
		t.Fatalf("DeleteChallenge failed: %v", err)
	}
	if err := ds.DeleteChallenge(7, -7); err != nil {
		t.Fatalf("Second delete of the same challenge errored: %v", err)
	}
}

// TestIncrementAttemptsConcurrent fires N concurrent wrong-answer increments
// at one key and requires the final count to be exactly N.
func TestIncrementAttemptsConcurrent(t *testing.T) {
	ds := setupTestDB(t)
	future := utils.FormatTimestamp(time.Now().Add(time.Minute))

	if _, err := ds.PutChallenge(testChallenge(3, -300, future)); err != nil {
		t.Fatalf("PutChallenge failed: %v", err)
	}

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ds.IncrementChallengeAttempts(3, -300); err != nil {
				t.Errorf("IncrementChallengeAttempts failed: %v", err)
			}
		}()
	}
	wg.Wait()

	c, err := ds.GetChallenge(3, -300)
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if c.Attempts != n {
		t.Errorf("Expected attempts == %d after %d concurrent increments, got %d", n, n, c.Attempts)
	}
}

// TestExpiredChallenges verifies the sweep query picks exactly the expired
// records.
func TestExpiredChallenges(t *testing.T) {
	ds := setupTestDB(t)
	now := time.Now()

	stale := testChallenge(1, -1, utils.FormatTimestamp(now.Add(-time.Second)))
	live := testChallenge(2, -1, utils.FormatTimestamp(now.Add(time.Hour)))
	if _, err := ds.PutChallenge(stale); err != nil {
		t.Fatalf("PutChallenge failed: %v", err)
	}
	if _, err := ds.PutChallenge(live); err != nil {
		t.Fatalf("PutChallenge failed: %v", err)
	}

	expired, err := ds.ExpiredChallenges(utils.FormatTimestamp(now))
	if err != nil {
		t.Fatalf("ExpiredChallenges failed: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("Expected 1 expired challenge, got %d", len(expired))
	}
	if expired[0].UserID != 1 {
		t.Errorf("Wrong record reported expired: %+v", expired[0])
	}
}

// TestExportDatabase verifies the VACUUM INTO export path end to end using
// local storage.
func TestExportDatabase(t *testing.T) {
	ds := setupTestDB(t)

	if _, err := ds.AddUser(1, "a", "A", utils.FormatTimestamp(time.Now()), "en"); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}

	exportDir, err := os.MkdirTemp("", "poh_test_export")
	if err != nil {
		t.Fatalf("Failed to create temp export dir: %v", err)
	}
	defer os.RemoveAll(exportDir)

	location, err := ds.ExportDatabase(&utils.LocalStorage{ExportDir: exportDir})
	if err != nil {
		t.Fatalf("ExportDatabase failed: %v", err)
	}

	info, err := os.Stat(location)
	if err != nil {
		t.Fatalf("Export file missing at %s: %v", location, err)
	}
	if info.Size() == 0 {
		t.Error("Export file was created but is empty")
	}

	snapshot, err := sql.Open("sqlite3", location)
	if err != nil {
		t.Fatalf("Could not open export as a database: %v", err)
	}
	defer snapshot.Close()

	var n int
	if err := snapshot.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		t.Fatalf("Could not read users from export: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 user in export, got %d", n)
	}
}
