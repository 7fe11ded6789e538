// proof-of-human/handlers/main_test.go
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Asyncod/proof-of-human/config"
	"github.com/Asyncod/proof-of-human/database"
	"github.com/Asyncod/proof-of-human/gate"
	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/platform"
	"github.com/Asyncod/proof-of-human/utils"
)

// stubClient satisfies platform.Client without any network.
type stubClient struct {
	mu       sync.Mutex
	statuses map[int64]models.MemberStatus
	messages []string
	answers  []string
	next     int64
}

func newStubClient() *stubClient {
	return &stubClient{statuses: map[int64]models.MemberStatus{}, next: 100}
}

func (s *stubClient) SendChallenge(ctx context.Context, chatID, replyTo int64, text string, photo []byte, options []platform.Option) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next, nil
}

func (s *stubClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error { return nil }

func (s *stubClient) GetMemberStatus(ctx context.Context, chatID, userID int64) (models.MemberStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.statuses[userID]; ok {
		return status, nil
	}
	return models.MemberPlain, nil
}

func (s *stubClient) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	s.next++
	return s.next, nil
}

func (s *stubClient) AnswerAction(ctx context.Context, queryID, text string, alert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, text)
	return nil
}

func (s *stubClient) BotID() int64 { return 99 }

// testApp is the in-memory App implementation the handler tests run against.
type testApp struct {
	db      *database.DatabaseService
	gate    *gate.Service
	storage models.StorageService
	logger  *slog.Logger
	cfg     config.Config
	secret  string
	hash    []byte
	client  *stubClient
}

func (a *testApp) DB() *database.DatabaseService  { return a.db }
func (a *testApp) Gate() *gate.Service            { return a.gate }
func (a *testApp) Storage() models.StorageService { return a.storage }
func (a *testApp) Logger() *slog.Logger           { return a.logger }
func (a *testApp) Config() config.Config          { return a.cfg }
func (a *testApp) WebhookSecret() string          { return a.secret }
func (a *testApp) AdminTokenHash() []byte         { return a.hash }

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dir, err := os.MkdirTemp("", "poh_test_handlers")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	db, err := database.InitDB(filepath.Join(dir, "test.db?_journal_mode=WAL&_busy_timeout=5000"), logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() {
		db.DB.Close()
		os.RemoveAll(dir)
	})

	client := newStubClient()
	cfg := config.Default()
	cfg.OwnerID = 7777
	limiter := models.NewRateLimiter(config.DefaultActionLimit, config.DefaultActionWindow)

	hash, err := bcrypt.GenerateFromPassword([]byte("admin-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	return &testApp{
		db:      db,
		gate:    gate.New(db, client, limiter, cfg, logger),
		storage: &utils.LocalStorage{ExportDir: filepath.Join(dir, "exports")},
		logger:  logger,
		cfg:     cfg,
		secret:  "hook-secret",
		hash:    hash,
		client:  client,
	}
}

func newTestServer(t *testing.T, app *testApp) *httptest.Server {
	t.Helper()
	router := SetupRouter(app, time.Millisecond, 1000, time.Hour, 24*time.Hour)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
