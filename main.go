// proof-of-human/main.go
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/Asyncod/proof-of-human/config"
	"github.com/Asyncod/proof-of-human/database"
	"github.com/Asyncod/proof-of-human/gate"
	"github.com/Asyncod/proof-of-human/handlers"
	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/platform"
	"github.com/Asyncod/proof-of-human/utils"
)

type Application struct {
	db            *database.DatabaseService
	gateService   *gate.Service
	storage       models.StorageService
	logger        *slog.Logger
	cfg           config.Config
	webhookSecret string
	adminHash     []byte
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService  { return a.db }
func (a *Application) Gate() *gate.Service            { return a.gateService }
func (a *Application) Storage() models.StorageService { return a.storage }
func (a *Application) Logger() *slog.Logger           { return a.logger }
func (a *Application) Config() config.Config          { return a.cfg }
func (a *Application) WebhookSecret() string          { return a.webhookSecret }
func (a *Application) AdminTokenHash() []byte         { return a.adminHash }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Optional .env overlay for local runs; real deployments set the
	// environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Could not load .env file", "error", err)
	}

	// --- External Configuration ---
	cfg := config.Default()
	cfg.BotToken = utils.GetEnv("POH_BOT_TOKEN", "")
	if cfg.BotToken == "" {
		logger.Error("FATAL: POH_BOT_TOKEN is required")
		os.Exit(1)
	}
	cfg.BotUsername = utils.GetEnv("POH_BOT_USERNAME", "")
	cfg.OwnerID = utils.GetEnvInt64("POH_OWNER_ID", 0)
	cfg.PromptImages = utils.GetEnvBool("POH_PROMPT_IMAGES", false)
	if secs := utils.GetEnvInt64("POH_CHALLENGE_TIMEOUT", 0); secs > 0 {
		cfg.ChallengeTimeout = time.Duration(secs) * time.Second
	}
	if attempts := utils.GetEnvInt64("POH_MAX_ATTEMPTS", 0); attempts > 0 {
		cfg.MaxAttempts = int(attempts)
	}

	port := utils.GetEnv("POH_PORT", "8080")
	dbPath := utils.GetEnv("POH_DB_PATH", "./captcha.db?_journal_mode=WAL&_busy_timeout=5000")
	webhookURL := utils.GetEnv("POH_WEBHOOK_URL", "")
	webhookSecret := utils.GetEnv("POH_WEBHOOK_SECRET", "")

	var adminHash []byte
	if adminToken := utils.GetEnv("POH_ADMIN_TOKEN", ""); adminToken != "" {
		var err error
		adminHash, err = bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("FATAL: Could not hash admin token", "error", err)
			os.Exit(1)
		}
	}

	ingestEvery, err := time.ParseDuration(utils.GetEnv("POH_INGEST_EVERY", config.DefaultIngestEvery))
	if err != nil {
		logger.Warn("Invalid POH_INGEST_EVERY duration, using default", "default", config.DefaultIngestEvery)
		ingestEvery, _ = time.ParseDuration(config.DefaultIngestEvery)
	}
	ingestBurst, err := strconv.Atoi(utils.GetEnv("POH_INGEST_BURST", strconv.Itoa(config.DefaultIngestBurst)))
	if err != nil {
		logger.Warn("Invalid POH_INGEST_BURST integer, using default", "default", config.DefaultIngestBurst)
		ingestBurst = config.DefaultIngestBurst
	}
	ingestPrune, err := time.ParseDuration(utils.GetEnv("POH_INGEST_PRUNE", config.DefaultIngestPrune))
	if err != nil {
		logger.Warn("Invalid POH_INGEST_PRUNE duration, using default", "default", config.DefaultIngestPrune)
		ingestPrune, _ = time.ParseDuration(config.DefaultIngestPrune)
	}
	ingestExpire, err := time.ParseDuration(utils.GetEnv("POH_INGEST_EXPIRE", config.DefaultIngestExpire))
	if err != nil {
		logger.Warn("Invalid POH_INGEST_EXPIRE duration, using default", "default", config.DefaultIngestExpire)
		ingestExpire, _ = time.ParseDuration(config.DefaultIngestExpire)
	}

	actionLimit := int(utils.GetEnvInt64("POH_ACTION_LIMIT", config.DefaultActionLimit))
	actionWindow := config.DefaultActionWindow
	if secs := utils.GetEnvInt64("POH_ACTION_WINDOW", 0); secs > 0 {
		actionWindow = time.Duration(secs) * time.Second
	}

	// --- Database ---
	dbService, err := database.InitDB(dbPath, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbService.DB.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	// --- Storage Service Init ---
	var storageService models.StorageService
	if utils.GetEnvBool("POH_S3_ENABLED", false) {
		endpoint := utils.GetEnv("POH_S3_ENDPOINT", "")
		accessKey := utils.GetEnv("POH_S3_ACCESS_KEY", "")
		secretKey := utils.GetEnv("POH_S3_SECRET_KEY", "")
		bucket := utils.GetEnv("POH_S3_BUCKET", "")
		region := utils.GetEnv("POH_S3_REGION", "us-east-1")
		useSSL := utils.GetEnvBool("POH_S3_USE_SSL", true)

		storageService, err = utils.NewS3Storage(endpoint, accessKey, secretKey, bucket, region, useSSL)
		if err != nil {
			logger.Error("Failed to initialize S3 storage", "error", err)
			os.Exit(1)
		}
		logger.Info("S3 storage initialized", "endpoint", endpoint, "bucket", bucket)
	} else {
		exportDir := utils.GetEnv("POH_EXPORT_DIR", "./exports")
		storageService = &utils.LocalStorage{ExportDir: exportDir}
		logger.Info("Local storage initialized", "dir", exportDir)
	}

	// --- Platform Client ---
	client, err := platform.NewTelegramClient(cfg.BotToken)
	if err != nil {
		logger.Error("FATAL: Invalid bot token", "error", err)
		os.Exit(1)
	}

	limiter := models.NewRateLimiter(actionLimit, actionWindow)
	gateService := gate.New(dbService, client, limiter, cfg, logger)

	app := &Application{
		db:            dbService,
		gateService:   gateService,
		storage:       storageService,
		logger:        logger,
		cfg:           cfg,
		webhookSecret: webhookSecret,
		adminHash:     adminHash,
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := client.DropPendingUpdates(startupCtx); err != nil {
		logger.Warn("Could not drop pending updates", "error", err)
	}
	if webhookURL != "" {
		if err := client.SetWebhook(startupCtx, webhookURL, webhookSecret); err != nil {
			logger.Error("FATAL: Could not register webhook", "error", err)
			cancelStartup()
			os.Exit(1)
		}
		logger.Info("Webhook registered", "url", webhookURL)
	}
	cancelStartup()

	// --- Background Sweeper ---
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	var sweeperDone sync.WaitGroup
	sweeperDone.Add(1)
	go func() {
		defer sweeperDone.Done()
		gateService.RunSweeper(sweepCtx)
	}()

	mux := handlers.SetupRouter(app, ingestEvery, ingestBurst, ingestPrune, ingestExpire)
	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("Verification bot started",
		"version", config.AppVersion,
		"address", "http://localhost:"+port,
	)
	notifyOwner(client, cfg, logger, "Bot started\nVersion: "+config.AppVersion)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	notifyOwner(client, cfg, logger, "Bot stopping for shutdown.")

	stopSweeper()
	waitWithGrace(&sweeperDone, config.ShutdownGrace, logger)

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exiting")
}

// waitWithGrace waits for background work up to the grace period, then gives
// up so shutdown cannot hang.
func waitWithGrace(wg *sync.WaitGroup, grace time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn("Background workers did not stop in time, terminating anyway")
	}
}

// notifyOwner sends a lifecycle notice to the configured owner, best-effort.
func notifyOwner(client *platform.TelegramClient, cfg config.Config, logger *slog.Logger, text string) {
	if cfg.OwnerID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.SendMessage(ctx, cfg.OwnerID, text); err != nil {
		logger.Warn("Could not notify owner", "error", err)
	}
}
