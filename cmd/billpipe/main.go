package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/splitkaro/billpipe/internal/api"
	"github.com/splitkaro/billpipe/internal/contacts"
	"github.com/splitkaro/billpipe/internal/conversation"
	"github.com/splitkaro/billpipe/internal/extract"
	"github.com/splitkaro/billpipe/internal/lockfile"
	"github.com/splitkaro/billpipe/internal/messaging"
	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/monitor"
	"github.com/splitkaro/billpipe/internal/payments"
	"github.com/splitkaro/billpipe/internal/recovery"
	"github.com/splitkaro/billpipe/internal/scheduler"
	"github.com/splitkaro/billpipe/internal/store"
	"github.com/splitkaro/billpipe/internal/util"
	"github.com/splitkaro/billpipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for BillPipe state data
	DefaultStateDir = "/var/lib/billpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "billpipe.db"
	// DefaultCleanupSchedule is the cron schedule for expired-session cleanup
	DefaultCleanupSchedule = "@hourly"
	// DefaultPayeeName is the display name on generated UPI links
	DefaultPayeeName = "BillPipe"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping BillPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "mock_whatsapp", *flags.mockWhatsApp)
	if err := run(flags); err != nil {
		slog.Error("BillPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("BillPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDSN           string
	DatabaseURL     string
	RedisURL        string
	StateDir        string
	OpenAIKey       string
	APIAddr         string
	PayeeVPA        string
	PayeeName       string
	CleanupSchedule string
	SessionHours    int
	MaxRetry        int
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	mockWhatsApp *bool
	stateDir     *string
	dbDSN        *string
	redisURL     *string
	apiAddr      *string
	payeeVPA     *string
	payeeName    *string
	cleanupCron  *string
	sessionHours *int
	maxRetry     *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DbDSN:           os.Getenv("BILLPIPE_DB_DSN"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		StateDir:        os.Getenv("BILLPIPE_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		PayeeVPA:        os.Getenv("UPI_PAYEE_VPA"),
		PayeeName:       os.Getenv("UPI_PAYEE_NAME"),
		CleanupSchedule: os.Getenv("CLEANUP_SCHEDULE"),
		SessionHours:    util.ParseIntEnv("SESSION_TIMEOUT_HOURS", 0),
		MaxRetry:        util.ParseIntEnv("MAX_RETRY_ATTEMPTS", 0),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No BILLPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("BILLPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Default to DATABASE_URL if the specific DSN is not set
	if config.DbDSN == "" {
		config.DbDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as BILLPIPE_DB_DSN", "dsn_set", true)
		}
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DbDSN == "" {
		config.DbDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DbDSN)
	}

	if config.PayeeName == "" {
		config.PayeeName = DefaultPayeeName
	}
	if config.CleanupSchedule == "" {
		config.CleanupSchedule = DefaultCleanupSchedule
	}

	slog.Debug("environment variables loaded",
		"BILLPIPE_DB_DSN_SET", config.DbDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"BILLPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"UPI_PAYEE_VPA_SET", config.PayeeVPA != "",
		"CLEANUP_SCHEDULE", config.CleanupSchedule)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		mockWhatsApp: flag.Bool("mock-whatsapp", false, "log outbound WhatsApp messages instead of sending them"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for BillPipe data (overrides $BILLPIPE_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DbDSN, "database DSN for the conversation store (overrides $BILLPIPE_DB_DSN or $DATABASE_URL)"),
		redisURL:     flag.String("redis-url", config.RedisURL, "Redis URL for the conversation state cache (overrides $REDIS_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		payeeVPA:     flag.String("payee-vpa", config.PayeeVPA, "UPI VPA that payment links collect into (overrides $UPI_PAYEE_VPA)"),
		payeeName:    flag.String("payee-name", config.PayeeName, "UPI payee display name (overrides $UPI_PAYEE_NAME)"),
		cleanupCron:  flag.String("cleanup-cron", config.CleanupSchedule, "cron schedule for expired-session cleanup (overrides $CLEANUP_SCHEDULE)"),
		sessionHours: flag.Int("session-timeout-hours", config.SessionHours, "hours of inactivity before a conversation expires (overrides $SESSION_TIMEOUT_HOURS)"),
		maxRetry:     flag.Int("max-retry", config.MaxRetry, "retry ceiling before a conversation is hard reset (overrides $MAX_RETRY_ATTEMPTS)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"mockWhatsApp", *flags.mockWhatsApp,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"apiAddr", *flags.apiAddr,
		"cleanupCron", *flags.cleanupCron)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DbDSN && config.DbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	sender, err := buildWhatsAppSender(flags)
	if err != nil {
		return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
	}
	if waClient, ok := sender.(*whatsapp.Client); ok {
		defer waClient.Close()
	}
	primary := messaging.NewWhatsAppService(sender)
	smsSvc := messaging.NewSMSService(buildSMSSender())
	deliverer := messaging.NewDeliverer(primary, smsSvc, st)

	book := contacts.NewBook(st)
	requests := payments.NewRequestService(st, deliverer, *flags.payeeVPA, *flags.payeeName)
	confirmations := payments.NewConfirmationService(st, deliverer)

	engine := recovery.NewEngine()
	mon := monitor.NewErrorMonitor(monitor.DefaultWindowSize)
	errorHandler := conversation.NewErrorHandler(engine, mon)

	handlers := conversation.NewHandlers(st, buildExtractor(), book, requests)
	machine := conversation.NewStateMachine(handlers)
	manager := conversation.NewManager(st, machine, errorHandler, confirmations, buildManagerOptions(flags)...)

	health := monitor.NewHealthChecker()
	registerHealthChecks(health, st, deliverer)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.cleanupCron, func() {
		removed, err := manager.CleanupExpired()
		if err != nil {
			slog.Error("Expired-session cleanup failed", "error", err)
			return
		}
		slog.Info("Expired-session cleanup completed", "removed", removed)
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", *flags.cleanupCron, err)
	}

	if err := primary.Start(ctx); err != nil {
		return fmt.Errorf("failed to start WhatsApp service: %w", err)
	}
	defer primary.Stop()
	if err := smsSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start SMS service: %w", err)
	}
	defer smsSvc.Stop()

	server := api.NewServer(manager, mon, health, deliverer, smsSvc, buildAPIOptions(flags)...)
	go server.RunMessagePump(ctx, primary)
	go server.RunMessagePump(ctx, smsSvc)

	return server.Run(ctx)
}

// buildStore constructs the persistence layer from the DSN, with an optional
// Redis cache layered on top.
func buildStore(flags Flags) (store.Store, error) {
	var inner store.Store
	var err error
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		inner, err = store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		inner, err = store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
	}
	if err != nil {
		return nil, err
	}

	if *flags.redisURL == "" {
		return inner, nil
	}
	cached, err := store.NewRedisStore(inner, store.WithRedisURL(*flags.redisURL))
	if err != nil {
		inner.Close()
		return nil, err
	}
	return cached, nil
}

// buildWhatsAppSender connects a real WhatsApp client, or a mock one when
// running without a paired device.
func buildWhatsAppSender(flags Flags) (whatsapp.Sender, error) {
	if *flags.mockWhatsApp {
		slog.Info("Using mock WhatsApp client, outbound messages will be logged only")
		return whatsapp.NewMockClient(), nil
	}

	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
	return whatsapp.NewClient(waOpts...)
}

// buildSMSSender returns a Twilio client when credentials are configured, or
// a mock sender so the fallback channel still exercises end to end.
func buildSMSSender() messaging.SMSSender {
	client, err := messaging.NewTwilioClient()
	if err != nil {
		slog.Warn("Twilio credentials not configured, using mock SMS sender", "error", err)
		return messaging.NewMockSMSClient()
	}
	return client
}

// buildExtractor returns the OpenAI-backed bill extractor, falling back to
// the regex stub when no API key is available.
func buildExtractor() extract.Extractor {
	extractor, err := extract.NewOpenAIExtractor()
	if err != nil {
		slog.Warn("OpenAI extractor unavailable, using regex stub", "error", err)
		return extract.NewStubExtractor()
	}
	return extractor
}

// buildManagerOptions constructs conversation manager configuration options
func buildManagerOptions(flags Flags) []conversation.ManagerOption {
	var opts []conversation.ManagerOption
	if *flags.sessionHours > 0 {
		opts = append(opts, conversation.WithSessionTimeout(time.Duration(*flags.sessionHours)*time.Hour))
	}
	if *flags.maxRetry > 0 {
		opts = append(opts, conversation.WithMaxRetry(*flags.maxRetry))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// registerHealthChecks wires the dependency probes behind /health.
func registerHealthChecks(health *monitor.HealthChecker, st store.Store, deliverer *messaging.Deliverer) {
	health.RegisterHealthCheck("store", func(ctx context.Context) (string, error) {
		_, err := st.GetConversationState("health-probe", "health-probe")
		if err != nil && !errors.Is(err, models.ErrStateNotFound) {
			return "", err
		}
		return "reachable", nil
	})
	health.RegisterHealthCheck("delivery", func(ctx context.Context) (string, error) {
		status := deliverer.BreakerStatus()
		for channel, raw := range status {
			info, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if info["state"] == string(recovery.BreakerOpen) {
				return "", fmt.Errorf("%s circuit breaker is open", channel)
			}
		}
		return "all circuit breakers closed", nil
	})
}
