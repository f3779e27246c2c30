package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"skin_sheet/internal/enrich"
	"skin_sheet/internal/notifications"
	"skin_sheet/internal/pipeline"
	"skin_sheet/internal/record"
	"skin_sheet/internal/refresh"
	"skin_sheet/internal/sheets"
	"skin_sheet/internal/steam"
	"skin_sheet/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SetupEnvironment loads .env file and configures zerolog output and log level.
func SetupEnvironment() {
	// Load .env file if it exists
	err := godotenv.Load()

	// prices go out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	if os.Getenv("ENV") == "production" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(os.Stderr)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	levelStr := strings.ToLower(os.Getenv("LOGLEVEL"))
	switch levelStr {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	case "":
		if os.Getenv("ENV") == "production" {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Msgf("Unknown LOGLEVEL '%s', defaulting to info.", levelStr)
	}

	// wait until now to report on the .env file so we have the chance to set up logging first
	if err == nil {
		log.Debug().Msg("Loaded environment variables from .env file.")
	} else {
		log.Debug().Msg("No .env file found or error loading .env file; proceeding with existing environment variables.")
	}
}

// GetRequiredEnv fetches a required environment variable or exits if not set.
func GetRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatal().Msgf("%s environment variable is required", key)
	}
	return value
}

// GetEnvWithDefault fetches an environment variable with a default fallback.
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid boolean, using default")
		return defaultValue
	}
	return v
}

// LoadConfig reads the environment. Only malformed values are errors; missing
// ones fall back to defaults.
func LoadConfig() (Config, error) {
	refreshDefaults := refresh.DefaultSettings()
	steamDefaults := steam.DefaultOptions()

	cfg := Config{
		SheetCSVURL:     os.Getenv("SHEET_CSV_URL"),
		SpreadsheetID:   os.Getenv("SPREADSHEET_ID"),
		SheetRange:      GetEnvWithDefault("SPREADSHEET_RANGE", "Sheet1"),
		CredentialsFile: GetEnvWithDefault("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ListenAddr:      GetEnvWithDefault("LISTEN_ADDR", ":8080"),
		SteamSearchURL:  GetEnvWithDefault("STEAM_SEARCH_URL", steam.DefaultSearchURL),
		SteamPriceURL:   GetEnvWithDefault("STEAM_PRICE_URL", steam.DefaultPriceURL),
		NtfyEnabled:     getBool("NTFY_ENABLED", false),
		NtfyURL:         GetEnvWithDefault("NTFY_URL", "https://ntfy.sh"),
		NtfyTopic:       GetEnvWithDefault("NTFY_TOPIC", "skin-sheet"),
		NtfyBatchMode:   getBool("NTFY_BATCH_MODE", true),
		NtfyPriority:    os.Getenv("NTFY_PRIORITY"),
	}

	var err error
	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"STEAM_APP_ID", &cfg.SteamAppID, steam.DefaultAppID},
		{"STEAM_CURRENCY", &cfg.SteamCurrency, steam.DefaultCurrency},
		{"FANOUT_CONCURRENCY", &cfg.FanoutConcurrency, enrich.DefaultConcurrency},
		{"REFRESH_SCAN_LIMIT", &cfg.RefreshScanLimit, refreshDefaults.ScanLimit},
		{"REFRESH_CANDIDATE_LIMIT", &cfg.RefreshCandidateLimit, refreshDefaults.CandidateLimit},
		{"REFRESH_CONCURRENCY", &cfg.RefreshConcurrency, refreshDefaults.Concurrency},
		{"REFRESH_QUEUE_SIZE", &cfg.RefreshQueueSize, refresh.DefaultQueueSize},
	}
	for _, v := range ints {
		if *v.dst, err = getInt(v.key, v.def); err != nil {
			return cfg, err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"IMAGE_TTL", &cfg.ImageTTL, enrich.DefaultImageTTL},
		{"PRICE_TTL", &cfg.PriceTTL, enrich.DefaultPriceTTL},
		{"REFRESH_INTERVAL", &cfg.RefreshInterval, refreshDefaults.Interval},
	}
	for _, v := range durations {
		if *v.dst, err = getDuration(v.key, v.def); err != nil {
			return cfg, err
		}
	}

	if cfg.SteamRatePerSec, err = getFloat("STEAM_RATE_PER_SEC", steamDefaults.RatePerSecond); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// InitializeSteamClient creates the market client from config.
func InitializeSteamClient(cfg Config) *steam.Client {
	opts := steam.DefaultOptions()
	opts.SearchURL = cfg.SteamSearchURL
	opts.PriceURL = cfg.SteamPriceURL
	opts.AppID = cfg.SteamAppID
	opts.Currency = cfg.SteamCurrency
	opts.RatePerSecond = cfg.SteamRatePerSec

	log.Debug().
		Str("search_url", opts.SearchURL).
		Int("app_id", opts.AppID).
		Float64("rate_per_sec", opts.RatePerSecond).
		Msg("Initializing market client")
	return steam.NewClient(opts)
}

// InitializeNotificationClient creates and returns the notification client
func InitializeNotificationClient(cfg Config) *notifications.Client {
	log.Debug().
		Bool("enabled", cfg.NtfyEnabled).
		Str("base_url", cfg.NtfyURL).
		Str("topic", cfg.NtfyTopic).
		Msg("Initializing notification client")

	client := notifications.NewClient(notifications.Options{
		BaseURL:    cfg.NtfyURL,
		Topic:      cfg.NtfyTopic,
		Enabled:    cfg.NtfyEnabled,
		BatchMode:  cfg.NtfyBatchMode,
		Priority:   cfg.NtfyPriority,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	})

	if client.Enabled() {
		log.Info().Str("topic", cfg.NtfyTopic).Msg("Notifications enabled")
	}
	return client
}

// Runtime holds the wired components shared by the commands.
type Runtime struct {
	Config    Config
	Steam     *steam.Client
	Store     store.Store
	Queue     *refresh.Queue
	Refresher *refresh.Refresher
	Service   *pipeline.Service
}

// Build wires every component from cfg. The store, queue and refresher are
// only set up when DatabaseURL is configured.
func Build(ctx context.Context, cfg Config) (*Runtime, error) {
	source, err := sheets.NewSource(ctx, sheets.SourceConfig{
		CSVURL:          cfg.SheetCSVURL,
		SpreadsheetID:   cfg.SpreadsheetID,
		SheetRange:      cfg.SheetRange,
		CredentialsFile: cfg.CredentialsFile,
	})
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Steam: InitializeSteamClient(cfg)}
	opts := pipeline.Options{
		Source:   source,
		Columns:  record.DefaultColumns,
		Notifier: InitializeNotificationClient(cfg),
		ImageTTL: cfg.ImageTTL,
		PriceTTL: cfg.PriceTTL,
		Enricher: enrich.NewEnricher(rt.Steam, enrich.Options{
			ImageTTL:    cfg.ImageTTL,
			PriceTTL:    cfg.PriceTTL,
			Concurrency: cfg.FanoutConcurrency,
		}),
	}

	if cfg.DatabaseURL != "" {
		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		rt.Store = st
		rt.Queue = refresh.NewQueue(cfg.RefreshQueueSize)
		rt.Refresher = refresh.NewRefresher(st, rt.Steam, refresh.NewInFlight(), refresh.Settings{
			ScanLimit:      cfg.RefreshScanLimit,
			CandidateLimit: cfg.RefreshCandidateLimit,
			Concurrency:    cfg.RefreshConcurrency,
			Interval:       cfg.RefreshInterval,
			ImageTTL:       cfg.ImageTTL,
			PriceTTL:       cfg.PriceTTL,
		})
		opts.Store = st
		opts.Queue = rt.Queue
		log.Info().Msg("Persistent mode: enrichment served from store")
	} else {
		log.Info().Msg("Memory mode: enrichment resolved per request")
	}

	rt.Service = pipeline.NewService(opts)
	return rt, nil
}

func (rt *Runtime) Close() error {
	if rt.Store != nil {
		return rt.Store.Close()
	}
	return nil
}
