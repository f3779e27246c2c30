package app

import (
	"time"
)

// Config is everything the commands read from the environment.
type Config struct {
	// sheet source
	SheetCSVURL     string
	SpreadsheetID   string
	SheetRange      string
	CredentialsFile string

	// DatabaseURL selects persistent mode. Empty keeps everything in memory.
	DatabaseURL string
	ListenAddr  string

	SteamAppID      int
	SteamCurrency   int
	SteamSearchURL  string
	SteamPriceURL   string
	SteamRatePerSec float64

	ImageTTL          time.Duration
	PriceTTL          time.Duration
	FanoutConcurrency int

	RefreshInterval       time.Duration
	RefreshScanLimit      int
	RefreshCandidateLimit int
	RefreshConcurrency    int
	RefreshQueueSize      int

	NtfyEnabled   bool
	NtfyURL       string
	NtfyTopic     string
	NtfyBatchMode bool
	NtfyPriority  string
}
