package model

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Download  DownloadConfig
	Logging   LoggingConfig
	Security  SecurityConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
	Quality   QualityConfig
	History   HistoryConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port    int
	Host    string
	Timeout int // seconds
}

// StorageConfig holds storage configuration for finished files and the
// root under which per-job scoped directories are created
type StorageConfig struct {
	DownloadDir     string
	TempDir         string
	CleanupInterval int // seconds
	FileTTLSeconds  int // Time to live for downloaded files
}

// DownloadConfig bounds a single download job
type DownloadConfig struct {
	MaxOutputSizeBytes int64
	TimeoutSeconds     int
	YTDLPPath          string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string
	FilePath string
}

// SecurityConfig holds request validation configuration
type SecurityConfig struct {
	AllowedDomains []string
}

// QuotaConfig holds user download quota configuration
type QuotaConfig struct {
	Enabled      bool  // Enable quota limiting
	DailyLimitMB int64 // Daily quota limit in MB per user
	ResetHour    int   // Hour (0-23) to reset quota (midnight = 0)
	ResetMinute  int   // Minute (0-59) to reset quota
}

// RateLimitConfig holds sliding-window admission configuration
type RateLimitConfig struct {
	Enabled         bool // Enable rate limiting
	MaxRequests     int  // Max admitted downloads per user per window
	WindowSeconds   int  // Sliding window length
	CleanupInterval int  // Interval in seconds to evict idle user windows
}

// QualityConfig restricts which quality tiers the API offers
type QualityConfig struct {
	EnabledTiers []QualityTier
}

// HistoryConfig holds download history persistence configuration
type HistoryConfig struct {
	Enabled    bool
	RedisURL   string
	MaxEntries int // per-user history cap
}
