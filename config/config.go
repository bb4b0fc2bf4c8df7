package config

import (
	"os"
	"strconv"
	"strings"

	"vidfetch/internal/model"

	"github.com/joho/godotenv"
)

// Load loads configuration from environment variables
func Load() *model.Config {
	// Load .env file if exists
	godotenv.Load()

	return &model.Config{
		Server: model.ServerConfig{
			Port:    getEnvInt("SERVER_PORT", 8080),
			Host:    getEnvStr("SERVER_HOST", "0.0.0.0"),
			Timeout: getEnvInt("SERVER_TIMEOUT", 300),
		},
		Storage: model.StorageConfig{
			DownloadDir:     getEnvStr("DOWNLOAD_DIR", "./downloads"),
			TempDir:         getEnvStr("TEMP_DIR", os.TempDir()),
			CleanupInterval: getEnvInt("STORAGE_CLEANUP_INTERVAL", 3600),
			FileTTLSeconds:  getEnvInt("FILE_TTL_SECONDS", 86400),
		},
		Download: model.DownloadConfig{
			MaxOutputSizeBytes: getEnvInt64("MAX_FILE_SIZE", 1024*1024*1024),
			TimeoutSeconds:     getEnvInt("DOWNLOAD_TIMEOUT", 300),
			YTDLPPath:          getEnvStr("YTDLP_PATH", "yt-dlp"),
		},
		Logging: model.LoggingConfig{
			Level:    getEnvStr("LOG_LEVEL", "info"),
			FilePath: getEnvStr("LOG_FILE", "./log/app.log"),
		},
		Security: model.SecurityConfig{
			AllowedDomains: parseDomains(getEnvStr("ALLOWED_DOMAINS",
				"youtube.com,youtu.be,tiktok.com,vm.tiktok.com,instagram.com,"+
					"twitter.com,x.com,facebook.com,fb.watch,vimeo.com,"+
					"dailymotion.com,twitch.tv,reddit.com,v.redd.it,streamable.com")),
		},
		Quota: model.QuotaConfig{
			Enabled:      getEnvBool("QUOTA_ENABLED", false),
			DailyLimitMB: getEnvInt64("QUOTA_DAILY_LIMIT_MB", 2048),
			ResetHour:    getEnvInt("QUOTA_RESET_HOUR", 0),
			ResetMinute:  getEnvInt("QUOTA_RESET_MINUTE", 0),
		},
		RateLimit: model.RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			MaxRequests:     getEnvInt("RATE_LIMIT_REQUESTS", 5),
			WindowSeconds:   getEnvInt("RATE_LIMIT_WINDOW", 300),
			CleanupInterval: getEnvInt("RATE_LIMIT_CLEANUP_INTERVAL", 300),
		},
		Quality: model.QualityConfig{
			EnabledTiers: parseEnabledTiers(getEnvStr("ENABLED_QUALITY_TIERS", "")),
		},
		History: model.HistoryConfig{
			Enabled:    getEnvBool("HISTORY_ENABLED", false),
			RedisURL:   getEnvStr("REDIS_URL", "redis://localhost:6379/0"),
			MaxEntries: getEnvInt("HISTORY_MAX_ENTRIES", 200),
		},
	}
}

// parseDomains parses a comma-separated domain list from env
func parseDomains(domainsStr string) []string {
	parts := strings.Split(domainsStr, ",")
	domains := make([]string, 0, len(parts))
	for _, part := range parts {
		domain := strings.TrimSpace(part)
		if domain != "" {
			domains = append(domains, domain)
		}
	}
	return domains
}

// parseEnabledTiers parses a comma-separated quality tier list from env.
// Unknown names are skipped; an empty or fully invalid list enables all.
func parseEnabledTiers(tiersStr string) []model.QualityTier {
	var tiers []model.QualityTier
	for _, part := range strings.Split(tiersStr, ",") {
		tier, err := model.ParseQualityTier(part)
		if err != nil {
			continue
		}
		tiers = append(tiers, tier)
	}
	if len(tiers) == 0 {
		return model.AllQualityTiers()
	}
	return tiers
}

// getEnvStr gets string environment variable with fallback
func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt gets int environment variable with fallback
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets int64 environment variable with fallback
func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets bool environment variable with fallback
func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}
