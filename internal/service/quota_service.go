package service

import (
	"sync"
	"time"

	"vidfetch/internal/model"
	"vidfetch/pkg/clock"
	"vidfetch/pkg/logger"

	"go.uber.org/zap"
)

// QuotaEntry tracks daily download volume for one user
type QuotaEntry struct {
	User       string
	UsedMB     int64
	ResetTime  time.Time
	LastUpdate time.Time
}

// QuotaService manages per-user daily download quotas
type QuotaService struct {
	cfg      *model.QuotaConfig
	clock    clock.Clock
	quotas   map[string]*QuotaEntry
	mu       sync.RWMutex
	quitChan chan bool
}

// NewQuotaService creates a new quota service driven by clk
func NewQuotaService(cfg *model.QuotaConfig, clk clock.Clock) *QuotaService {
	service := &QuotaService{
		cfg:      cfg,
		clock:    clk,
		quotas:   make(map[string]*QuotaEntry),
		quitChan: make(chan bool),
	}

	if cfg.Enabled {
		go service.resetRoutine()
	}

	return service
}

// CheckQuota checks if the user has remaining quota for requestedSizeMB
// more megabytes. Passing 0 asks only whether any budget is left.
func (qs *QuotaService) CheckQuota(user string, requestedSizeMB int64) (bool, int64) {
	if !qs.cfg.Enabled {
		return true, qs.cfg.DailyLimitMB
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	entry := qs.entryLocked(user)

	// Roll the window over if the reset time passed
	now := qs.clock.Now()
	if now.After(entry.ResetTime) {
		entry.UsedMB = 0
		entry.ResetTime = qs.calculateResetTime()
		entry.LastUpdate = now
		logger.Logger.Info("Quota reset",
			zap.String("user", user),
			zap.Time("new_reset_time", entry.ResetTime))
	}

	remaining := qs.cfg.DailyLimitMB - entry.UsedMB
	if remaining <= 0 {
		logger.Logger.Warn("Quota exhausted",
			zap.String("user", user),
			zap.Int64("limit_mb", qs.cfg.DailyLimitMB))
		return false, 0
	}

	if requestedSizeMB > remaining {
		logger.Logger.Warn("Quota insufficient",
			zap.String("user", user),
			zap.Int64("requested_mb", requestedSizeMB),
			zap.Int64("remaining_mb", remaining))
		return false, remaining
	}

	return true, remaining
}

// AddUsage records sizeMB of finished download volume for the user
func (qs *QuotaService) AddUsage(user string, sizeMB int64) {
	if !qs.cfg.Enabled {
		return
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	entry := qs.entryLocked(user)
	entry.UsedMB += sizeMB
	entry.LastUpdate = qs.clock.Now()

	logger.Logger.Debug("Quota usage updated",
		zap.String("user", user),
		zap.Int64("used_mb", entry.UsedMB),
		zap.Int64("limit_mb", qs.cfg.DailyLimitMB))
}

// GetQuotaInfo returns the user's current quota state
func (qs *QuotaService) GetQuotaInfo(user string) model.QuotaInfo {
	if !qs.cfg.Enabled {
		return model.QuotaInfo{Enabled: false}
	}

	qs.mu.RLock()
	defer qs.mu.RUnlock()

	entry, exists := qs.quotas[user]
	if !exists {
		return model.QuotaInfo{
			Enabled:     true,
			UsedMB:      0,
			LimitMB:     qs.cfg.DailyLimitMB,
			RemainingMB: qs.cfg.DailyLimitMB,
			ResetTime:   qs.calculateResetTime(),
		}
	}

	remaining := qs.cfg.DailyLimitMB - entry.UsedMB
	if remaining < 0 {
		remaining = 0
	}

	return model.QuotaInfo{
		Enabled:     true,
		UsedMB:      entry.UsedMB,
		LimitMB:     qs.cfg.DailyLimitMB,
		RemainingMB: remaining,
		ResetTime:   entry.ResetTime,
	}
}

// entryLocked returns the user's quota entry, creating it on first use.
// Callers must hold the write lock.
func (qs *QuotaService) entryLocked(user string) *QuotaEntry {
	entry, exists := qs.quotas[user]
	if exists {
		return entry
	}

	entry = &QuotaEntry{
		User:       user,
		UsedMB:     0,
		ResetTime:  qs.calculateResetTime(),
		LastUpdate: qs.clock.Now(),
	}
	qs.quotas[user] = entry
	logger.Logger.Info("New quota entry created",
		zap.String("user", user),
		zap.Time("reset_time", entry.ResetTime))
	return entry
}

// calculateResetTime calculates the next reset time based on config
func (qs *QuotaService) calculateResetTime() time.Time {
	now := qs.clock.Now()
	resetTime := time.Date(now.Year(), now.Month(), now.Day(), qs.cfg.ResetHour, qs.cfg.ResetMinute, 0, 0, now.Location())

	// If reset time has already passed today, set for tomorrow
	if resetTime.Before(now) {
		resetTime = resetTime.AddDate(0, 0, 1)
	}

	return resetTime
}

// resetRoutine periodically checks and resets quotas
func (qs *QuotaService) resetRoutine() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-qs.quitChan:
			logger.Logger.Info("Quota service stopped")
			return
		case <-ticker.C:
			qs.checkAndResetQuotas()
		}
	}
}

// checkAndResetQuotas checks for expired quotas and resets them
func (qs *QuotaService) checkAndResetQuotas() {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	now := qs.clock.Now()
	resetCount := 0

	for _, entry := range qs.quotas {
		if now.After(entry.ResetTime) {
			entry.UsedMB = 0
			entry.ResetTime = qs.calculateResetTime()
			entry.LastUpdate = now
			resetCount++
		}
	}

	if resetCount > 0 {
		logger.Logger.Info("Quota reset completed", zap.Int("entries_reset", resetCount))
	}
}

// Stop stops the quota service
func (qs *QuotaService) Stop() {
	if qs.cfg.Enabled {
		qs.quitChan <- true
	}
}
