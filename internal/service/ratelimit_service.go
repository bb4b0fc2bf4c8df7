package service

import (
	"sync"
	"time"

	"vidfetch/internal/model"
	"vidfetch/pkg/clock"
	"vidfetch/pkg/logger"

	"go.uber.org/zap"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// rateWindow holds one user's admission timestamps, oldest first. Each
// window carries its own mutex so checks for the same user are mutually
// exclusive without serializing different users against each other.
type rateWindow struct {
	mu      sync.Mutex
	stamps  []time.Time
	evicted bool
}

// prune drops timestamps that have aged out of the window.
func (w *rateWindow) prune(now time.Time, windowSize time.Duration) {
	cutoff := now.Add(-windowSize)
	idx := 0
	for idx < len(w.stamps) && !w.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[idx:]...)
	}
}

// RateLimitService admits download requests under a per-user sliding
// window: at most MaxRequests admissions within any WindowSeconds span.
type RateLimitService struct {
	cfg      *model.RateLimitConfig
	clock    clock.Clock
	mu       sync.RWMutex
	windows  map[string]*rateWindow
	quitChan chan bool
}

// NewRateLimitService creates a rate limit service driven by clk.
func NewRateLimitService(cfg *model.RateLimitConfig, clk clock.Clock) *RateLimitService {
	service := &RateLimitService{
		cfg:      cfg,
		clock:    clk,
		windows:  make(map[string]*rateWindow),
		quitChan: make(chan bool),
	}

	if cfg.Enabled && cfg.CleanupInterval > 0 {
		go service.cleanupRoutine()
	}

	return service
}

// Admit decides whether the user may start another download now. A
// rejection carries the wait until the oldest admission ages out of the
// window.
func (rls *RateLimitService) Admit(user string) Decision {
	if !rls.cfg.Enabled {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := rls.clock.Now()
	windowSize := rls.windowDuration()

	w := rls.lockWindow(user)
	defer w.mu.Unlock()

	w.prune(now, windowSize)

	if len(w.stamps) < rls.cfg.MaxRequests {
		w.stamps = append(w.stamps, now)
		remaining := rls.cfg.MaxRequests - len(w.stamps)
		logger.Logger.Debug("Request admitted",
			zap.String("user", user),
			zap.Int("in_window", len(w.stamps)),
			zap.Int("remaining", remaining))
		return Decision{Allowed: true, Remaining: remaining}
	}

	retryAfter := w.stamps[0].Add(windowSize).Sub(now)
	logger.Logger.Warn("Rate limit exceeded",
		zap.String("user", user),
		zap.Int("limit", rls.cfg.MaxRequests),
		zap.Duration("retry_after", retryAfter))
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

// Remaining reports how many admissions the user has left in the current
// window, or -1 when limiting is disabled. It never consumes a slot.
func (rls *RateLimitService) Remaining(user string) int {
	if !rls.cfg.Enabled {
		return -1
	}

	rls.mu.RLock()
	w, exists := rls.windows[user]
	rls.mu.RUnlock()
	if !exists {
		return rls.cfg.MaxRequests
	}

	now := rls.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, rls.windowDuration())

	remaining := rls.cfg.MaxRequests - len(w.stamps)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset clears the window for a user (admin operation)
func (rls *RateLimitService) Reset(user string) {
	rls.mu.Lock()
	delete(rls.windows, user)
	rls.mu.Unlock()
	logger.Logger.Info("Rate limit reset", zap.String("user", user))
}

// lockWindow returns the user's window with its mutex held, retrying if
// the cleanup routine evicted the entry between lookup and lock.
func (rls *RateLimitService) lockWindow(user string) *rateWindow {
	for {
		w := rls.window(user)
		w.mu.Lock()
		if !w.evicted {
			return w
		}
		w.mu.Unlock()
	}
}

// window returns the user's window, creating it on first use.
func (rls *RateLimitService) window(user string) *rateWindow {
	rls.mu.RLock()
	w, exists := rls.windows[user]
	rls.mu.RUnlock()
	if exists {
		return w
	}

	rls.mu.Lock()
	defer rls.mu.Unlock()
	if w, exists = rls.windows[user]; exists {
		return w
	}
	w = &rateWindow{}
	rls.windows[user] = w
	return w
}

// cleanupRoutine periodically evicts idle user windows
func (rls *RateLimitService) cleanupRoutine() {
	ticker := time.NewTicker(time.Duration(rls.cfg.CleanupInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-rls.quitChan:
			logger.Logger.Info("Rate limit service stopped")
			return
		case <-ticker.C:
			rls.cleanup()
		}
	}
}

// cleanup removes windows whose entries all aged out.
func (rls *RateLimitService) cleanup() {
	now := rls.clock.Now()
	windowSize := rls.windowDuration()

	rls.mu.Lock()
	defer rls.mu.Unlock()

	removed := 0
	for user, w := range rls.windows {
		w.mu.Lock()
		w.prune(now, windowSize)
		if len(w.stamps) == 0 {
			w.evicted = true
			delete(rls.windows, user)
			removed++
		}
		w.mu.Unlock()
	}

	if removed > 0 {
		logger.Logger.Debug("Rate limit windows evicted",
			zap.Int("removed", removed),
			zap.Int("remaining", len(rls.windows)))
	}
}

func (rls *RateLimitService) windowDuration() time.Duration {
	return time.Duration(rls.cfg.WindowSeconds) * time.Second
}

// Stop stops the cleanup routine
func (rls *RateLimitService) Stop() {
	if rls.cfg.Enabled && rls.cfg.CleanupInterval > 0 {
		rls.quitChan <- true
	}
}
