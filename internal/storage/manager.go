package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidfetch/internal/model"
	"vidfetch/pkg/clock"
	"vidfetch/pkg/logger"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Manager tracks finished download files and removes them once their
// TTL passes.
type Manager struct {
	cfg      *model.StorageConfig
	fs       afero.Fs
	clock    clock.Clock
	files    map[string]*model.DownloadedFile
	mu       sync.RWMutex
	quitChan chan bool
}

// NewManager creates a new storage manager on top of fs
func NewManager(cfg *model.StorageConfig, fs afero.Fs, clk clock.Clock) *Manager {
	return &Manager{
		cfg:      cfg,
		fs:       fs,
		clock:    clk,
		files:    make(map[string]*model.DownloadedFile),
		quitChan: make(chan bool),
	}
}

// Start starts the cleanup routine
func (m *Manager) Start() {
	go m.cleanupRoutine()
}

// Stop stops the cleanup routine
func (m *Manager) Stop() {
	select {
	case m.quitChan <- true:
	default:
		logger.Logger.Warn("Could not send stop signal to cleanup routine")
	}
}

// SaveFile registers a finished file for TTL tracking
func (m *Manager) SaveFile(id string, file *model.DownloadedFile) {
	now := m.clock.Now()
	file.ID = id
	file.CreatedAt = now
	file.ExpiresAt = now.Add(time.Duration(m.cfg.FileTTLSeconds) * time.Second)

	m.mu.Lock()
	m.files[id] = file
	m.mu.Unlock()

	logger.Logger.Info("File saved",
		zap.String("id", id),
		zap.String("filename", file.Filename),
		zap.Time("expires_at", file.ExpiresAt))
}

// cleanupRoutine periodically removes expired files
func (m *Manager) cleanupRoutine() {
	ticker := time.NewTicker(time.Duration(m.cfg.CleanupInterval) * time.Second)
	defer ticker.Stop()

	logger.Logger.Info("Storage cleanup routine started",
		zap.Int("cleanup_interval_seconds", m.cfg.CleanupInterval),
		zap.Int("file_ttl_seconds", m.cfg.FileTTLSeconds))

	for {
		select {
		case <-m.quitChan:
			logger.Logger.Info("Storage cleanup routine stopped")
			return
		case <-ticker.C:
			m.cleanupExpiredFiles()
		}
	}
}

// cleanupExpiredFiles removes files that have expired
func (m *Manager) cleanupExpiredFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	deletedCount := 0
	errorCount := 0
	var deletedIds []string

	for id, file := range m.files {
		if !now.After(file.ExpiresAt) {
			continue
		}

		if err := m.fs.Remove(file.FilePath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Already gone, just stop tracking it
				logger.Logger.Debug("File already deleted",
					zap.String("id", id),
					zap.String("path", file.FilePath))
			} else {
				logger.Logger.Error("Failed to remove file",
					zap.String("id", id),
					zap.String("path", file.FilePath),
					zap.Error(err))
				errorCount++
			}
		} else {
			logger.Logger.Info("File removed by cleanup",
				zap.String("id", id),
				zap.String("path", file.FilePath))
			deletedCount++
		}

		// Drop from tracking regardless of deletion success
		deletedIds = append(deletedIds, id)
	}

	for _, id := range deletedIds {
		delete(m.files, id)
	}

	if deletedCount > 0 || errorCount > 0 {
		logger.Logger.Info("Storage cleanup completed",
			zap.Int("deleted_count", deletedCount),
			zap.Int("error_count", errorCount),
			zap.Int("remaining_tracked_files", len(m.files)))
	}
}

// GetFile gets file info by ID
func (m *Manager) GetFile(id string) *model.DownloadedFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[id]
}

// OpenFile opens a tracked file for streaming to a client
func (m *Manager) OpenFile(id string) (*model.DownloadedFile, afero.File, error) {
	m.mu.RLock()
	file := m.files[id]
	m.mu.RUnlock()

	if file == nil {
		return nil, nil, os.ErrNotExist
	}
	if m.clock.Now().After(file.ExpiresAt) {
		return nil, nil, os.ErrNotExist
	}

	handle, err := m.fs.Open(file.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return file, handle, nil
}

// EnsureDownloadDir ensures download directory exists
func (m *Manager) EnsureDownloadDir() error {
	return m.fs.MkdirAll(m.cfg.DownloadDir, 0755)
}

// GetDownloadPath returns the path where a finished file should live
func (m *Manager) GetDownloadPath(filename string) string {
	return filepath.Join(m.cfg.DownloadDir, filename)
}

// GetFileTTL returns the file time to live in seconds
func (m *Manager) GetFileTTL() int {
	return m.cfg.FileTTLSeconds
}

// GetTrackedFilesCount returns the number of files currently being tracked
func (m *Manager) GetTrackedFilesCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// GetExpiredFilesCount returns the number of files that have expired but not yet deleted
func (m *Manager) GetExpiredFilesCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	count := 0
	for _, file := range m.files {
		if now.After(file.ExpiresAt) {
			count++
		}
	}
	return count
}

// ManualCleanup manually triggers a cleanup run (useful for testing)
func (m *Manager) ManualCleanup() {
	m.cleanupExpiredFiles()
}
