package model

import (
	"strings"
	"time"
)

// QualityTier names a download quality preset.
type QualityTier string

const (
	QualityBest     QualityTier = "best"
	QualityHD       QualityTier = "hd"
	QualityStandard QualityTier = "standard"
	QualityLow      QualityTier = "low"
	QualityAudio    QualityTier = "audio"
)

// AllQualityTiers lists every known tier in display order.
func AllQualityTiers() []QualityTier {
	return []QualityTier{QualityBest, QualityHD, QualityStandard, QualityLow, QualityAudio}
}

// ParseQualityTier maps user input onto a known tier.
func ParseQualityTier(s string) (QualityTier, error) {
	tier := QualityTier(strings.ToLower(strings.TrimSpace(s)))
	switch tier {
	case QualityBest, QualityHD, QualityStandard, QualityLow, QualityAudio:
		return tier, nil
	}
	return "", ErrUnknownQuality
}

// ExtractionParams are the concrete tool parameters one tier resolves to.
type ExtractionParams struct {
	FormatSelector string
	Container      string
	MaxHeight      int // 0 means source resolution
	AudioOnly      bool
}

// JobStatus tracks a download job through its lifecycle.
type JobStatus string

const (
	StatusPending       JobStatus = "pending"
	StatusRunning       JobStatus = "running"
	StatusSucceeded     JobStatus = "succeeded"
	StatusFailedSize    JobStatus = "failed_size"
	StatusFailedExtract JobStatus = "failed_extract"
	StatusFailedTimeout JobStatus = "failed_timeout"
	StatusCancelled     JobStatus = "cancelled"
)

// IsTerminal reports whether the job has finished, successfully or not.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailedSize, StatusFailedExtract, StatusFailedTimeout, StatusCancelled:
		return true
	}
	return false
}

// IsFailure reports whether the job finished without producing a file.
func (s JobStatus) IsFailure() bool {
	return s.IsTerminal() && s != StatusSucceeded
}

// MediaKind distinguishes artifact types.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// DownloadJob is one submitted download request.
type DownloadJob struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	URL        string      `json:"url"`
	Quality    QualityTier `json:"quality"`
	Status     JobStatus   `json:"status"`
	Title      string      `json:"title,omitempty"`
	Error      string      `json:"error,omitempty"`
	TempDir    string      `json:"-"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Artifact   *Artifact   `json:"artifact,omitempty"`
}

// Artifact describes a completed download handed back to the caller.
type Artifact struct {
	FileID            string    `json:"file_id"`
	FilePath          string    `json:"-"`
	Size              int64     `json:"size"`
	MediaKind         MediaKind `json:"media_kind"`
	SuggestedFilename string    `json:"filename"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// ProgressPhase is the coarse stage of a running job.
type ProgressPhase string

const (
	PhaseDownloading ProgressPhase = "downloading"
	PhaseConverting  ProgressPhase = "converting"
	PhaseFinalizing  ProgressPhase = "finalizing"
)

// IndeterminatePercent marks progress events without a usable percentage.
const IndeterminatePercent = float64(-1)

// ProgressEvent is one throttled progress update for a job.
type ProgressEvent struct {
	JobID     string        `json:"job_id"`
	Phase     ProgressPhase `json:"phase"`
	Percent   float64       `json:"percent"`
	Timestamp time.Time     `json:"timestamp"`
}

// MediaInfo is probe metadata obtained without downloading.
type MediaInfo struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Duration      float64 `json:"duration"` // seconds
	Uploader      string  `json:"uploader"`
	Thumbnail     string  `json:"thumbnail"`
	WebpageURL    string  `json:"webpage_url"`
	IsLive        bool    `json:"is_live"`
	EstimatedSize int64   `json:"estimated_size"` // bytes, 0 when unknown
}

// DownloadedFile represents a finished file tracked for TTL cleanup
type DownloadedFile struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	FilePath  string    `json:"-"`
	Size      int64     `json:"size"`
	MediaKind MediaKind `json:"media_kind"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"url"`
}

// DownloadRequest is the submit-download request body.
type DownloadRequest struct {
	URL     string `json:"url" binding:"required"`
	Quality string `json:"quality"`
}

// FavoriteRequest is the save-favorite request body.
type FavoriteRequest struct {
	URL      string `json:"url" binding:"required"`
	Title    string `json:"title"`
	Quality  string `json:"quality"`
	Duration int    `json:"duration"`
	Size     int64  `json:"size"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// VideoInfo is the probe endpoint response.
type VideoInfo struct {
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	DurationSec   int           `json:"duration"`
	DurationText  string        `json:"duration_text"`
	Uploader      string        `json:"uploader,omitempty"`
	ThumbnailURL  string        `json:"thumbnail_url,omitempty"`
	Platform      string        `json:"platform"`
	IsLive        bool          `json:"is_live"`
	EstimatedSize int64         `json:"estimated_size,omitempty"`
	SizeText      string        `json:"estimated_size_text,omitempty"`
	Qualities     []QualityTier `json:"qualities"`
}

// HistoryEntry records one finished download attempt.
type HistoryEntry struct {
	JobID     string      `json:"job_id"`
	URL       string      `json:"url"`
	Title     string      `json:"title,omitempty"`
	Platform  string      `json:"platform"`
	Quality   QualityTier `json:"quality"`
	Size      int64       `json:"size,omitempty"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Favorite is a user-saved video reference.
type Favorite struct {
	ID        string      `json:"id"`
	URL       string      `json:"url"`
	Title     string      `json:"title"`
	Platform  string      `json:"platform"`
	Quality   QualityTier `json:"quality,omitempty"`
	Duration  int         `json:"duration,omitempty"`
	Size      int64       `json:"size,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// UserStats aggregates a user's download activity.
type UserStats struct {
	TotalDownloads      int64            `json:"total_downloads"`
	SuccessfulDownloads int64            `json:"successful_downloads"`
	SuccessRate         float64          `json:"success_rate"`
	TotalFavorites      int64            `json:"total_favorites"`
	PlatformBreakdown   map[string]int64 `json:"platform_breakdown"`
}

// QuotaInfo describes a user's remaining daily download budget.
type QuotaInfo struct {
	Enabled     bool      `json:"enabled"`
	UsedMB      int64     `json:"used_mb"`
	LimitMB     int64     `json:"limit_mb"`
	RemainingMB int64     `json:"remaining_mb"`
	ResetTime   time.Time `json:"reset_time"`
}
