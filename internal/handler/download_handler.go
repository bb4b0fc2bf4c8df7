package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"vidfetch/internal/model"
	"vidfetch/internal/service"
	"vidfetch/pkg/logger"
	"vidfetch/pkg/middleware"
	"vidfetch/pkg/validator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DownloadHandler handles download-related requests
type DownloadHandler struct {
	downloadService *service.DownloadService
	tracker         *service.ProgressTracker
	rateLimit       *service.RateLimitService
	quality         *service.QualityService
	cfg             *model.Config
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(ds *service.DownloadService, tracker *service.ProgressTracker, rls *service.RateLimitService, qs *service.QualityService, cfg *model.Config) *DownloadHandler {
	return &DownloadHandler{
		downloadService: ds,
		tracker:         tracker,
		rateLimit:       rls,
		quality:         qs,
		cfg:             cfg,
	}
}

// StartDownload handles POST /api/download
func (h *DownloadHandler) StartDownload(c *gin.Context) {
	var req model.DownloadRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Logger.Warn("Invalid download request", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
			Code:    http.StatusBadRequest,
		})
		return
	}

	rawURL := validator.SanitizeURL(req.URL)
	if !validator.ValidateURL(rawURL, h.cfg.Security.AllowedDomains) {
		logger.Logger.Warn("Invalid URL domain", zap.String("url", req.URL))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_domain",
			Message: "URL domain is not allowed",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if req.Quality == "" {
		req.Quality = string(model.QualityBest)
	}
	tier, err := model.ParseQualityTier(req.Quality)
	if err != nil {
		logger.Logger.Warn("Unknown quality tier", zap.String("quality", req.Quality))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_quality",
			Message: fmt.Sprintf("Unknown quality %q", req.Quality),
			Code:    http.StatusBadRequest,
		})
		return
	}
	if !h.quality.IsEnabled(tier) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "quality_disabled",
			Message: fmt.Sprintf("Quality %q is not offered here", tier),
			Code:    http.StatusBadRequest,
		})
		return
	}

	user := middleware.RequestUser(c)

	job, err := h.downloadService.Submit(user, rawURL, tier)
	if err != nil {
		h.writeSubmitError(c, user, err)
		return
	}

	if remaining := h.rateLimit.Remaining(user); remaining >= 0 {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job":        job,
		"status_url": "/api/jobs/" + job.ID,
		"events_url": "/api/jobs/" + job.ID + "/events",
	})
}

// writeSubmitError maps admission failures onto HTTP responses.
func (h *DownloadHandler) writeSubmitError(c *gin.Context, user string, err error) {
	var rateErr *model.RateLimitError
	var quotaErr *model.QuotaError

	switch {
	case errors.As(err, &rateErr):
		retrySeconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if retrySeconds < 1 {
			retrySeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retrySeconds))
		c.Header("X-RateLimit-Remaining", "0")
		logger.Logger.Warn("Download rejected by rate limit",
			zap.String("user", user),
			zap.Duration("retry_after", rateErr.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "rate_limited",
			"message":             rateErr.Error(),
			"code":                http.StatusTooManyRequests,
			"retry_after_seconds": retrySeconds,
		})

	case errors.As(err, &quotaErr):
		logger.Logger.Warn("Download rejected by quota", zap.String("user", user))
		c.JSON(http.StatusPaymentRequired, model.ErrorResponse{
			Error:   "quota_exhausted",
			Message: "Daily download quota exhausted. Please try again after quota reset.",
			Code:    http.StatusPaymentRequired,
		})

	case errors.Is(err, model.ErrUnknownQuality):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_quality",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})

	default:
		logger.Logger.Error("Download submit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "submit_failed",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
	}
}

// GetJob handles GET /api/jobs/:id
func (h *DownloadHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.downloadService.Job(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Error:   "not_found",
			Message: "Job not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	resp := gin.H{"job": job}
	if job.Artifact != nil {
		resp["download_url"] = "/api/download/" + job.Artifact.FileID
	}
	c.JSON(http.StatusOK, resp)
}

// StreamEvents handles GET /api/jobs/:id/events as server-sent events.
// The stream carries throttled progress updates and ends with a done
// event holding the terminal job state.
func (h *DownloadHandler) StreamEvents(c *gin.Context) {
	jobID := c.Param("id")

	if _, err := h.downloadService.Job(jobID); err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Error:   "not_found",
			Message: "Job not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	events := h.tracker.Subscribe(jobID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				h.writeFinalEvent(c, jobID)
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", payload)
			c.Writer.Flush()
		}
	}
}

// writeFinalEvent emits the terminal job snapshot once the progress
// sequence has closed.
func (h *DownloadHandler) writeFinalEvent(c *gin.Context, jobID string) {
	job, err := h.downloadService.Job(jobID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: done\ndata: %s\n\n", payload)
	c.Writer.Flush()
}

// CancelJob handles DELETE /api/jobs/:id
func (h *DownloadHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("id")

	err := h.downloadService.Cancel(jobID)
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Error:   "not_found",
			Message: "Job not found",
			Code:    http.StatusNotFound,
		})
	case errors.Is(err, service.ErrJobFinished):
		c.JSON(http.StatusConflict, model.ErrorResponse{
			Error:   "already_finished",
			Message: "Job already reached a terminal state",
			Code:    http.StatusConflict,
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "cancel_failed",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	}
}

// GetFile handles GET /api/download/:id
func (h *DownloadHandler) GetFile(c *gin.Context) {
	fileID := c.Param("id")

	if fileID == "" {
		logger.Logger.Warn("Empty file ID")
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_id",
			Message: "File ID is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	file, handle, err := h.downloadService.OpenArtifact(fileID)
	if err != nil {
		logger.Logger.Warn("File not found", zap.String("file_id", fileID))
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Error:   "not_found",
			Message: "File not found or has expired",
			Code:    http.StatusNotFound,
		})
		return
	}
	defer handle.Close()

	// Set proper Content-Disposition header with filename encoding
	// Use RFC 5987 for proper handling of unicode and special characters
	contentDisposition := buildContentDispositionHeader(file.Filename)
	c.Header("Content-Disposition", contentDisposition)
	c.Header("Content-Type", "application/octet-stream")
	http.ServeContent(c.Writer, c.Request, file.Filename, file.CreatedAt, handle)

	logger.Logger.Info("File downloaded by user",
		zap.String("file_id", fileID),
		zap.String("filename", file.Filename))
}

// buildContentDispositionHeader builds a proper Content-Disposition header
// with RFC 5987 encoding for unicode and special characters
func buildContentDispositionHeader(filename string) string {
	// Check if filename needs encoding (has non-ASCII or special characters)
	needsEncoding := false
	for _, r := range filename {
		if r > 127 || r == '"' || r == '\\' || r == ';' || r == ',' {
			needsEncoding = true
			break
		}
	}

	// Also check for spaces - they should be quoted at minimum
	if strings.ContainsAny(filename, " \t\n\r") {
		needsEncoding = true
	}

	if !needsEncoding {
		// Simple ASCII filename without special characters
		// Just quote it for safety
		return fmt.Sprintf(`attachment; filename="%s"`, filename)
	}

	// Use RFC 5987 encoding for unicode and special characters
	// Format: filename*=UTF-8''<percent-encoded-filename>
	encodedFilename := url.QueryEscape(filename)
	return fmt.Sprintf(`attachment; filename*=UTF-8''%s`, encodedFilename)
}
