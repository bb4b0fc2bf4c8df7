package handler

import (
	"errors"
	"net/http"

	"vidfetch/internal/model"
	"vidfetch/internal/service"
	"vidfetch/pkg/logger"
	"vidfetch/pkg/validator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// VideoHandler handles video-related requests
type VideoHandler struct {
	videoService *service.VideoService
	cfg          *model.Config
}

// NewVideoHandler creates a new video handler
func NewVideoHandler(vs *service.VideoService, cfg *model.Config) *VideoHandler {
	return &VideoHandler{
		videoService: vs,
		cfg:          cfg,
	}
}

// GetVideoInfo handles GET /api/video/info
func (h *VideoHandler) GetVideoInfo(c *gin.Context) {
	videoURL := c.Query("url")

	if videoURL == "" {
		logger.Logger.Warn("Empty URL provided")
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_url",
			Message: "Video URL is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	videoURL = validator.SanitizeURL(videoURL)
	if !validator.ValidateURL(videoURL, h.cfg.Security.AllowedDomains) {
		logger.Logger.Warn("Invalid URL domain",
			zap.String("url", videoURL),
			zap.Strings("allowed_domains", h.cfg.Security.AllowedDomains))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_domain",
			Message: "URL domain is not allowed",
			Code:    http.StatusBadRequest,
		})
		return
	}

	videoInfo, err := h.videoService.GetVideoInfo(c.Request.Context(), videoURL)
	if err != nil {
		var extractErr *model.ExtractError
		if errors.As(err, &extractErr) {
			c.JSON(http.StatusUnprocessableEntity, model.ErrorResponse{
				Error:   "extract_failed",
				Message: extractErr.Diagnostic,
				Code:    http.StatusUnprocessableEntity,
			})
			return
		}
		logger.Logger.Error("Failed to get video info", zap.Error(err), zap.String("url", videoURL))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "fetch_failed",
			Message: "Failed to fetch video information",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, videoInfo)
}

// HealthCheck handles GET /health
func (h *VideoHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "vidfetch",
	})
}
