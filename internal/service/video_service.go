package service

import (
	"context"
	"time"

	"vidfetch/internal/extractor"
	"vidfetch/internal/model"
	"vidfetch/pkg/format"
	"vidfetch/pkg/logger"
	"vidfetch/pkg/validator"

	"go.uber.org/zap"
)

// probeTimeout bounds metadata-only lookups, which should be far quicker
// than a full download.
const probeTimeout = 60 * time.Second

// VideoService handles video metadata lookups
type VideoService struct {
	extractor extractor.Extractor
	quality   *QualityService
}

// NewVideoService creates a new video service
func NewVideoService(ext extractor.Extractor, quality *QualityService) *VideoService {
	return &VideoService{
		extractor: ext,
		quality:   quality,
	}
}

// GetVideoInfo probes the URL and shapes the metadata for clients,
// including the quality tiers this deployment offers for it.
func (s *VideoService) GetVideoInfo(ctx context.Context, videoURL string) (*model.VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	info, err := s.extractor.Probe(ctx, videoURL)
	if err != nil {
		logger.Logger.Warn("Video probe failed",
			zap.String("url", videoURL),
			zap.Error(err))
		return nil, err
	}

	videoInfo := &model.VideoInfo{
		URL:           videoURL,
		Title:         info.Title,
		DurationSec:   int(info.Duration),
		DurationText:  format.Duration(int(info.Duration)),
		Uploader:      info.Uploader,
		ThumbnailURL:  info.Thumbnail,
		Platform:      validator.PlatformName(videoURL),
		IsLive:        info.IsLive,
		EstimatedSize: info.EstimatedSize,
		Qualities:     s.quality.EnabledTiers(),
	}
	if info.EstimatedSize > 0 {
		videoInfo.SizeText = format.FileSize(info.EstimatedSize)
	}

	logger.Logger.Info("Video info retrieved",
		zap.String("title", videoInfo.Title),
		zap.String("platform", videoInfo.Platform))
	return videoInfo, nil
}
