package service

import (
	"context"
	"time"

	"vidfetch/internal/model"
	"vidfetch/internal/repository"
	"vidfetch/pkg/clock"
	"vidfetch/pkg/logger"
	"vidfetch/pkg/validator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recordTimeout bounds the write triggered by a finished job so a slow
// Redis cannot stall completion callbacks.
const recordTimeout = 5 * time.Second

// HistoryService records finished downloads and manages favorites
type HistoryService struct {
	repo  *repository.HistoryRepository
	clock clock.Clock
}

// NewHistoryService creates a new history service
func NewHistoryService(repo *repository.HistoryRepository, clk clock.Clock) *HistoryService {
	return &HistoryService{repo: repo, clock: clk}
}

// RecordJob persists a terminal job into the owner's history. It is
// wired as the download service's completion callback.
func (s *HistoryService) RecordJob(job *model.DownloadJob) {
	if job == nil || !job.Status.IsTerminal() {
		return
	}

	entry := model.HistoryEntry{
		JobID:     job.ID,
		URL:       job.URL,
		Title:     job.Title,
		Platform:  validator.PlatformName(job.URL),
		Quality:   job.Quality,
		Success:   job.Status == model.StatusSucceeded,
		Error:     job.Error,
		CreatedAt: s.clock.Now().UTC(),
	}
	if job.Artifact != nil {
		entry.Size = job.Artifact.Size
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := s.repo.RecordDownload(ctx, job.UserID, entry); err != nil {
		logger.Logger.Error("Failed to record download history",
			zap.String("job_id", job.ID),
			zap.String("user", job.UserID),
			zap.Error(err))
	}
}

// History returns the user's most recent downloads.
func (s *HistoryService) History(ctx context.Context, user string, limit int) ([]model.HistoryEntry, error) {
	return s.repo.History(ctx, user, limit)
}

// Stats returns the user's aggregate download counters.
func (s *HistoryService) Stats(ctx context.Context, user string) (*model.UserStats, error) {
	return s.repo.Stats(ctx, user)
}

// AddFavorite saves a favorite for the user and returns it with its
// assigned id.
func (s *HistoryService) AddFavorite(ctx context.Context, user string, req model.FavoriteRequest) (*model.Favorite, error) {
	fav := model.Favorite{
		ID:        uuid.New().String(),
		URL:       req.URL,
		Title:     req.Title,
		Platform:  validator.PlatformName(req.URL),
		Quality:   model.QualityTier(req.Quality),
		Duration:  req.Duration,
		Size:      req.Size,
		CreatedAt: s.clock.Now().UTC(),
	}
	if fav.Title == "" {
		fav.Title = fav.Platform + " video"
	}

	if err := s.repo.AddFavorite(ctx, user, fav); err != nil {
		return nil, err
	}
	return &fav, nil
}

// Favorites returns one page of the user's favorites plus the total.
func (s *HistoryService) Favorites(ctx context.Context, user string, offset, limit int) ([]model.Favorite, int64, error) {
	return s.repo.Favorites(ctx, user, offset, limit)
}

// SearchFavorites returns favorites matching the query.
func (s *HistoryService) SearchFavorites(ctx context.Context, user, query string, limit int) ([]model.Favorite, error) {
	return s.repo.SearchFavorites(ctx, user, query, limit)
}

// RemoveFavorite deletes one of the user's favorites.
func (s *HistoryService) RemoveFavorite(ctx context.Context, user, id string) error {
	return s.repo.RemoveFavorite(ctx, user, id)
}
