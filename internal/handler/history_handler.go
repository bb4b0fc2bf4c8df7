package handler

import (
	"errors"
	"net/http"
	"strconv"

	"vidfetch/internal/model"
	"vidfetch/internal/repository"
	"vidfetch/internal/service"
	"vidfetch/pkg/logger"
	"vidfetch/pkg/middleware"
	"vidfetch/pkg/validator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HistoryHandler handles download history and favorites requests
type HistoryHandler struct {
	history *service.HistoryService
	cfg     *model.Config
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(hs *service.HistoryService, cfg *model.Config) *HistoryHandler {
	return &HistoryHandler{
		history: hs,
		cfg:     cfg,
	}
}

// GetHistory handles GET /api/history
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	user := middleware.RequestUser(c)
	limit := queryInt(c, "limit", 20)

	entries, err := h.history.History(c.Request.Context(), user, limit)
	if err != nil {
		logger.Logger.Error("Failed to load history", zap.String("user", user), zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "history_failed",
			Message: "Failed to load download history",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

// GetStats handles GET /api/stats
func (h *HistoryHandler) GetStats(c *gin.Context) {
	user := middleware.RequestUser(c)

	stats, err := h.history.Stats(c.Request.Context(), user)
	if err != nil {
		logger.Logger.Error("Failed to load stats", zap.String("user", user), zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "stats_failed",
			Message: "Failed to load download statistics",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ListFavorites handles GET /api/favorites. A q parameter switches from
// paging to search.
func (h *HistoryHandler) ListFavorites(c *gin.Context) {
	user := middleware.RequestUser(c)

	if query := c.Query("q"); query != "" {
		matches, err := h.history.SearchFavorites(c.Request.Context(), user, query, queryInt(c, "limit", 10))
		if err != nil {
			logger.Logger.Error("Favorite search failed", zap.String("user", user), zap.Error(err))
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{
				Error:   "favorites_failed",
				Message: "Failed to search favorites",
				Code:    http.StatusInternalServerError,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"favorites": matches,
			"query":     query,
		})
		return
	}

	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(c, "limit", 20)

	favorites, total, err := h.history.Favorites(c.Request.Context(), user, (page-1)*limit, limit)
	if err != nil {
		logger.Logger.Error("Failed to load favorites", zap.String("user", user), zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "favorites_failed",
			Message: "Failed to load favorites",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"favorites": favorites,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// AddFavorite handles POST /api/favorites
func (h *HistoryHandler) AddFavorite(c *gin.Context) {
	var req model.FavoriteRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
			Code:    http.StatusBadRequest,
		})
		return
	}

	req.URL = validator.SanitizeURL(req.URL)
	if !validator.ValidateURL(req.URL, h.cfg.Security.AllowedDomains) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_domain",
			Message: "URL domain is not allowed",
			Code:    http.StatusBadRequest,
		})
		return
	}

	user := middleware.RequestUser(c)

	favorite, err := h.history.AddFavorite(c.Request.Context(), user, req)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			c.JSON(http.StatusConflict, model.ErrorResponse{
				Error:   "duplicate",
				Message: "URL is already saved as a favorite",
				Code:    http.StatusConflict,
			})
			return
		}
		logger.Logger.Error("Failed to add favorite", zap.String("user", user), zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "favorites_failed",
			Message: "Failed to save favorite",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, favorite)
}

// RemoveFavorite handles DELETE /api/favorites/:id
func (h *HistoryHandler) RemoveFavorite(c *gin.Context) {
	user := middleware.RequestUser(c)
	id := c.Param("id")

	if err := h.history.RemoveFavorite(c.Request.Context(), user, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Error:   "not_found",
				Message: "Favorite not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		logger.Logger.Error("Failed to remove favorite",
			zap.String("user", user),
			zap.String("id", id),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "favorites_failed",
			Message: "Failed to remove favorite",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// queryInt reads an integer query parameter, falling back on bad input.
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
