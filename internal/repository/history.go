package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"vidfetch/internal/model"
	"vidfetch/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyBase          = "vidfetch"
	keyHistory       = "history"   // LIST. JSON entries, newest first.
	keyFavorites     = "favorites" // HASH. favorite_id -> JSON favorite.
	keyFavoriteURLs  = "favurl"    // HASH. url -> favorite_id, duplicate guard.
	keyFavoriteOrder = "favorder"  // ZSET. favorite_id scored by creation time.
	keyStats         = "stats"     // HASH. total / succeeded counters.
	keyPlatformStats = "platform"  // HASH. platform name -> success count.

	keySeparator = ":"

	statTotal     = "total"
	statSucceeded = "succeeded"

	defaultHistoryLimit = 20
	defaultSearchLimit  = 10
	defaultMaxEntries   = 200
)

var (
	ErrNotFound  = errors.New("entry not found")
	ErrDuplicate = errors.New("entry already exists")
)

// HistoryRepository persists download history, favorites and per-user
// counters in Redis.
type HistoryRepository struct {
	cl         *redis.Client
	maxEntries int
}

// NewHistoryRepository creates a repository that keeps at most maxEntries
// history records per user.
func NewHistoryRepository(cl *redis.Client, maxEntries int) *HistoryRepository {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &HistoryRepository{cl: cl, maxEntries: maxEntries}
}

// RecordDownload prepends the entry to the user's history, trims the list
// to the configured cap and bumps the aggregate counters atomically.
func (r *HistoryRepository) RecordDownload(ctx context.Context, user string, entry model.HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cannot encode history entry: %w", err)
	}

	pipe := r.cl.TxPipeline()
	pipe.LPush(ctx, getKey(keyBase, keyHistory, user), payload)
	pipe.LTrim(ctx, getKey(keyBase, keyHistory, user), 0, int64(r.maxEntries-1))
	pipe.HIncrBy(ctx, getKey(keyBase, keyStats, user), statTotal, 1)
	if entry.Success {
		pipe.HIncrBy(ctx, getKey(keyBase, keyStats, user), statSucceeded, 1)
		if entry.Platform != "" {
			pipe.HIncrBy(ctx, getKey(keyBase, keyStats, keyPlatformStats, user), entry.Platform, 1)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot record download: %w", err)
	}
	return nil
}

// History returns the user's most recent entries, newest first.
func (r *HistoryRepository) History(ctx context.Context, user string, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	raw, err := r.cl.LRange(ctx, getKey(keyBase, keyHistory, user), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get history: %w", err)
	}

	entries := make([]model.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry model.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			logger.Logger.Warn("Skipping corrupt history entry",
				zap.String("user", user),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// AddFavorite stores the favorite unless the URL is already saved.
func (r *HistoryRepository) AddFavorite(ctx context.Context, user string, fav model.Favorite) error {
	indexKey := getKey(keyBase, keyFavoriteURLs, user)

	set, err := r.cl.HSetNX(ctx, indexKey, fav.URL, fav.ID).Result()
	if err != nil {
		return fmt.Errorf("cannot reserve favorite url: %w", err)
	}
	if !set {
		return ErrDuplicate
	}

	payload, err := json.Marshal(fav)
	if err != nil {
		r.cl.HDel(ctx, indexKey, fav.URL)
		return fmt.Errorf("cannot encode favorite: %w", err)
	}

	pipe := r.cl.TxPipeline()
	pipe.HSet(ctx, getKey(keyBase, keyFavorites, user), fav.ID, payload)
	pipe.ZAdd(ctx, getKey(keyBase, keyFavoriteOrder, user), redis.Z{
		Score:  float64(fav.CreatedAt.UnixMilli()),
		Member: fav.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		r.cl.HDel(ctx, indexKey, fav.URL)
		return fmt.Errorf("cannot save favorite: %w", err)
	}

	return nil
}

// RemoveFavorite deletes a favorite by id.
func (r *HistoryRepository) RemoveFavorite(ctx context.Context, user, id string) error {
	raw, err := r.cl.HGet(ctx, getKey(keyBase, keyFavorites, user), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("cannot get favorite %s: %w", id, err)
	}

	var fav model.Favorite
	if err := json.Unmarshal([]byte(raw), &fav); err != nil {
		logger.Logger.Warn("Removing corrupt favorite",
			zap.String("user", user),
			zap.String("id", id),
			zap.Error(err))
	}

	pipe := r.cl.TxPipeline()
	pipe.HDel(ctx, getKey(keyBase, keyFavorites, user), id)
	pipe.ZRem(ctx, getKey(keyBase, keyFavoriteOrder, user), id)
	if fav.URL != "" {
		pipe.HDel(ctx, getKey(keyBase, keyFavoriteURLs, user), fav.URL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot remove favorite %s: %w", id, err)
	}

	return nil
}

// Favorites returns one page of the user's favorites, newest first, plus
// the total count.
func (r *HistoryRepository) Favorites(ctx context.Context, user string, offset, limit int) ([]model.Favorite, int64, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	orderKey := getKey(keyBase, keyFavoriteOrder, user)

	total, err := r.cl.ZCard(ctx, orderKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("cannot count favorites: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	ids, err := r.cl.ZRevRange(ctx, orderKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("cannot page favorites: %w", err)
	}
	if len(ids) == 0 {
		return nil, total, nil
	}

	raw, err := r.cl.HMGet(ctx, getKey(keyBase, keyFavorites, user), ids...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("cannot get favorites: %w", err)
	}

	favorites := make([]model.Favorite, 0, len(raw))
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			continue
		}
		var fav model.Favorite
		if err := json.Unmarshal([]byte(str), &fav); err != nil {
			logger.Logger.Warn("Skipping corrupt favorite",
				zap.String("user", user),
				zap.Error(err))
			continue
		}
		favorites = append(favorites, fav)
	}

	return favorites, total, nil
}

// SearchFavorites returns favorites whose title or platform contains the
// query, newest first.
func (r *HistoryRepository) SearchFavorites(ctx context.Context, user, query string, limit int) ([]model.Favorite, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query = strings.ToLower(strings.TrimSpace(query))

	raw, err := r.cl.HGetAll(ctx, getKey(keyBase, keyFavorites, user)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get favorites: %w", err)
	}

	matches := make([]model.Favorite, 0, len(raw))
	for id, item := range raw {
		var fav model.Favorite
		if err := json.Unmarshal([]byte(item), &fav); err != nil {
			logger.Logger.Warn("Skipping corrupt favorite",
				zap.String("user", user),
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(fav.Title), query) &&
			!strings.Contains(strings.ToLower(fav.Platform), query) {
			continue
		}
		matches = append(matches, fav)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// Stats aggregates the user's download counters and favorite count.
func (r *HistoryRepository) Stats(ctx context.Context, user string) (*model.UserStats, error) {
	pipe := r.cl.Pipeline()
	countersCmd := pipe.HGetAll(ctx, getKey(keyBase, keyStats, user))
	platformsCmd := pipe.HGetAll(ctx, getKey(keyBase, keyStats, keyPlatformStats, user))
	favoritesCmd := pipe.ZCard(ctx, getKey(keyBase, keyFavoriteOrder, user))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cannot get stats: %w", err)
	}

	counters := countersCmd.Val()
	stats := &model.UserStats{
		TotalDownloads:      parseCounter(counters[statTotal]),
		SuccessfulDownloads: parseCounter(counters[statSucceeded]),
		TotalFavorites:      favoritesCmd.Val(),
		PlatformBreakdown:   make(map[string]int64),
	}

	for platform, count := range platformsCmd.Val() {
		stats.PlatformBreakdown[platform] = parseCounter(count)
	}

	if stats.TotalDownloads > 0 {
		rate := float64(stats.SuccessfulDownloads) / float64(stats.TotalDownloads) * 100
		stats.SuccessRate = float64(int(rate*10+0.5)) / 10
	}

	return stats, nil
}

func parseCounter(value string) int64 {
	if value == "" {
		return 0
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return count
}

func getKey(keys ...string) string {
	return strings.Join(keys, keySeparator)
}
