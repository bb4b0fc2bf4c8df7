package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"vidfetch/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, maxEntries int) *HistoryRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewHistoryRepository(client, maxEntries)
}

func TestRecordDownloadAndHistory(t *testing.T) {
	repo := newTestRepository(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := repo.RecordDownload(ctx, "alice", model.HistoryEntry{
			JobID:     fmt.Sprintf("job-%d", i),
			URL:       "https://youtube.com/watch?v=abc",
			Platform:  "YouTube",
			Quality:   model.QualityHD,
			Success:   i != 1,
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	entries, err := repo.History(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "job-2", entries[0].JobID, "history must be newest first")
	require.False(t, entries[1].Success)

	other, err := repo.History(ctx, "bob", 10)
	require.NoError(t, err)
	require.Empty(t, other, "users must not see each other's history")
}

func TestRecordDownloadTrimsToCap(t *testing.T) {
	repo := newTestRepository(t, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		err := repo.RecordDownload(ctx, "alice", model.HistoryEntry{
			JobID:    fmt.Sprintf("job-%d", i),
			Platform: "YouTube",
			Success:  true,
		})
		require.NoError(t, err)
	}

	entries, err := repo.History(ctx, "alice", 50)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, "job-11", entries[0].JobID)
	require.Equal(t, "job-7", entries[4].JobID)
}

func TestStats(t *testing.T) {
	repo := newTestRepository(t, 0)
	ctx := context.Background()

	plan := []struct {
		platform string
		success  bool
	}{
		{"YouTube", true},
		{"YouTube", true},
		{"TikTok", true},
		{"YouTube", false},
	}
	for i, p := range plan {
		err := repo.RecordDownload(ctx, "alice", model.HistoryEntry{
			JobID:    fmt.Sprintf("job-%d", i),
			Platform: p.platform,
			Success:  p.success,
		})
		require.NoError(t, err)
	}

	stats, err := repo.Stats(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 4, stats.TotalDownloads)
	require.EqualValues(t, 3, stats.SuccessfulDownloads)
	require.Equal(t, 75.0, stats.SuccessRate)
	require.EqualValues(t, 2, stats.PlatformBreakdown["YouTube"])
	require.EqualValues(t, 1, stats.PlatformBreakdown["TikTok"])
	require.EqualValues(t, 0, stats.TotalFavorites)
}

func TestStatsFreshUser(t *testing.T) {
	repo := newTestRepository(t, 0)

	stats, err := repo.Stats(context.Background(), "nobody")
	require.NoError(t, err)
	require.Zero(t, stats.TotalDownloads)
	require.Zero(t, stats.SuccessRate)
	require.Empty(t, stats.PlatformBreakdown)
}

func TestFavoritesLifecycle(t *testing.T) {
	repo := newTestRepository(t, 0)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		fav := model.Favorite{
			ID:        fmt.Sprintf("fav-%d", i),
			URL:       fmt.Sprintf("https://youtube.com/watch?v=%d", i),
			Title:     fmt.Sprintf("Video %d", i),
			Platform:  "YouTube",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.AddFavorite(ctx, "alice", fav))
	}

	err := repo.AddFavorite(ctx, "alice", model.Favorite{
		ID:        "fav-dup",
		URL:       "https://youtube.com/watch?v=0",
		CreatedAt: base,
	})
	require.ErrorIs(t, err, ErrDuplicate)

	favorites, total, err := repo.Favorites(ctx, "alice", 0, 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, favorites, 2)
	require.Equal(t, "fav-2", favorites[0].ID, "favorites must be newest first")

	favorites, total, err = repo.Favorites(ctx, "alice", 2, 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, favorites, 1)
	require.Equal(t, "fav-0", favorites[0].ID)

	require.NoError(t, repo.RemoveFavorite(ctx, "alice", "fav-0"))
	require.ErrorIs(t, repo.RemoveFavorite(ctx, "alice", "fav-0"), ErrNotFound)

	_, total, err = repo.Favorites(ctx, "alice", 0, 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	// Removal frees the URL slot for saving again
	require.NoError(t, repo.AddFavorite(ctx, "alice", model.Favorite{
		ID:        "fav-again",
		URL:       "https://youtube.com/watch?v=0",
		CreatedAt: base.Add(time.Hour),
	}))
}

func TestSearchFavorites(t *testing.T) {
	repo := newTestRepository(t, 0)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	seed := []model.Favorite{
		{ID: "f1", URL: "https://youtube.com/watch?v=1", Title: "Go Concurrency Talk", Platform: "YouTube", CreatedAt: base},
		{ID: "f2", URL: "https://tiktok.com/@u/video/2", Title: "Cooking pasta", Platform: "TikTok", CreatedAt: base.Add(time.Minute)},
		{ID: "f3", URL: "https://vimeo.com/3", Title: "Goroutines deep dive", Platform: "Vimeo", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, fav := range seed {
		require.NoError(t, repo.AddFavorite(ctx, "alice", fav))
	}

	matches, err := repo.SearchFavorites(ctx, "alice", "go", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "f3", matches[0].ID, "search results must be newest first")

	matches, err = repo.SearchFavorites(ctx, "alice", "TIKTOK", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "f2", matches[0].ID)

	matches, err = repo.SearchFavorites(ctx, "alice", "zzz", 10)
	require.NoError(t, err)
	require.Empty(t, matches)

	matches, err = repo.SearchFavorites(ctx, "alice", "", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2, "empty query lists newest favorites up to the limit")
}
