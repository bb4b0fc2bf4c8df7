package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vidfetch/internal/extractor"
	"vidfetch/internal/model"
	"vidfetch/internal/storage"
	"vidfetch/pkg/clock"

	"github.com/spf13/afero"
)

// fakeExtractor scripts the extraction tool for orchestrator tests.
type fakeExtractor struct {
	mu         sync.Mutex
	info       model.MediaInfo
	probeErr   error
	fetchFn    func(ctx context.Context, req extractor.Request) (*extractor.Result, error)
	fetchCalls int
}

func (f *fakeExtractor) Probe(ctx context.Context, url string) (*model.MediaInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	info := f.info
	return &info, nil
}

func (f *fakeExtractor) Fetch(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
	f.mu.Lock()
	f.fetchCalls++
	fn := f.fetchFn
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx, req)
}

func (f *fakeExtractor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// writeOutput returns a fetch script that emits two progress samples and
// writes an output file of the given size into the scoped directory.
func writeOutput(fs afero.Fs, size int) func(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
	return func(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
		if req.OnProgress != nil {
			req.OnProgress(extractor.Progress{Phase: model.PhaseDownloading, Percent: 50})
			req.OnProgress(extractor.Progress{Phase: model.PhaseDownloading, Percent: 100})
		}
		path := filepath.Join(req.DestDir, "Test Video [abc].mp4")
		if err := afero.WriteFile(fs, path, make([]byte, size), 0644); err != nil {
			return nil, err
		}
		return &extractor.Result{OutputPath: path}, nil
	}
}

type downloadFixture struct {
	svc     *DownloadService
	fs      afero.Fs
	ext     *fakeExtractor
	cfg     *model.Config
	tracker *ProgressTracker
	storage *storage.Manager
}

func newDownloadFixture(t *testing.T, mutate func(*model.Config)) *downloadFixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	cfg := &model.Config{
		Storage: model.StorageConfig{
			DownloadDir:     "/downloads",
			TempDir:         "/scratch",
			CleanupInterval: 3600,
			FileTTLSeconds:  600,
		},
		Download: model.DownloadConfig{
			MaxOutputSizeBytes: 1 << 20, // 1 MiB
			TimeoutSeconds:     5,
			YTDLPPath:          "yt-dlp",
		},
		RateLimit: model.RateLimitConfig{Enabled: true, MaxRequests: 100, WindowSeconds: 60},
		Quota:     model.QuotaConfig{Enabled: false},
		Quality:   model.QualityConfig{EnabledTiers: model.AllQualityTiers()},
	}
	if mutate != nil {
		mutate(cfg)
	}

	clk := clock.System{}
	ext := &fakeExtractor{info: model.MediaInfo{ID: "abc", Title: "Test Video", Duration: 60}}
	ext.fetchFn = writeOutput(fs, 1024)

	tracker := NewProgressTracker(time.Millisecond)
	quality := NewQualityService(&cfg.Quality, cfg.Download.MaxOutputSizeBytes)
	rateLimit := NewRateLimitService(&cfg.RateLimit, clk)
	quota := NewQuotaService(&cfg.Quota, clk)
	sm := storage.NewManager(&cfg.Storage, fs, clk)

	svc := NewDownloadService(cfg, fs, ext, quality, tracker, rateLimit, quota, sm, clk)
	return &downloadFixture{svc: svc, fs: fs, ext: ext, cfg: cfg, tracker: tracker, storage: sm}
}

func waitTerminal(t *testing.T, svc *DownloadService, id string) *model.DownloadJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Job(id)
		if err != nil {
			t.Fatalf("Job(%s): %v", id, err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", id)
	return nil
}

// scopedDirCount counts job directories left under the temp root.
func scopedDirCount(fs afero.Fs, root string) int {
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			count++
		}
	}
	return count
}

func TestSubmitSucceeds(t *testing.T) {
	f := newDownloadFixture(t, nil)

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityHD)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != model.StatusPending && job.Status != model.StatusRunning {
		t.Errorf("fresh job status = %s, expected pending or running", job.Status)
	}

	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusSucceeded {
		t.Fatalf("job status = %s (error %q), expected succeeded", done.Status, done.Error)
	}
	if done.Artifact == nil {
		t.Fatal("succeeded job should carry an artifact")
	}
	if done.Title != "Test Video" {
		t.Errorf("job title = %q, expected probe title", done.Title)
	}
	if done.Artifact.Size != 1024 {
		t.Errorf("artifact size = %d, expected 1024", done.Artifact.Size)
	}
	if done.FinishedAt == nil {
		t.Error("terminal job should have a finish time")
	}

	// The artifact lives outside the scoped dir and the scoped dir is gone
	if exists, _ := afero.Exists(f.fs, done.Artifact.FilePath); !exists {
		t.Errorf("artifact file %s should exist", done.Artifact.FilePath)
	}
	if !strings.HasPrefix(done.Artifact.FilePath, f.cfg.Storage.DownloadDir) {
		t.Errorf("artifact path %q should live in the download dir", done.Artifact.FilePath)
	}
	if n := scopedDirCount(f.fs, f.cfg.Storage.TempDir); n != 0 {
		t.Errorf("%d scoped directories left behind, expected 0", n)
	}

	// The storage manager tracks it for TTL cleanup
	if f.storage.GetFile(done.Artifact.FileID) == nil {
		t.Error("artifact should be tracked by the storage manager")
	}
}

func TestSubmitUnknownQuality(t *testing.T) {
	f := newDownloadFixture(t, nil)

	_, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", "8k")
	if !errors.Is(err, model.ErrUnknownQuality) {
		t.Errorf("Submit error = %v, expected ErrUnknownQuality", err)
	}
	if f.ext.calls() != 0 {
		t.Error("no fetch should run for an unknown tier")
	}
}

func TestSubmitRateLimited(t *testing.T) {
	f := newDownloadFixture(t, func(cfg *model.Config) {
		cfg.RateLimit.MaxRequests = 1
	})

	first, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	waitTerminal(t, f.svc, first.ID)

	_, err = f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	var rateErr *model.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("second Submit error = %v, expected RateLimitError", err)
	}
	if rateErr.RetryAfter <= 0 {
		t.Errorf("retry-after = %v, expected positive", rateErr.RetryAfter)
	}

	// A different user is unaffected
	if _, err := f.svc.Submit("bob", "https://youtube.com/watch?v=abc", model.QualityBest); err != nil {
		t.Errorf("bob's Submit failed: %v", err)
	}
}

func TestOversizedOutputRejected(t *testing.T) {
	f := newDownloadFixture(t, func(cfg *model.Config) {
		cfg.Download.MaxOutputSizeBytes = 512
	})
	f.ext.fetchFn = writeOutput(f.fs, 2048)

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusFailedSize {
		t.Fatalf("job status = %s, expected failed_size", done.Status)
	}
	if !strings.Contains(done.Error, "2048") || !strings.Contains(done.Error, "512") {
		t.Errorf("error %q should carry observed and limit sizes", done.Error)
	}
	if done.Artifact != nil {
		t.Error("failed job should carry no artifact")
	}

	// No file survives anywhere
	if n := scopedDirCount(f.fs, f.cfg.Storage.TempDir); n != 0 {
		t.Errorf("%d scoped directories left behind, expected 0", n)
	}
	entries, _ := afero.ReadDir(f.fs, f.cfg.Storage.DownloadDir)
	if len(entries) != 0 {
		t.Errorf("%d files leaked into the download dir, expected 0", len(entries))
	}
}

func TestEstimatedSizeRejectedBeforeFetch(t *testing.T) {
	f := newDownloadFixture(t, func(cfg *model.Config) {
		cfg.Download.MaxOutputSizeBytes = 1024
	})
	f.ext.mu.Lock()
	f.ext.info.EstimatedSize = 10 * 1024
	f.ext.mu.Unlock()

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusFailedSize {
		t.Fatalf("job status = %s, expected failed_size", done.Status)
	}
	if f.ext.calls() != 0 {
		t.Error("fetch should not run when the probe estimate exceeds the limit")
	}
}

func TestLiveStreamRejected(t *testing.T) {
	f := newDownloadFixture(t, nil)
	f.ext.mu.Lock()
	f.ext.info.IsLive = true
	f.ext.mu.Unlock()

	job, err := f.svc.Submit("alice", "https://twitch.tv/somestream", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusFailedExtract {
		t.Fatalf("job status = %s, expected failed_extract", done.Status)
	}
	if !strings.Contains(done.Error, "live") {
		t.Errorf("error %q should mention live streams", done.Error)
	}
}

func TestExtractFailure(t *testing.T) {
	f := newDownloadFixture(t, nil)
	f.ext.fetchFn = func(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
		return nil, &model.ExtractError{Diagnostic: "video is unavailable"}
	}

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusFailedExtract {
		t.Fatalf("job status = %s, expected failed_extract", done.Status)
	}
	if !strings.Contains(done.Error, "video is unavailable") {
		t.Errorf("error %q should carry the diagnostic", done.Error)
	}
	if n := scopedDirCount(f.fs, f.cfg.Storage.TempDir); n != 0 {
		t.Errorf("%d scoped directories left behind, expected 0", n)
	}
}

func TestMissingOutputFile(t *testing.T) {
	f := newDownloadFixture(t, nil)
	f.ext.fetchFn = func(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
		return &extractor.Result{OutputPath: filepath.Join(req.DestDir, "never-written.mp4")}, nil
	}

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusFailedExtract {
		t.Fatalf("job status = %s, expected failed_extract", done.Status)
	}
	if !strings.Contains(done.Error, "no file found") {
		t.Errorf("error %q should report the missing output", done.Error)
	}
}

func TestTimeoutKillsJob(t *testing.T) {
	f := newDownloadFixture(t, func(cfg *model.Config) {
		cfg.Download.TimeoutSeconds = 1
	})
	f.ext.fetchFn = func(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusFailedTimeout {
		t.Fatalf("job status = %s, expected failed_timeout", done.Status)
	}
	if n := scopedDirCount(f.fs, f.cfg.Storage.TempDir); n != 0 {
		t.Errorf("%d scoped directories left behind, expected 0", n)
	}
}

func TestCancelTerminatesAndCleansUpFirst(t *testing.T) {
	f := newDownloadFixture(t, nil)

	started := make(chan struct{})
	var once sync.Once
	f.ext.fetchFn = func(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	if err := f.svc.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusCancelled {
		t.Fatalf("job status = %s, expected cancelled", done.Status)
	}
	// Cleanup completed before the terminal state became observable
	if n := scopedDirCount(f.fs, f.cfg.Storage.TempDir); n != 0 {
		t.Errorf("%d scoped directories left behind, expected 0", n)
	}

	if err := f.svc.Cancel(job.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("Cancel on finished job = %v, expected ErrJobFinished", err)
	}
	if err := f.svc.Cancel("no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel on unknown job = %v, expected ErrJobNotFound", err)
	}
}

func TestCompletionCallback(t *testing.T) {
	f := newDownloadFixture(t, nil)

	got := make(chan *model.DownloadJob, 1)
	f.svc.SetCompletionCallback(func(job *model.DownloadJob) {
		got <- job
	})

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityAudio)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case done := <-got:
		if done.ID != job.ID {
			t.Errorf("callback job id = %s, expected %s", done.ID, job.ID)
		}
		if !done.Status.IsTerminal() {
			t.Errorf("callback job status = %s, expected terminal", done.Status)
		}
		if done.Status == model.StatusSucceeded && done.Artifact == nil {
			t.Error("callback for a success should carry the artifact")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestProgressEventsFlow(t *testing.T) {
	f := newDownloadFixture(t, nil)

	gate := make(chan struct{})
	inner := writeOutput(f.fs, 1024)
	f.ext.fetchFn = func(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
		<-gate
		return inner(ctx, req)
	}

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ch := f.tracker.Subscribe(job.ID)
	close(gate)

	waitTerminal(t, f.svc, job.ID)

	var events []model.ProgressEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("expected progress events before the channel closed")
	}
	last := events[len(events)-1]
	if last.Percent != 100 {
		t.Errorf("final event percent = %v, expected 100", last.Percent)
	}
	for _, ev := range events {
		if ev.JobID != job.ID {
			t.Errorf("event for job %q on this job's channel", ev.JobID)
		}
	}
}

func TestJobSnapshotIsolation(t *testing.T) {
	f := newDownloadFixture(t, nil)

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, f.svc, job.ID)

	snapshot, err := f.svc.Job(job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	snapshot.Status = model.StatusPending

	again, err := f.svc.Job(job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if again.Status == model.StatusPending {
		t.Error("mutating a snapshot should not affect the tracked job")
	}

	if _, err := f.svc.Job("no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Job(unknown) error = %v, expected ErrJobNotFound", err)
	}
}

func TestQuotaBlocksSubmit(t *testing.T) {
	f := newDownloadFixture(t, func(cfg *model.Config) {
		cfg.Quota = model.QuotaConfig{Enabled: true, DailyLimitMB: 1}
	})

	// First job succeeds and charges 1 MB (rounded up from 1 KiB)
	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitTerminal(t, f.svc, job.ID)
	if done.Status != model.StatusSucceeded {
		t.Fatalf("job status = %s, expected succeeded", done.Status)
	}

	_, err = f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	var quotaErr *model.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("Submit error = %v, expected QuotaError", err)
	}
}

func TestShutdownDrainsJobs(t *testing.T) {
	f := newDownloadFixture(t, nil)
	f.ext.fetchFn = func(ctx context.Context, req extractor.Request) (*extractor.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		f.svc.Shutdown()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not drain running jobs")
	}

	done, err := f.svc.Job(job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if done.Status != model.StatusCancelled {
		t.Errorf("job status after shutdown = %s, expected cancelled", done.Status)
	}
	if n := scopedDirCount(f.fs, f.cfg.Storage.TempDir); n != 0 {
		t.Errorf("%d scoped directories left behind, expected 0", n)
	}
}

func TestPruneFinishedJobs(t *testing.T) {
	f := newDownloadFixture(t, nil)

	job, err := f.svc.Submit("alice", "https://youtube.com/watch?v=abc", model.QualityBest)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, f.svc, job.ID)

	// Not yet past the TTL
	f.svc.pruneFinishedJobs()
	if _, err := f.svc.Job(job.ID); err != nil {
		t.Fatalf("job pruned too early: %v", err)
	}

	f.svc.updateJob(job.ID, func(j *model.DownloadJob) {
		old := time.Now().Add(-time.Duration(f.cfg.Storage.FileTTLSeconds+60) * time.Second)
		j.FinishedAt = &old
	})
	f.svc.pruneFinishedJobs()
	if _, err := f.svc.Job(job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Job after prune = %v, expected ErrJobNotFound", err)
	}
}
