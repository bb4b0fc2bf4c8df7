package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"vidfetch/internal/extractor"
	"vidfetch/internal/model"
	"vidfetch/internal/storage"
	"vidfetch/pkg/clock"
	"vidfetch/pkg/logger"
	"vidfetch/pkg/validator"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// suggestedNameMaxLen bounds the filename offered to clients.
const suggestedNameMaxLen = 100

// jobEntry pairs a tracked job with its cancel function.
type jobEntry struct {
	job    model.DownloadJob
	cancel context.CancelFunc
}

// DownloadService orchestrates download jobs end to end: admission,
// scoped temporary storage, extraction, size enforcement and hand-off
// of the finished artifact to the storage manager.
type DownloadService struct {
	cfg       *model.Config
	fs        afero.Fs
	extractor extractor.Extractor
	quality   *QualityService
	tracker   *ProgressTracker
	rateLimit *RateLimitService
	quota     *QuotaService
	storage   *storage.Manager
	clock     clock.Clock

	mu   sync.RWMutex
	jobs map[string]*jobEntry

	wg       sync.WaitGroup
	quitChan chan bool

	// onComplete is invoked with a finished job snapshot. Set once
	// during wiring, before the first Submit.
	onComplete func(*model.DownloadJob)
}

// NewDownloadService creates a new download service
func NewDownloadService(
	cfg *model.Config,
	fs afero.Fs,
	ext extractor.Extractor,
	quality *QualityService,
	tracker *ProgressTracker,
	rateLimit *RateLimitService,
	quota *QuotaService,
	sm *storage.Manager,
	clk clock.Clock,
) *DownloadService {
	return &DownloadService{
		cfg:       cfg,
		fs:        fs,
		extractor: ext,
		quality:   quality,
		tracker:   tracker,
		rateLimit: rateLimit,
		quota:     quota,
		storage:   sm,
		clock:     clk,
		jobs:      make(map[string]*jobEntry),
		quitChan:  make(chan bool),
	}
}

// SetCompletionCallback registers a hook invoked after a job reaches a
// terminal state and its cleanup has finished.
func (s *DownloadService) SetCompletionCallback(cb func(*model.DownloadJob)) {
	s.mu.Lock()
	s.onComplete = cb
	s.mu.Unlock()
}

// Submit admits, registers and starts a download job for the user. It
// returns a snapshot of the pending job; the work itself runs in the
// background and is observable via Job, the progress tracker, and the
// completion callback.
func (s *DownloadService) Submit(user, rawURL string, tier model.QualityTier) (*model.DownloadJob, error) {
	decision := s.rateLimit.Admit(user)
	if !decision.Allowed {
		return nil, &model.RateLimitError{RetryAfter: decision.RetryAfter}
	}

	if s.cfg.Quota.Enabled {
		allowed, remaining := s.quota.CheckQuota(user, 0)
		if !allowed {
			return nil, &model.QuotaError{RemainingMB: remaining}
		}
	}

	if _, err := s.quality.Resolve(tier); err != nil {
		return nil, err
	}

	job := model.DownloadJob{
		ID:        uuid.New().String(),
		UserID:    user,
		URL:       rawURL,
		Quality:   tier,
		Status:    model.StatusPending,
		StartedAt: s.clock.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.jobs[job.ID] = &jobEntry{job: job, cancel: cancel}
	s.mu.Unlock()

	s.tracker.Register(job.ID)

	s.wg.Add(1)
	go s.run(ctx, job)

	logger.Logger.Info("Download job submitted",
		zap.String("job_id", job.ID),
		zap.String("user", user),
		zap.String("url", rawURL),
		zap.String("quality", string(tier)))

	snapshot := job
	return &snapshot, nil
}

// run drives one job to a terminal state. The scoped directory is gone
// by the time execute returns, so the job only becomes observable as
// terminal after cleanup has completed.
func (s *DownloadService) run(ctx context.Context, job model.DownloadJob) {
	defer s.wg.Done()

	s.updateJob(job.ID, func(j *model.DownloadJob) {
		j.Status = model.StatusRunning
	})

	artifact, err := s.execute(ctx, &job)
	s.finalize(job.ID, artifact, err)
}

// execute performs the download inside a scoped temporary directory.
// The deferred RemoveAll runs on every exit path, including panics of
// the extraction plumbing, timeouts and cancellation.
func (s *DownloadService) execute(ctx context.Context, job *model.DownloadJob) (artifact *model.Artifact, err error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Download.TimeoutSeconds)*time.Second)
	defer cancel()

	if err := s.fs.MkdirAll(s.cfg.Storage.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	tempDir, err := afero.TempDir(s.fs, s.cfg.Storage.TempDir, "job-")
	if err != nil {
		return nil, fmt.Errorf("create scoped directory: %w", err)
	}
	s.updateJob(job.ID, func(j *model.DownloadJob) {
		j.TempDir = tempDir
	})
	defer func() {
		if rmErr := s.fs.RemoveAll(tempDir); rmErr != nil {
			logger.Logger.Error("Failed to remove scoped directory",
				zap.String("job_id", job.ID),
				zap.String("dir", tempDir),
				zap.Error(rmErr))
		}
	}()

	params, err := s.quality.Resolve(job.Quality)
	if err != nil {
		return nil, err
	}

	info, err := s.extractor.Probe(ctx, job.URL)
	if err != nil {
		return nil, s.mapContextErr(ctx, err)
	}
	if info.IsLive {
		return nil, &model.ExtractError{Diagnostic: "live streams are not supported"}
	}
	if s.sizeLimit() > 0 && info.EstimatedSize > s.sizeLimit() {
		return nil, &model.SizeLimitError{
			Observed: info.EstimatedSize,
			Limit:    s.sizeLimit(),
		}
	}
	s.updateJob(job.ID, func(j *model.DownloadJob) {
		j.Title = info.Title
	})

	result, err := s.extractor.Fetch(ctx, extractor.Request{
		URL:     job.URL,
		Params:  params,
		DestDir: tempDir,
		OnProgress: func(p extractor.Progress) {
			s.tracker.Publish(model.ProgressEvent{
				JobID:     job.ID,
				Phase:     p.Phase,
				Percent:   p.Percent,
				Timestamp: s.clock.Now(),
			})
		},
	})
	if err != nil {
		return nil, s.mapContextErr(ctx, err)
	}

	stat, err := s.fs.Stat(result.OutputPath)
	if err != nil {
		return nil, &model.ExtractError{Diagnostic: "download completed but no file found"}
	}

	if s.sizeLimit() > 0 && stat.Size() > s.sizeLimit() {
		if rmErr := s.fs.Remove(result.OutputPath); rmErr != nil {
			logger.Logger.Error("Failed to remove oversized file",
				zap.String("job_id", job.ID),
				zap.String("path", result.OutputPath),
				zap.Error(rmErr))
		}
		return nil, &model.SizeLimitError{
			Observed: stat.Size(),
			Limit:    s.sizeLimit(),
		}
	}

	s.tracker.Publish(model.ProgressEvent{
		JobID:     job.ID,
		Phase:     model.PhaseFinalizing,
		Percent:   100,
		Timestamp: s.clock.Now(),
	})

	return s.relocate(job, params, result.OutputPath, stat.Size())
}

// relocate moves the finished file out of the scoped directory into the
// managed download dir and registers it for TTL cleanup. Only then can
// the scoped directory be removed without racing the consumer.
func (s *DownloadService) relocate(job *model.DownloadJob, params model.ExtractionParams, srcPath string, size int64) (*model.Artifact, error) {
	if err := s.storage.EnsureDownloadDir(); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	suggested := validator.SanitizeFilename(filepath.Base(srcPath))
	suggested = validator.TruncateFilename(suggested, suggestedNameMaxLen)
	destPath := s.storage.GetDownloadPath(job.ID + "_" + suggested)

	if err := moveFile(s.fs, srcPath, destPath); err != nil {
		return nil, fmt.Errorf("relocate output: %w", err)
	}

	kind := model.MediaVideo
	if params.AudioOnly {
		kind = model.MediaAudio
	}

	stored := &model.DownloadedFile{
		Filename:  suggested,
		FilePath:  destPath,
		Size:      size,
		MediaKind: kind,
		URL:       job.URL,
	}
	s.storage.SaveFile(job.ID, stored)

	return &model.Artifact{
		FileID:            job.ID,
		FilePath:          destPath,
		Size:              size,
		MediaKind:         kind,
		SuggestedFilename: suggested,
		ExpiresAt:         stored.ExpiresAt,
	}, nil
}

// finalize records the terminal state, ends the progress sequence and
// notifies the completion hook. It runs strictly after scoped cleanup.
func (s *DownloadService) finalize(jobID string, artifact *model.Artifact, err error) {
	status := model.StatusSucceeded
	message := ""
	if err != nil {
		status = statusForError(err)
		message = err.Error()
	}

	finishedAt := s.clock.Now()

	s.mu.Lock()
	entry := s.jobs[jobID]
	var done model.DownloadJob
	if entry != nil {
		entry.job.Status = status
		entry.job.Error = message
		entry.job.Artifact = artifact
		entry.job.FinishedAt = &finishedAt
		done = entry.job
	}
	cb := s.onComplete
	s.mu.Unlock()

	s.tracker.Finish(jobID)

	if err != nil {
		logger.Logger.Warn("Download job failed",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err))
	} else {
		logger.Logger.Info("Download job completed",
			zap.String("job_id", jobID),
			zap.String("file", artifact.SuggestedFilename),
			zap.Int64("size_bytes", artifact.Size))
	}

	if status == model.StatusSucceeded && s.cfg.Quota.Enabled && artifact != nil {
		sizeMB := (artifact.Size + 1024*1024 - 1) / (1024 * 1024)
		s.quota.AddUsage(done.UserID, sizeMB)
	}

	if cb != nil && entry != nil {
		cb(&done)
	}
}

// sizeLimit returns the output byte cap; zero or less means unlimited.
func (s *DownloadService) sizeLimit() int64 {
	return s.cfg.Download.MaxOutputSizeBytes
}

// statusForError maps failure errors onto terminal job statuses.
func statusForError(err error) model.JobStatus {
	var sizeErr *model.SizeLimitError
	switch {
	case errors.Is(err, model.ErrDownloadTimeout):
		return model.StatusFailedTimeout
	case errors.Is(err, model.ErrCancelled):
		return model.StatusCancelled
	case errors.As(err, &sizeErr):
		return model.StatusFailedSize
	}
	return model.StatusFailedExtract
}

// mapContextErr folds context termination into the job error taxonomy.
// The tool reports a generic failure when its process is killed, so the
// context's own state decides between timeout and cancellation.
func (s *DownloadService) mapContextErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return model.ErrDownloadTimeout
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return model.ErrCancelled
	}
	return err
}

// Job returns a snapshot of a tracked job.
func (s *DownloadService) Job(id string) (*model.DownloadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	snapshot := entry.job
	return &snapshot, nil
}

// OpenArtifact opens a finished job's file for streaming.
func (s *DownloadService) OpenArtifact(fileID string) (*model.DownloadedFile, afero.File, error) {
	return s.storage.OpenFile(fileID)
}

// Cancel requests termination of a pending or running job. The job
// reports status Cancelled only after its scoped directory is gone.
func (s *DownloadService) Cancel(id string) error {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	var cancel context.CancelFunc
	terminal := false
	if ok {
		terminal = entry.job.Status.IsTerminal()
		cancel = entry.cancel
	}
	s.mu.RUnlock()

	if !ok {
		return ErrJobNotFound
	}
	if terminal {
		return ErrJobFinished
	}

	cancel()
	logger.Logger.Info("Download job cancellation requested", zap.String("job_id", id))
	return nil
}

// updateJob mutates a tracked job under the table lock.
func (s *DownloadService) updateJob(id string, mutate func(*model.DownloadJob)) {
	s.mu.Lock()
	if entry, ok := s.jobs[id]; ok {
		mutate(&entry.job)
	}
	s.mu.Unlock()
}

// Start launches the finished-job janitor.
func (s *DownloadService) Start() {
	go s.janitorRoutine()
}

// Stop stops the janitor.
func (s *DownloadService) Stop() {
	select {
	case s.quitChan <- true:
	default:
	}
}

// Shutdown cancels every running job and waits for their cleanup.
func (s *DownloadService) Shutdown() {
	s.mu.RLock()
	for _, entry := range s.jobs {
		if !entry.job.Status.IsTerminal() && entry.cancel != nil {
			entry.cancel()
		}
	}
	s.mu.RUnlock()

	s.wg.Wait()
	logger.Logger.Info("Download service drained")
}

// janitorRoutine periodically prunes terminal jobs past the file TTL so
// the job table does not grow without bound.
func (s *DownloadService) janitorRoutine() {
	ticker := time.NewTicker(time.Duration(s.cfg.Storage.CleanupInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.quitChan:
			logger.Logger.Info("Job janitor stopped")
			return
		case <-ticker.C:
			s.pruneFinishedJobs()
		}
	}
}

// pruneFinishedJobs drops terminal jobs older than the file TTL.
func (s *DownloadService) pruneFinishedJobs() {
	ttl := time.Duration(s.cfg.Storage.FileTTLSeconds) * time.Second
	now := s.clock.Now()

	s.mu.Lock()
	var pruned []string
	for id, entry := range s.jobs {
		if !entry.job.Status.IsTerminal() || entry.job.FinishedAt == nil {
			continue
		}
		if now.Sub(*entry.job.FinishedAt) > ttl {
			delete(s.jobs, id)
			pruned = append(pruned, id)
		}
	}
	remaining := len(s.jobs)
	s.mu.Unlock()

	for _, id := range pruned {
		s.tracker.Forget(id)
	}

	if len(pruned) > 0 {
		logger.Logger.Debug("Finished jobs pruned",
			zap.Int("pruned", len(pruned)),
			zap.Int("remaining", remaining))
	}
}

// moveFile renames src to dst, falling back to copy and delete when the
// rename crosses devices.
func moveFile(fs afero.Fs, src, dst string) error {
	if err := fs.Rename(src, dst); err == nil {
		return nil
	}

	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		fs.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return fs.Remove(src)
}
