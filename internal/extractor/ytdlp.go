package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vidfetch/internal/model"
	"vidfetch/pkg/logger"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// outputTemplate keeps titles bounded so the tool never produces
	// filesystem-hostile names.
	outputTemplate = "%(title).80s [%(id)s].%(ext)s"

	// killGracePeriod is how long the tool gets to exit after its
	// context is cancelled before it is killed.
	killGracePeriod = 5 * time.Second

	audioBitrate = "192K"
)

// Partial-download suffixes ignored when locating the finished file.
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

// YTDLP drives the yt-dlp binary.
type YTDLP struct {
	binPath string
	fs      afero.Fs
}

// NewYTDLP creates an extractor backed by the binary at binPath. File
// discovery goes through fs so tests can observe it.
func NewYTDLP(binPath string, fs afero.Fs) *YTDLP {
	return &YTDLP{binPath: binPath, fs: fs}
}

// Probe extracts media metadata without downloading anything.
func (y *YTDLP) Probe(ctx context.Context, url string) (*model.MediaInfo, error) {
	args := []string{
		"--dump-single-json",
		"--no-playlist",
		"--no-warnings",
		url,
	}

	cmd := exec.CommandContext(ctx, y.binPath, args...)
	cmd.WaitDelay = killGracePeriod

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.ExtractError{Diagnostic: mapDiagnostic(stderr.String())}
	}

	var raw struct {
		ID             string  `json:"id"`
		Title          string  `json:"title"`
		Duration       float64 `json:"duration"`
		Uploader       string  `json:"uploader"`
		Thumbnail      string  `json:"thumbnail"`
		WebpageURL     string  `json:"webpage_url"`
		IsLive         bool    `json:"is_live"`
		Filesize       int64   `json:"filesize"`
		FilesizeApprox int64   `json:"filesize_approx"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, &model.ExtractError{Diagnostic: "could not extract video information"}
	}

	info := &model.MediaInfo{
		ID:            raw.ID,
		Title:         raw.Title,
		Duration:      raw.Duration,
		Uploader:      raw.Uploader,
		Thumbnail:     raw.Thumbnail,
		WebpageURL:    raw.WebpageURL,
		IsLive:        raw.IsLive,
		EstimatedSize: raw.Filesize,
	}
	if info.EstimatedSize == 0 {
		info.EstimatedSize = raw.FilesizeApprox
	}
	if info.Title == "" {
		info.Title = "Unknown"
	}
	return info, nil
}

// Fetch downloads media into req.DestDir, reporting progress line by
// line. Cancelling the context kills the tool process.
func (y *YTDLP) Fetch(ctx context.Context, req Request) (*Result, error) {
	args := y.buildFetchArgs(req)

	cmd := exec.CommandContext(ctx, y.binPath, args...)
	cmd.WaitDelay = killGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", y.binPath, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		progress, ok := parseProgressLine(scanner.Text())
		if ok && req.OnProgress != nil {
			req.OnProgress(progress)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Logger.Warn("Extraction tool failed",
			zap.String("url", req.URL),
			zap.Error(err))
		return nil, &model.ExtractError{Diagnostic: mapDiagnostic(stderr.String())}
	}

	outputPath, err := y.findOutputFile(req.DestDir)
	if err != nil {
		return nil, err
	}

	return &Result{OutputPath: outputPath}, nil
}

// buildFetchArgs assembles the tool invocation for one request.
func (y *YTDLP) buildFetchArgs(req Request) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"--restrict-filenames",
		"-f", req.Params.FormatSelector,
		"-o", filepath.Join(req.DestDir, outputTemplate),
	}

	if req.Params.AudioOnly {
		args = append(args, "-x", "--audio-format", req.Params.Container, "--audio-quality", audioBitrate)
	} else if req.Params.Container != "" {
		args = append(args, "--merge-output-format", req.Params.Container)
	}

	args = append(args, req.URL)
	return args
}

// findOutputFile locates the newest completed file in dir, skipping the
// tool's partial-download intermediates.
func (y *YTDLP) findOutputFile(dir string) (string, error) {
	entries, err := afero.ReadDir(y.fs, dir)
	if err != nil {
		return "", &model.ExtractError{Diagnostic: "download completed but no file found"}
	}

	var newest os.FileInfo
	for _, entry := range entries {
		if entry.IsDir() || isPartialFile(entry.Name()) {
			continue
		}
		if newest == nil || entry.ModTime().After(newest.ModTime()) {
			newest = entry
		}
	}
	if newest == nil {
		return "", &model.ExtractError{Diagnostic: "download completed but no file found"}
	}

	return filepath.Join(dir, newest.Name()), nil
}

func isPartialFile(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
