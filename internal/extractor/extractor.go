// Package extractor wraps the external media extraction tool.
package extractor

import (
	"context"

	"vidfetch/internal/model"
)

// Progress is a raw, unthrottled progress sample from the tool.
type Progress struct {
	Phase   model.ProgressPhase
	Percent float64 // 0-100, or model.IndeterminatePercent
}

// Request describes one fetch into a scoped destination directory.
type Request struct {
	URL     string
	Params  model.ExtractionParams
	DestDir string

	// OnProgress, when set, is called from the tool's output reader as
	// progress lines arrive.
	OnProgress func(Progress)
}

// Result is a completed fetch.
type Result struct {
	OutputPath string
}

// Extractor probes media metadata and fetches media files.
type Extractor interface {
	Probe(ctx context.Context, url string) (*model.MediaInfo, error)
	Fetch(ctx context.Context, req Request) (*Result, error)
}
