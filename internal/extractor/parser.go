package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"vidfetch/internal/model"
)

var downloadPercentRe = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// Post-processor prefixes the tool prints once downloading is done.
var convertingPrefixes = []string{
	"[Merger]",
	"[ExtractAudio]",
	"[VideoConvertor]",
	"[VideoRemuxer]",
	"[Fixup",
	"[EmbedThumbnail]",
}

var finalizingPrefixes = []string{
	"[MoveFiles]",
	"[Metadata]",
}

// parseProgressLine maps one line of tool output onto a progress sample.
// The bool result reports whether the line carried progress information.
func parseProgressLine(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Progress{}, false
	}

	if m := downloadPercentRe.FindStringSubmatch(line); m != nil {
		percent, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Progress{Phase: model.PhaseDownloading, Percent: model.IndeterminatePercent}, true
		}
		if percent > 100 {
			percent = 100
		}
		return Progress{Phase: model.PhaseDownloading, Percent: percent}, true
	}

	for _, prefix := range convertingPrefixes {
		if strings.HasPrefix(line, prefix) {
			return Progress{Phase: model.PhaseConverting, Percent: model.IndeterminatePercent}, true
		}
	}

	for _, prefix := range finalizingPrefixes {
		if strings.HasPrefix(line, prefix) {
			return Progress{Phase: model.PhaseFinalizing, Percent: model.IndeterminatePercent}, true
		}
	}

	return Progress{}, false
}

// maxDiagnosticLen bounds the tool output kept in user-facing errors.
const maxDiagnosticLen = 400

// mapDiagnostic reduces raw tool stderr to a short, user-safe message.
// Known failure modes get fixed phrasing; anything else keeps its last
// line, stripped and truncated.
func mapDiagnostic(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "private video"):
		return "this video is private"
	case strings.Contains(lower, "video unavailable"):
		return "video is unavailable"
	case strings.Contains(lower, "age-gated"),
		strings.Contains(lower, "age-restricted"),
		strings.Contains(lower, "sign in to confirm your age"):
		return "age-restricted content is not supported"
	case strings.Contains(lower, "not available in your country"),
		strings.Contains(lower, "geo restricted"):
		return "video is not available in this region"
	case strings.Contains(lower, "unsupported url"):
		return "unsupported video url"
	}

	msg := strings.TrimSpace(raw)
	// The tool prints its error last
	if idx := strings.LastIndexByte(msg, '\n'); idx >= 0 {
		msg = strings.TrimSpace(msg[idx+1:])
	}
	msg = strings.TrimPrefix(msg, "ERROR: ")
	msg = strings.Map(func(r rune) rune {
		if r < 32 {
			return -1
		}
		return r
	}, msg)

	if msg == "" {
		return "failed to download video"
	}
	if len(msg) > maxDiagnosticLen {
		msg = msg[:maxDiagnosticLen]
	}
	return msg
}
