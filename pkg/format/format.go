package format

import "fmt"

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FileSize renders a byte count for display, e.g. "12.3 MB"
func FileSize(sizeBytes int64) string {
	if sizeBytes <= 0 {
		return "0 B"
	}

	size := float64(sizeBytes)
	i := 0
	for size >= 1024 && i < len(sizeUnits)-1 {
		size /= 1024
		i++
	}

	return fmt.Sprintf("%.1f %s", size, sizeUnits[i])
}

// Duration renders a length in seconds as h:mm:ss, or m:ss under an hour
func Duration(seconds int) string {
	if seconds < 0 {
		return "Unknown"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
