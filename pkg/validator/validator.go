package validator

import (
	"net/url"
	"strings"
)

// hostMatches reports whether host is the domain itself or one of its
// subdomains.
func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// ValidateURL validates if the URL points at an allowed video host
func ValidateURL(videoURL string, allowedDomains []string) bool {
	u, err := url.Parse(videoURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	// Normalize host to lowercase for comparison
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	for _, domain := range allowedDomains {
		// Trim whitespace and convert to lowercase
		cleanDomain := strings.ToLower(strings.TrimSpace(domain))
		cleanDomain = strings.TrimPrefix(cleanDomain, "www.")
		if len(cleanDomain) == 0 {
			continue
		}

		if hostMatches(host, cleanDomain) {
			return true
		}
	}

	return false
}

// trackingParams are query parameters stripped before a URL is stored
// or handed to the extraction tool.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "ref", "src",
}

// SanitizeURL removes common tracking parameters from a URL
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// PlatformName returns a display name for the URL's video platform
func PlatformName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "Unknown Platform"
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))

	switch {
	case hostMatches(host, "youtube.com") || hostMatches(host, "youtu.be"):
		return "YouTube"
	case hostMatches(host, "tiktok.com"):
		return "TikTok"
	case hostMatches(host, "instagram.com"):
		return "Instagram"
	case hostMatches(host, "twitter.com") || hostMatches(host, "x.com"):
		return "Twitter/X"
	case hostMatches(host, "facebook.com") || hostMatches(host, "fb.watch"):
		return "Facebook"
	case hostMatches(host, "vimeo.com"):
		return "Vimeo"
	case hostMatches(host, "twitch.tv"):
		return "Twitch"
	case hostMatches(host, "reddit.com") || hostMatches(host, "redd.it"):
		return "Reddit"
	case hostMatches(host, "dailymotion.com"):
		return "Dailymotion"
	case hostMatches(host, "streamable.com"):
		return "Streamable"
	}

	return "Unknown Platform"
}

// SanitizeFilename removes dangerous characters from filename
func SanitizeFilename(filename string) string {
	dangerousChars := []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*", "\x00"}
	result := filename
	for _, char := range dangerousChars {
		result = strings.ReplaceAll(result, char, "_")
	}
	return result
}

// TruncateFilename truncates filename to max length while preserving extension
// Uses rune-level truncation to properly handle UTF-8 multi-byte characters
func TruncateFilename(filename string, maxLen int) string {
	// Convert to runes for proper UTF-8 handling
	runes := []rune(filename)

	// If already short enough, return as-is
	if len(runes) <= maxLen {
		return filename
	}

	// Find the extension
	lastDot := strings.LastIndex(filename, ".")
	if lastDot == -1 {
		// No extension, just truncate at rune boundary
		return string(runes[:maxLen])
	}

	// Convert extension back to runes to get its rune length
	ext := filename[lastDot:]
	extRunes := []rune(ext)

	// Calculate available space for base name
	availableLen := maxLen - len(extRunes)
	if availableLen <= 0 {
		// Extension is too long, just truncate to max length at rune boundary
		return string(runes[:maxLen])
	}

	// Truncate base name at rune boundary and add extension
	baseName := string(runes[:availableLen])
	return baseName + ext
}
