package backend

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// systemPaths are directories that must never be used as output.
var systemPaths = []string{"/etc", "/proc", "/sys", "/bin", "/sbin", "/usr/bin", "/dev", "/boot"}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidateYouTubeURL checks that a URL is a valid YouTube URL.
// It must use https, come from an approved domain, and be ≤2048 chars.
func ValidateYouTubeURL(rawURL string) error {
	if len(rawURL) > 2048 {
		return fmt.Errorf("URL exceeds maximum length of 2048 characters")
	}

	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	if u.Scheme != "https" {
		return fmt.Errorf("URL must use https")
	}

	switch strings.ToLower(u.Hostname()) {
	case "youtube.com", "www.youtube.com", "m.youtube.com",
		"youtu.be",
		"music.youtube.com":
	default:
		return fmt.Errorf("URL must be from youtube.com, youtu.be, or music.youtube.com")
	}

	return nil
}

// VideoIDFromInput accepts either a bare video ID or a YouTube URL and
// returns the ID. Bare input is passed through trimmed.
func VideoIDFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" || !strings.Contains(input, "://") {
		return input, nil
	}

	if err := ValidateYouTubeURL(input); err != nil {
		return "", err
	}
	u, _ := url.Parse(input)

	var id string
	switch {
	case strings.EqualFold(u.Hostname(), "youtu.be"):
		id = strings.Trim(u.Path, "/")
	case strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/embed/"):
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			id = parts[1]
		}
	default:
		id = u.Query().Get("v")
	}

	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("no video ID in %q", input)
	}
	return id, nil
}

// ValidateDownloadURL checks a URL handed to the download queue.
// Only http(s) URLs with a host are accepted.
func ValidateDownloadURL(rawURL string) error {
	if len(rawURL) > 4096 {
		return fmt.Errorf("URL exceeds maximum length of 4096 characters")
	}

	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("invalid download URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("download URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("download URL has no host")
	}
	return nil
}

// ValidateOutputDirectory rejects paths that overlap with system directories.
func ValidateOutputDirectory(path string) error {
	if path == "" {
		return nil // empty means "use default", which is always safe
	}

	for _, sys := range systemPaths {
		if path == sys || strings.HasPrefix(path, sys+"/") {
			return fmt.Errorf("output directory cannot be a system path (%s)", sys)
		}
	}

	return nil
}
