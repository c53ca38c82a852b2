package backend

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Downloaded tracks are always stored as AAC in an MP4 container.
const downloadExtension = ".m4a"

// maxTitleBytes leaves room for the extension and a temp suffix under the
// common 255-byte file name limit.
const maxTitleBytes = 200

var (
	invalidTitleChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	controlChars      = regexp.MustCompile(`[\x00-\x1f]`)
	repeatedSpaces    = regexp.MustCompile(`\s+`)
)

// SanitizeTitle turns a track title into a safe file name stem.
// Path and shell-hostile characters become underscores.
func SanitizeTitle(title string) string {
	sanitized := invalidTitleChars.ReplaceAllString(title, "_")
	sanitized = repeatedSpaces.ReplaceAllString(sanitized, " ")
	sanitized = controlChars.ReplaceAllString(sanitized, "")

	// Leading/trailing dots and spaces break on Windows and hide files on Unix
	sanitized = strings.Trim(sanitized, ". ")

	if len(sanitized) > maxTitleBytes {
		n := maxTitleBytes
		for n > 0 && !utf8.RuneStart(sanitized[n]) {
			n--
		}
		sanitized = strings.Trim(sanitized[:n], ". ")
	}
	if sanitized == "" {
		sanitized = "Unknown"
	}
	return sanitized
}

// DownloadPath returns where a track with the given title is written.
func DownloadPath(baseDir, title string) string {
	return filepath.Join(baseDir, SanitizeTitle(title)+downloadExtension)
}
