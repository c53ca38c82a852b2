package backend

import (
	"errors"
	"strings"
)

// Error codes returned to callers of the extraction API.
const (
	CodeMissingVideoID = "missing_video_id"
	CodeExtractFailed  = "extract_failed"
)

const msgNoPlayableAudio = "No playable audio URL extracted"

var errNoPlayableAudio = errors.New(msgNoPlayableAudio)

// ExtractError is the caller-facing failure of an extraction request.
type ExtractError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ExtractError) Error() string {
	return e.Message
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// extractFailure groups the yt-dlp error phrases that mean the same thing.
// The same table decides retries and the message shown to users.
type extractFailure struct {
	phrases  []string
	message  string
	terminal bool
}

var extractFailures = []extractFailure{
	{
		phrases:  []string{"age-restricted", "confirm your age"},
		message:  "Age-restricted content. Sign-in headers are required.",
		terminal: true,
	},
	{
		phrases:  []string{"private video", "members-only"},
		message:  "Private or members-only content cannot be streamed.",
		terminal: true,
	},
	{
		phrases:  []string{"unavailable in your country", "geo restricted", "geo-restricted"},
		message:  "Geo-restricted content is unavailable in this region.",
		terminal: true,
	},
	{
		phrases:  []string{"video unavailable", "this video is unavailable"},
		message:  "Video is unavailable.",
		terminal: true,
	},
	{
		phrases: []string{"forbidden", "http error 403"},
		message: "Access denied by source (403). Try refreshing auth headers.",
	},
}

func (f extractFailure) matches(lower string) bool {
	for _, phrase := range f.phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

// IsRetryableExtractError reports whether another attempt may succeed after
// err. Empty messages are assumed to be transient.
func IsRetryableExtractError(err error) bool {
	lower := strings.ToLower(errorText(err))
	if lower == "" {
		return true
	}
	for _, f := range extractFailures {
		if f.terminal && f.matches(lower) {
			return false
		}
	}
	return true
}

// ClientExtractErrorMessage maps err to the sentence shown to end users.
// Unknown messages pass through trimmed.
func ClientExtractErrorMessage(err error) string {
	msg := errorText(err)
	lower := strings.ToLower(msg)

	for _, f := range extractFailures {
		if f.matches(lower) {
			return f.message
		}
	}
	if msg != "" {
		return msg
	}
	return msgNoPlayableAudio + "."
}
