package backend

import (
	"fmt"
	"strings"
)

const (
	youtubeReferer = "https://www.youtube.com/"
	youtubeOrigin  = "https://www.youtube.com"

	defaultStreamUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// forwardedAuthHeaders maps lowercase header names accepted from callers to
// the canonical name passed on to yt-dlp. Anything else is dropped.
var forwardedAuthHeaders = map[string]string{
	"cookie":                        "Cookie",
	"user-agent":                    "User-Agent",
	"accept":                        "Accept",
	"accept-language":               "Accept-Language",
	"x-goog-visitor-id":             "X-Goog-Visitor-Id",
	"x-goog-authuser":               "X-Goog-AuthUser",
	"x-youtube-client-name":         "X-Youtube-Client-Name",
	"x-youtube-client-version":      "X-Youtube-Client-Version",
	"x-youtube-bootstrap-logged-in": "X-Youtube-Bootstrap-Logged-In",
	"x-origin":                      "X-Origin",
	"referer":                       "Referer",
	"origin":                        "Origin",
}

// streamDefaultHeaders are the headers every extraction result carries
// unless yt-dlp already returned a value for them.
var streamDefaultHeaders = []struct{ key, value string }{
	{"User-Agent", defaultStreamUserAgent},
	{"Accept", "*/*"},
	{"Accept-Language", "en-US,en;q=0.9"},
	{"Referer", youtubeReferer},
	{"Origin", youtubeOrigin},
}

// NormalizeAuthHeaders reduces a caller supplied header bag to the allow-listed
// YouTube identity headers with canonical casing. Keys are matched
// case-insensitively after trimming; blank keys or values are dropped.
func NormalizeAuthHeaders(raw map[string]string) map[string]string {
	normalized := make(map[string]string)
	if len(raw) == 0 {
		return normalized
	}

	for key, value := range raw {
		k := strings.ToLower(strings.TrimSpace(key))
		v := strings.TrimSpace(value)
		if k == "" || v == "" {
			continue
		}
		if canonical, ok := forwardedAuthHeaders[k]; ok {
			normalized[canonical] = v
		}
	}

	return normalized
}

// AuthHeadersFromAny flattens a loosely typed header bag (typically decoded
// JSON) into strings. Nil values are dropped instead of becoming "null".
func AuthHeadersFromAny(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}

		var v string
		switch typed := value.(type) {
		case string:
			v = typed
		case *string:
			if typed == nil {
				continue
			}
			v = *typed
		default:
			v = fmt.Sprint(typed)
		}

		k := strings.TrimSpace(key)
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// requestHeadersForAttempt returns the headers injected into a yt-dlp call:
// the normalized auth headers plus default Referer/Origin when missing.
func requestHeadersForAttempt(raw map[string]string) map[string]string {
	headers := NormalizeAuthHeaders(raw)
	if _, ok := headers["Referer"]; !ok {
		headers["Referer"] = youtubeReferer
	}
	if _, ok := headers["Origin"]; !ok {
		headers["Origin"] = youtubeOrigin
	}
	return headers
}

// mergeStreamHeaders copies the headers yt-dlp returned and fills the gaps
// with streamDefaultHeaders. Existing values win, matched case-insensitively.
func mergeStreamHeaders(fromBackend map[string]string) map[string]string {
	merged := make(map[string]string, len(fromBackend)+len(streamDefaultHeaders))
	present := make(map[string]bool, len(fromBackend))
	for key, value := range fromBackend {
		merged[key] = value
		present[strings.ToLower(key)] = true
	}

	for _, def := range streamDefaultHeaders {
		if !present[strings.ToLower(def.key)] {
			merged[def.key] = def.value
		}
	}
	return merged
}
