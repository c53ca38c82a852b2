package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ExtractRequest describes one media-info lookup against yt-dlp.
type ExtractRequest struct {
	TargetURL        string
	FormatSelector   string
	ExtractorArgs    string
	Headers          map[string]string
	Proxy            string
	NoPlaylist       bool
	NoWarnings       bool
	GeoBypass        bool
	SocketTimeout    time.Duration
	Retries          int
	ExtractorRetries int
	RetrySleep       time.Duration
}

// MediaInfo is the subset of yt-dlp output the extractor consumes.
type MediaInfo struct {
	URL         string            `json:"url"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

// MediaResolver resolves a request into media info, or fails with an error
// whose message is yt-dlp's own.
type MediaResolver interface {
	Resolve(ctx context.Context, req ExtractRequest) (*MediaInfo, error)
}

// ExtractionResult is a playable stream URL and the headers needed to fetch it.
type ExtractionResult struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// WatchURL returns the canonical watch page for a video ID.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

// buildExtractRequest assembles the yt-dlp request for one attempt.
func (e *Extractor) buildExtractRequest(videoID string, authHeaders map[string]string, attempt ExtractAttempt) ExtractRequest {
	req := ExtractRequest{
		TargetURL:        WatchURL(videoID),
		FormatSelector:   attempt.FormatSelector,
		ExtractorArgs:    strings.TrimSpace(attempt.ExtractorArgs),
		Proxy:            e.cfg.ProxyURL,
		NoPlaylist:       true,
		NoWarnings:       true,
		GeoBypass:        true,
		SocketTimeout:    e.cfg.SocketTimeout,
		Retries:          e.cfg.Retries,
		ExtractorRetries: e.cfg.ExtractorRetries,
		RetrySleep:       e.cfg.RetrySleep,
	}

	if attempt.UsesAuthHeaders {
		req.Headers = requestHeadersForAttempt(authHeaders)
	}
	return req
}

// executeAttempt runs a single strategy. It either returns a result with a
// non-blank URL or an error; there is no partial success.
func (e *Extractor) executeAttempt(ctx context.Context, videoID string, authHeaders map[string]string, attempt ExtractAttempt) (*ExtractionResult, error) {
	req := e.buildExtractRequest(videoID, authHeaders, attempt)

	info, err := e.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errNoPlayableAudio
	}

	streamURL := strings.TrimSpace(info.URL)
	if streamURL == "" {
		return nil, errNoPlayableAudio
	}
	if strings.HasPrefix(streamURL, "http://") {
		streamURL = strings.Replace(streamURL, "http://", "https://", 1)
	}

	return &ExtractionResult{
		URL:     streamURL,
		Headers: mergeStreamHeaders(info.HTTPHeaders),
	}, nil
}

func (r ExtractRequest) String() string {
	return fmt.Sprintf("%s [%s]", r.TargetURL, r.FormatSelector)
}
