package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/wader/goutubedl"
)

// ConfigureYtDlp points goutubedl (and the resolver) at the yt-dlp binary.
// An empty path keeps the current setting.
func ConfigureYtDlp(path string) string {
	if path = strings.TrimSpace(path); path != "" {
		goutubedl.Path = path
	}
	return goutubedl.Path
}

// YtDlpVersion reports the version of the configured yt-dlp binary.
func YtDlpVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	version, err := goutubedl.Version(ctx)
	if err != nil {
		return "", fmt.Errorf("yt-dlp not usable at %q: %w", goutubedl.Path, err)
	}
	return strings.TrimSpace(version), nil
}

// UpdateYtDlp runs the binary's self-updater. Package-managed installs
// refuse to update, which is reported as an error and otherwise harmless.
func UpdateYtDlp(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	out, err := exec.CommandContext(ctx, goutubedl.Path, "-U").CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp update failed: %w: %s", err, lastLine(string(out)))
	}
	Logger.Info("yt-dlp update finished", "output", lastLine(string(out)))
	return nil
}

// VideoInfo contains metadata about a YouTube video
type VideoInfo struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Album     string  `json:"album,omitempty"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	URL       string  `json:"url"`
}

// GetVideoMetadata fetches title/artist metadata for a video through goutubedl.
func GetVideoMetadata(ctx context.Context, videoID string) (*VideoInfo, error) {
	videoURL := WatchURL(videoID)

	result, err := goutubedl.New(ctx, videoURL, goutubedl.Options{
		Type: goutubedl.TypeSingle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}

	info := result.Info
	artist := lo.Ternary(info.Artist != "", info.Artist, info.Creator)
	if artist == "" {
		artist = info.Uploader
	}
	if artist == "" {
		artist = strings.TrimSuffix(info.Channel, " - Topic")
	}

	title := info.Title
	if artist != "" {
		title = strings.TrimPrefix(title, artist+" - ")
	}

	return &VideoInfo{
		ID:        info.ID,
		Title:     title,
		Artist:    artist,
		Album:     info.Album,
		Duration:  info.Duration,
		Thumbnail: info.Thumbnail,
		URL:       videoURL,
	}, nil
}

// YtDlpError carries the message yt-dlp printed when it failed.
type YtDlpError struct {
	Message string
	Err     error
}

func (e *YtDlpError) Error() string {
	return e.Message
}

func (e *YtDlpError) Unwrap() error {
	return e.Err
}

type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// YtDlpResolver implements MediaResolver by running yt-dlp in JSON mode.
type YtDlpResolver struct {
	path string
	run  commandRunner
}

// NewYtDlpResolver creates a resolver for the binary configured through
// ConfigureYtDlp.
func NewYtDlpResolver() *YtDlpResolver {
	return &YtDlpResolver{path: goutubedl.Path, run: runCommand}
}

// Resolve implements MediaResolver.
func (r *YtDlpResolver) Resolve(ctx context.Context, req ExtractRequest) (*MediaInfo, error) {
	Logger.Debug("yt-dlp resolve", "request", req.String(), "extractorArgs", req.ExtractorArgs, "headers", len(req.Headers))

	stdout, stderr, err := r.run(ctx, r.path, ytDlpArgs(req)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &YtDlpError{Message: ctxErr.Error(), Err: ctxErr}
		}
		return nil, &YtDlpError{Message: ytDlpFailureMessage(string(stderr), err), Err: err}
	}
	return parseYtDlpInfo(stdout)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// ytDlpArgs converts a request into yt-dlp command line arguments.
// Headers are emitted in sorted order so the command line is stable.
func ytDlpArgs(req ExtractRequest) []string {
	args := []string{"-j"}
	if req.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if req.NoWarnings {
		args = append(args, "--no-warnings")
	}
	if req.GeoBypass {
		args = append(args, "--geo-bypass")
	}
	if req.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", seconds(req.SocketTimeout))
	}
	args = append(args,
		"--retries", strconv.Itoa(req.Retries),
		"--extractor-retries", strconv.Itoa(req.ExtractorRetries),
		"--retry-sleep", seconds(req.RetrySleep),
	)
	if req.FormatSelector != "" {
		args = append(args, "-f", req.FormatSelector)
	}
	if req.ExtractorArgs != "" {
		args = append(args, "--extractor-args", req.ExtractorArgs)
	}
	if req.Proxy != "" {
		args = append(args, "--proxy", req.Proxy)
	}

	keys := lo.Keys(req.Headers)
	sort.Strings(keys)
	for _, key := range keys {
		value := req.Headers[key]
		if strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
			continue
		}
		args = append(args, "--add-header", key+": "+value)
	}

	return append(args, req.TargetURL)
}

// ytDlpFailureMessage picks the ERROR lines out of yt-dlp's stderr.
func ytDlpFailureMessage(stderr string, runErr error) string {
	var errorLines []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			errorLines = append(errorLines, strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
		}
	}
	if len(errorLines) > 0 {
		return strings.Join(errorLines, "; ")
	}
	if last := lastLine(stderr); last != "" {
		return last
	}
	if runErr != nil {
		return runErr.Error()
	}
	return ""
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

type ytDlpFormat struct {
	URL         string            `json:"url"`
	ACodec      string            `json:"acodec"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

type ytDlpInfo struct {
	ytDlpFormat
	RequestedFormats []ytDlpFormat `json:"requested_formats"`
}

// parseYtDlpInfo reads the first JSON document printed by "yt-dlp -j".
// When a merged selection left the top-level url empty, the first audio
// format of the selection is used.
func parseYtDlpInfo(stdout []byte) (*MediaInfo, error) {
	var line []byte
	for _, l := range bytes.Split(stdout, []byte("\n")) {
		if l = bytes.TrimSpace(l); len(l) > 0 {
			line = l
			break
		}
	}
	if line == nil {
		return nil, errNoPlayableAudio
	}

	var info ytDlpInfo
	if err := json.Unmarshal(line, &info); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}

	chosen := info.ytDlpFormat
	if strings.TrimSpace(chosen.URL) == "" && len(info.RequestedFormats) > 0 {
		chosen = info.RequestedFormats[0]
		if f, ok := lo.Find(info.RequestedFormats, func(f ytDlpFormat) bool {
			return f.ACodec != "" && f.ACodec != "none"
		}); ok {
			chosen = f
		}
	}

	return &MediaInfo{URL: chosen.URL, HTTPHeaders: chosen.HTTPHeaders}, nil
}
