package backend

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// ExtractorConfig tunes yt-dlp calls and the pause between fallback attempts.
type ExtractorConfig struct {
	SocketTimeout    time.Duration
	Retries          int
	ExtractorRetries int
	RetrySleep       time.Duration
	BackoffStep      time.Duration
	BackoffMax       time.Duration
	ProxyURL         string
}

// DefaultExtractorConfig bounds the worst-case latency of a single attempt.
var DefaultExtractorConfig = ExtractorConfig{
	SocketTimeout:    12 * time.Second,
	Retries:          2,
	ExtractorRetries: 2,
	RetrySleep:       time.Second,
	BackoffStep:      120 * time.Millisecond,
	BackoffMax:       300 * time.Millisecond,
}

// BackoffDelay is the pause after a retryable failure of attempt index:
// linear in the index, capped at BackoffMax.
func (c ExtractorConfig) BackoffDelay(index int) time.Duration {
	d := time.Duration(index+1) * c.BackoffStep
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

// Extractor resolves playable audio streams for YouTube videos by walking
// an attempt plan until one strategy succeeds. It holds no per-request
// state and is safe for concurrent use.
type Extractor struct {
	resolver MediaResolver
	cfg      ExtractorConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExtractor creates an extractor backed by resolver.
func NewExtractor(resolver MediaResolver, cfg ExtractorConfig) *Extractor {
	return &Extractor{
		resolver: resolver,
		cfg:      cfg,
		logger:   Logger.With("component", "youtube_extractor"),
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scanStep is the decision taken after an attempt finishes.
type scanStep int

const (
	stepDone     scanStep = iota // attempt succeeded
	stepFallback                 // back off, then run the next attempt
	stepStop                     // give up and report the last error
)

// attemptOutcome records how one planned attempt ended.
type attemptOutcome struct {
	index   int
	attempt ExtractAttempt
	result  *ExtractionResult
	err     error
}

// nextStep decides what follows an outcome in a plan of total attempts.
func nextStep(o attemptOutcome, total int) scanStep {
	if o.err == nil {
		return stepDone
	}
	hasNext := o.index < total-1
	if !hasNext || !IsRetryableExtractError(o.err) {
		return stepStop
	}
	return stepFallback
}

// Resolve runs the attempt plan for videoID and returns the first success.
// On failure the error is an *ExtractError whose message comes from the
// last attempt that ran.
func (e *Extractor) Resolve(ctx context.Context, videoID string, authHeaders map[string]string, dataSaver bool) (*ExtractionResult, error) {
	plan := PlanAttempts(dataSaver, len(authHeaders) > 0)

	var lastErr error
scan:
	for index, attempt := range plan {
		if err := ctx.Err(); err != nil {
			return nil, &ExtractError{Code: CodeExtractFailed, Message: err.Error(), Err: err}
		}

		result, err := e.executeAttempt(ctx, videoID, authHeaders, attempt)
		outcome := attemptOutcome{index: index, attempt: attempt, result: result, err: err}

		switch nextStep(outcome, len(plan)) {
		case stepDone:
			if index > 0 {
				e.logger.Info("extraction succeeded via fallback path", "label", attempt.Label, "index", index)
			}
			return result, nil
		case stepStop:
			lastErr = err
			break scan
		case stepFallback:
			lastErr = err
			e.logger.Debug("extraction fallback", "after", attempt.Label, "err", err)
			if err := e.sleep(ctx, e.cfg.BackoffDelay(index)); err != nil {
				return nil, &ExtractError{Code: CodeExtractFailed, Message: err.Error(), Err: err}
			}
		}
	}

	if lastErr == nil {
		lastErr = errNoPlayableAudio
	}
	return nil, &ExtractError{
		Code:    CodeExtractFailed,
		Message: ClientExtractErrorMessage(lastErr),
		Err:     lastErr,
	}
}

// ExtractAudio validates the request and resolves the best audio stream.
func (e *Extractor) ExtractAudio(ctx context.Context, videoID string, dataSaver bool, authHeaders map[string]any) (*ExtractionResult, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, &ExtractError{Code: CodeMissingVideoID, Message: "videoId is required"}
	}

	result, err := e.Resolve(ctx, videoID, AuthHeadersFromAny(authHeaders), dataSaver)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractAudioURL is ExtractAudio without the headers.
func (e *Extractor) ExtractAudioURL(ctx context.Context, videoID string, dataSaver bool, authHeaders map[string]any) (string, error) {
	result, err := e.ExtractAudio(ctx, videoID, dataSaver, authHeaders)
	if err != nil {
		return "", err
	}
	if result.URL == "" {
		return "", &ExtractError{Code: CodeExtractFailed, Message: msgNoPlayableAudio + "."}
	}
	return result.URL, nil
}
