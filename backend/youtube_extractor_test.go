package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedResolver answers Resolve calls in order from a fixed script.
type scriptedResolver struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     []ExtractRequest
}

type scriptedResponse struct {
	info *MediaInfo
	err  error
}

func (s *scriptedResolver) Resolve(ctx context.Context, req ExtractRequest) (*MediaInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.calls)
	s.calls = append(s.calls, req)
	if idx >= len(s.responses) {
		return nil, errors.New("unexpected call")
	}
	return s.responses[idx].info, s.responses[idx].err
}

func (s *scriptedResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestExtractor(resolver MediaResolver) (*Extractor, *[]time.Duration) {
	var delays []time.Duration
	e := NewExtractor(resolver, DefaultExtractorConfig)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return e, &delays
}

func okResponse(url string) scriptedResponse {
	return scriptedResponse{info: &MediaInfo{URL: url}}
}

func failResponse(msg string) scriptedResponse {
	return scriptedResponse{err: errors.New(msg)}
}

func TestResolve_FirstAttemptSucceeds(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{
		okResponse("https://rr1.googlevideo.com/videoplayback?id=abc123"),
	}}
	e, delays := newTestExtractor(resolver)

	result, err := e.Resolve(context.Background(), "abc123", map[string]string{}, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.URL != "https://rr1.googlevideo.com/videoplayback?id=abc123" {
		t.Errorf("unexpected url %q", result.URL)
	}

	want := map[string]string{
		"User-Agent":      defaultStreamUserAgent,
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
		"Referer":         "https://www.youtube.com/",
		"Origin":          "https://www.youtube.com",
	}
	if len(result.Headers) != len(want) {
		t.Fatalf("expected %d headers, got %v", len(want), result.Headers)
	}
	for k, v := range want {
		if result.Headers[k] != v {
			t.Errorf("header %s = %q, want %q", k, result.Headers[k], v)
		}
	}

	if resolver.callCount() != 1 {
		t.Errorf("expected 1 backend call, got %d", resolver.callCount())
	}
	if len(*delays) != 0 {
		t.Errorf("expected no backoff, got %v", *delays)
	}

	req := resolver.calls[0]
	if req.TargetURL != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("unexpected target %q", req.TargetURL)
	}
	if req.ExtractorArgs != extractorArgsAndroidFast {
		t.Errorf("first attempt should be android-fast, got args %q", req.ExtractorArgs)
	}
	if req.Headers != nil {
		t.Errorf("no-auth attempt should not inject headers, got %v", req.Headers)
	}
}

func TestResolve_TransientThenSuccess(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{
		failResponse("Unable to download API page: timed out"),
		okResponse("https://example.com/audio.m4a"),
		okResponse("https://example.com/should-not-be-used.m4a"),
	}}
	e, delays := newTestExtractor(resolver)

	result, err := e.Resolve(context.Background(), "abc123", nil, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.URL != "https://example.com/audio.m4a" {
		t.Errorf("expected second attempt result, got %q", result.URL)
	}
	if resolver.callCount() != 2 {
		t.Errorf("expected 2 backend calls, got %d", resolver.callCount())
	}
	if len(*delays) != 1 || (*delays)[0] != 120*time.Millisecond {
		t.Errorf("expected single 120ms backoff, got %v", *delays)
	}
}

func TestResolve_TerminalStopsImmediately(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{
		failResponse("[youtube] abc123: Sign in to confirm your age. This video may be inappropriate for some users."),
		okResponse("https://example.com/audio.m4a"),
	}}
	e, delays := newTestExtractor(resolver)

	_, err := e.Resolve(context.Background(), "abc123", nil, false)
	if err == nil {
		t.Fatal("expected error")
	}

	var extractErr *ExtractError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected *ExtractError, got %T", err)
	}
	if extractErr.Code != CodeExtractFailed {
		t.Errorf("expected code %s, got %s", CodeExtractFailed, extractErr.Code)
	}
	if extractErr.Message != "Age-restricted content. Sign-in headers are required." {
		t.Errorf("unexpected message %q", extractErr.Message)
	}
	if resolver.callCount() != 1 {
		t.Errorf("terminal failure must not run more attempts, got %d calls", resolver.callCount())
	}
	if len(*delays) != 0 {
		t.Errorf("expected no backoff, got %v", *delays)
	}
}

func TestResolve_ExhaustionReportsLastError(t *testing.T) {
	auth := map[string]string{"Cookie": "SID=1"}
	resolver := &scriptedResolver{responses: []scriptedResponse{
		failResponse("first failure"),
		failResponse("second failure"),
		failResponse("third failure"),
		failResponse("fourth failure"),
		failResponse("HTTP Error 403: Forbidden"),
	}}
	e, delays := newTestExtractor(resolver)

	_, err := e.Resolve(context.Background(), "abc123", auth, true)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Access denied by source (403). Try refreshing auth headers." {
		t.Errorf("expected classified last error, got %q", err.Error())
	}
	if resolver.callCount() != 5 {
		t.Errorf("expected all 5 attempts, got %d", resolver.callCount())
	}

	wantDelays := []time.Duration{120 * time.Millisecond, 240 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	if len(*delays) != len(wantDelays) {
		t.Fatalf("expected %d backoffs, got %v", len(wantDelays), *delays)
	}
	for i, d := range wantDelays {
		if (*delays)[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], d)
		}
	}
}

func TestResolve_AuthAttemptsInjectHeaders(t *testing.T) {
	auth := map[string]string{"cookie": " SID=1 ", "X-Random": "x"}
	resolver := &scriptedResolver{responses: []scriptedResponse{
		failResponse("timed out"),
		okResponse("https://example.com/a.m4a"),
	}}
	e, _ := newTestExtractor(resolver)

	if _, err := e.Resolve(context.Background(), "abc123", auth, false); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	req := resolver.calls[1]
	if req.ExtractorArgs != extractorArgsAndroidWeb {
		t.Errorf("second attempt should be android-web-auth, got %q", req.ExtractorArgs)
	}
	want := map[string]string{
		"Cookie":  "SID=1",
		"Referer": "https://www.youtube.com/",
		"Origin":  "https://www.youtube.com",
	}
	if len(req.Headers) != len(want) {
		t.Fatalf("unexpected injected headers %v", req.Headers)
	}
	for k, v := range want {
		if req.Headers[k] != v {
			t.Errorf("header %s = %q, want %q", k, req.Headers[k], v)
		}
	}
}

func TestResolve_RequestCarriesLatencyBounds(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{okResponse("https://example.com/a")}}
	e, _ := newTestExtractor(resolver)

	if _, err := e.Resolve(context.Background(), "abc123", nil, true); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	req := resolver.calls[0]
	if !req.NoPlaylist || !req.NoWarnings || !req.GeoBypass {
		t.Errorf("expected playlist/warnings/geo flags set: %+v", req)
	}
	if req.SocketTimeout != 12*time.Second || req.Retries != 2 || req.ExtractorRetries != 2 || req.RetrySleep != time.Second {
		t.Errorf("unexpected bounds: %+v", req)
	}
	if req.FormatSelector != audioFormatSaver {
		t.Errorf("data saver should use capped format, got %q", req.FormatSelector)
	}
}

func TestResolve_UpgradesHTTPAndKeepsBackendHeaders(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{{
		info: &MediaInfo{
			URL:         "  http://example.com/path?next=http://other  ",
			HTTPHeaders: map[string]string{"User-Agent": "yt-dlp-ua", "accept": "audio/*"},
		},
	}}}
	e, _ := newTestExtractor(resolver)

	result, err := e.Resolve(context.Background(), "abc123", nil, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.URL != "https://example.com/path?next=http://other" {
		t.Errorf("only the leading scheme should change, got %q", result.URL)
	}
	if result.Headers["User-Agent"] != "yt-dlp-ua" {
		t.Errorf("backend User-Agent overwritten: %q", result.Headers["User-Agent"])
	}
	if _, dup := result.Headers["Accept"]; dup {
		t.Errorf("default Accept must not duplicate backend accept: %v", result.Headers)
	}
	if result.Headers["Referer"] != "https://www.youtube.com/" {
		t.Errorf("missing default Referer: %v", result.Headers)
	}
}

func TestResolve_BlankURLIsRetryableFailure(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{
		{info: &MediaInfo{URL: "   "}},
		{info: nil},
		{info: &MediaInfo{}},
	}}
	e, _ := newTestExtractor(resolver)

	_, err := e.Resolve(context.Background(), "abc123", nil, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "No playable audio URL extracted" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if resolver.callCount() != 3 {
		t.Errorf("expected every no-auth attempt, got %d", resolver.callCount())
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{failResponse("timed out"), okResponse("https://x")}}
	e, _ := newTestExtractor(resolver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Resolve(ctx, "abc123", nil, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if resolver.callCount() != 0 {
		t.Errorf("no attempt should run after cancellation, got %d", resolver.callCount())
	}
}

func TestResolve_Deterministic(t *testing.T) {
	script := []scriptedResponse{failResponse("boom"), failResponse("boom again"), okResponse("https://x/y")}
	var firstCalls []ExtractRequest
	for run := 0; run < 3; run++ {
		resolver := &scriptedResolver{responses: script}
		e, _ := newTestExtractor(resolver)
		if _, err := e.Resolve(context.Background(), "abc123", map[string]string{"cookie": "a"}, false); err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
		if run == 0 {
			firstCalls = resolver.calls
			continue
		}
		if len(resolver.calls) != len(firstCalls) {
			t.Fatalf("run %d visited %d attempts, first run %d", run, len(resolver.calls), len(firstCalls))
		}
		for i := range firstCalls {
			if resolver.calls[i].ExtractorArgs != firstCalls[i].ExtractorArgs ||
				resolver.calls[i].FormatSelector != firstCalls[i].FormatSelector {
				t.Errorf("run %d attempt %d differs", run, i)
			}
		}
	}
}

func TestNextStep(t *testing.T) {
	tests := []struct {
		name  string
		index int
		total int
		err   error
		want  scanStep
	}{
		{"success", 0, 3, nil, stepDone},
		{"transient with next", 0, 3, errors.New("timed out"), stepFallback},
		{"transient last", 2, 3, errors.New("timed out"), stepStop},
		{"terminal with next", 0, 3, errors.New("Private video"), stepStop},
		{"blank message", 1, 3, errors.New(""), stepFallback},
		{"forbidden retries", 0, 2, errors.New("HTTP Error 403: Forbidden"), stepFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextStep(attemptOutcome{index: tt.index, err: tt.err}, tt.total)
			if got != tt.want {
				t.Errorf("nextStep() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := DefaultExtractorConfig
	cases := map[int]time.Duration{
		0: 120 * time.Millisecond,
		1: 240 * time.Millisecond,
		2: 300 * time.Millisecond,
		7: 300 * time.Millisecond,
	}
	for index, want := range cases {
		if got := cfg.BackoffDelay(index); got != want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", index, got, want)
		}
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleepContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext ignored cancellation")
	}
}

func TestExtractAudio_MissingVideoID(t *testing.T) {
	resolver := &scriptedResolver{}
	e, _ := newTestExtractor(resolver)

	for _, id := range []string{"", "   ", "\t\n"} {
		_, err := e.ExtractAudio(context.Background(), id, false, nil)
		var extractErr *ExtractError
		if !errors.As(err, &extractErr) {
			t.Fatalf("expected *ExtractError for %q, got %v", id, err)
		}
		if extractErr.Code != CodeMissingVideoID {
			t.Errorf("expected %s, got %s", CodeMissingVideoID, extractErr.Code)
		}
	}
	if resolver.callCount() != 0 {
		t.Errorf("validation failure must not call backend, got %d", resolver.callCount())
	}
}

func TestExtractAudio_TrimsIDAndDropsNullHeaders(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{okResponse("https://x/a")}}
	e, _ := newTestExtractor(resolver)

	auth := map[string]any{"Cookie": nil, "user-agent": "   "}
	result, err := e.ExtractAudio(context.Background(), "  abc123 ", false, auth)
	if err != nil {
		t.Fatalf("ExtractAudio failed: %v", err)
	}
	if result.URL != "https://x/a" {
		t.Errorf("unexpected url %q", result.URL)
	}
	if !strings.HasSuffix(resolver.calls[0].TargetURL, "v=abc123") {
		t.Errorf("video id not trimmed: %q", resolver.calls[0].TargetURL)
	}
}

func TestExtractAudioURL(t *testing.T) {
	resolver := &scriptedResolver{responses: []scriptedResponse{okResponse("http://x/a")}}
	e, _ := newTestExtractor(resolver)

	url, err := e.ExtractAudioURL(context.Background(), "abc123", false, nil)
	if err != nil {
		t.Fatalf("ExtractAudioURL failed: %v", err)
	}
	if url != "https://x/a" {
		t.Errorf("got %q", url)
	}
}

func TestExtractor_ConcurrentResolves(t *testing.T) {
	e, _ := newTestExtractor(&sharedOKResolver{})
	e.sleep = sleepContext

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Resolve(context.Background(), "abc123", nil, i%2 == 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent resolve failed: %v", err)
	}
}

type sharedOKResolver struct{}

func (sharedOKResolver) Resolve(ctx context.Context, req ExtractRequest) (*MediaInfo, error) {
	return &MediaInfo{URL: "https://example.com/" + req.FormatSelector}, nil
}
