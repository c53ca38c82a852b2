package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Saavn catalog proxy

// Errors returned by SaavnClient.BestDownloadURL.
var (
	ErrSongFetchFailed = errors.New("failed_to_fetch_song")
	ErrNoSongData      = errors.New("no_song_data")
	ErrNoDownloadURLs  = errors.New("no_download_urls")
)

// preferredQualities lists download bitrates from best to worst.
var preferredQualities = []string{"320kbps", "160kbps", "96kbps", "48kbps", "12kbps"}

// CatalogStatusError is returned when the catalog answers with a non-2xx status.
type CatalogStatusError struct {
	StatusCode int
}

func (e *CatalogStatusError) Error() string {
	return fmt.Sprintf("catalog returned status %d", e.StatusCode)
}

// SaavnDownloadURL is one entry of a song's downloadUrl list.
type SaavnDownloadURL struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

type saavnSongResponse struct {
	Data []struct {
		ID          string             `json:"id"`
		Name        string             `json:"name"`
		DownloadURL []SaavnDownloadURL `json:"downloadUrl"`
	} `json:"data"`
}

// SaavnClient fetches catalog data, paced by a rate limiter and cached
// by CatalogCache.
type SaavnClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	cache   *CatalogCache

	maxTries     uint
	retryInitial time.Duration
}

// NewSaavnClient creates a catalog client. requestsPerSecond <= 0 disables
// pacing; cache may be nil.
func NewSaavnClient(baseURL string, client *http.Client, requestsPerSecond float64, cache *CatalogCache) *SaavnClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &SaavnClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		limiter:      rate.NewLimiter(limit, 1),
		cache:        cache,
		maxTries:     3,
		retryInitial: 500 * time.Millisecond,
	}
}

// SearchSongs returns the raw catalog search response for query.
func (s *SaavnClient) SearchSongs(ctx context.Context, query string) ([]byte, error) {
	endpoint := s.baseURL + "/api/search/songs?query=" + url.QueryEscape(query)
	return s.cachedGet(ctx, CatalogKey("search", query), endpoint)
}

// GetSong returns the raw catalog response for one song.
func (s *SaavnClient) GetSong(ctx context.Context, id string) ([]byte, error) {
	endpoint := s.baseURL + "/api/songs/" + url.PathEscape(id)
	return s.cachedGet(ctx, CatalogKey("song", id), endpoint)
}

// BestDownloadURL picks the highest preferred bitrate for a song. When no
// entry carries a known quality label the last entry is used.
func (s *SaavnClient) BestDownloadURL(ctx context.Context, songID string) (string, error) {
	body, err := s.GetSong(ctx, songID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSongFetchFailed, err)
	}

	var resp saavnSongResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSongFetchFailed, err)
	}
	if len(resp.Data) == 0 {
		return "", ErrNoSongData
	}

	best := pickDownloadURL(resp.Data[0].DownloadURL)
	if best == "" {
		return "", ErrNoDownloadURLs
	}
	return best, nil
}

func pickDownloadURL(urls []SaavnDownloadURL) string {
	if len(urls) == 0 {
		return ""
	}
	for _, quality := range preferredQualities {
		for _, u := range urls {
			if u.Quality == quality && u.URL != "" {
				return u.URL
			}
		}
	}
	return urls[len(urls)-1].URL
}

func (s *SaavnClient) cachedGet(ctx context.Context, key, endpoint string) ([]byte, error) {
	if body, ok := s.cache.Get(ctx, key); ok {
		return body, nil
	}

	body, err := s.fetchWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, body)
	return body, nil
}

// fetchWithRetry retries transport errors, 429 and 5xx with exponential
// backoff. Other statuses fail immediately.
func (s *SaavnClient) fetchWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	operation := func() ([]byte, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &CatalogStatusError{StatusCode: resp.StatusCode}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, backoff.Permanent(&CatalogStatusError{StatusCode: resp.StatusCode})
		}

		return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInitial
	bo.MaxInterval = 5 * time.Second

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithMaxElapsedTime(30*time.Second),
		backoff.WithNotify(func(err error, next time.Duration) {
			Logger.Debug("catalog request retry", "url", endpoint, "error", err, "next", next)
		}),
	)
	if err != nil {
		Logger.Warn("catalog request failed", "url", endpoint, "error", err)
		return nil, err
	}
	return body, nil
}
