package backend

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ServiceStatus represents the reachability of an upstream the backend depends on.
type ServiceStatus struct {
	Status    string    `json:"status"` // "up", "down"
	CheckedAt time.Time `json:"checkedAt"`
}

// StatusChecker probes upstreams with HEAD requests and caches the results.
type StatusChecker struct {
	client    *http.Client
	endpoints map[string]string
	ttl       time.Duration

	mu      sync.RWMutex
	entries map[string]ServiceStatus
}

// NewStatusChecker creates a checker for the catalog and YouTube.
func NewStatusChecker(client *http.Client, catalogBaseURL string) *StatusChecker {
	return &StatusChecker{
		client: client,
		endpoints: map[string]string{
			"catalog": catalogBaseURL,
			"youtube": "https://www.youtube.com",
		},
		ttl:     5 * time.Minute,
		entries: make(map[string]ServiceStatus),
	}
}

// Check returns the status of every upstream, probing those whose cached
// result has expired.
func (s *StatusChecker) Check(ctx context.Context) map[string]ServiceStatus {
	result := make(map[string]ServiceStatus, len(s.endpoints))

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, endpoint := range s.endpoints {
		s.mu.RLock()
		cached, ok := s.entries[name]
		s.mu.RUnlock()

		if ok && time.Since(cached.CheckedAt) < s.ttl {
			result[name] = cached
			continue
		}

		wg.Add(1)
		go func(name, endpoint string) {
			defer wg.Done()

			status := s.probe(ctx, endpoint)

			s.mu.Lock()
			s.entries[name] = status
			s.mu.Unlock()

			mu.Lock()
			result[name] = status
			mu.Unlock()
		}(name, endpoint)
	}

	wg.Wait()
	return result
}

func (s *StatusChecker) probe(ctx context.Context, endpoint string) ServiceStatus {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	down := ServiceStatus{Status: "down", CheckedAt: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return down
	}
	resp, err := s.client.Do(req)
	if err != nil {
		Logger.Debug("upstream probe failed", "endpoint", endpoint, "error", err)
		return down
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return down
	}
	return ServiceStatus{Status: "up", CheckedAt: time.Now()}
}
