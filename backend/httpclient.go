package backend

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/proxy"
)

// clientUserAgent identifies outbound catalog and download requests.
const clientUserAgent = "hongit-local-backend/1.0"

// NewHTTPClient returns an *http.Client configured with the given timeout
// and optionally routed through a proxy.
//
// proxyURL examples:
//   - "" (empty): no proxy
//   - "http://host:8080"
//   - "socks5://host:1080" or "socks5h://host:1080"
//
// The PROXY_URL environment variable overrides the proxyURL argument.
func NewHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	if env := os.Getenv("PROXY_URL"); env != "" {
		proxyURL = env
	}

	transport, err := newProxyTransport(proxyURL)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: transport, userAgent: clientUserAgent},
	}, nil
}

func newProxyTransport(proxyURL string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if proxyURL == "" {
		return transport, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
	}

	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q (use http, https, or socks5)", parsed.Scheme)
	}
	return transport, nil
}

// userAgentTransport sets a User-Agent on requests that carry none.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// MustHTTPClient is like NewHTTPClient but panics on configuration errors.
// Only use during startup when a misconfigured proxy should be fatal.
func MustHTTPClient(timeout time.Duration, proxyURL string) *http.Client {
	c, err := NewHTTPClient(timeout, proxyURL)
	if err != nil {
		panic(fmt.Sprintf("httpclient: %v", err))
	}
	return c
}
