package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient wraps http.Client with cookie/user-agent injection and
// status classification for playlist and segment fetching.
type HTTPClient struct {
	client    *http.Client
	cookies   string
	userAgent string
	timeout   time.Duration
}

// NewHTTPClient creates an HTTP client with TLS verification disabled
// (live-stream CDNs frequently present mismatched certificates) and
// optional cookie/user-agent headers.
func NewHTTPClient(cookies, userAgent string) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &HTTPClient{
		client:    &http.Client{Transport: transport},
		cookies:   cookies,
		userAgent: userAgent,
		timeout:   15 * time.Second,
	}
}

// GetBytes fetches a URL and returns the body as bytes.
func (h *HTTPClient) GetBytes(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if h.cookies != "" {
		for _, pair := range strings.Split(h.cookies, ";") {
			parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(parts) == 2 {
				req.AddCookie(&http.Cookie{
					Name:  strings.TrimSpace(parts[0]),
					Value: strings.TrimSpace(parts[1]),
				})
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrForbidden
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}
