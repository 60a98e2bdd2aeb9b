package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPPinger probes an HTTP dependency, such as an Ollama host, with a GET
// request. Any response below 500 counts as reachable. It costs no model
// tokens, unlike a generate call.
type HTTPPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// url is the probed endpoint.
	url string
	// client performs the request.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for url.
func NewHTTPPinger(name, url string) *HTTPPinger {
	return &HTTPPinger{name: name, url: url, client: &http.Client{Timeout: probeTimeout + time.Second}}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues the GET request.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unhealthy status %d", resp.StatusCode)
	}
	return nil
}
