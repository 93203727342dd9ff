package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/uplink/internal/core/domain"
)

// HTTPProbe checks reachability with a GET against a cheap endpoint.
type HTTPProbe struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPProbe creates an HTTP-based probe.
func NewHTTPProbe(endpoint string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Check issues one bounded GET and returns the round-trip latency.
func (p *HTTPProbe) Check(ctx context.Context) (int64, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return -1, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return -1, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return -1, fmt.Errorf("probe rejected: status %d", resp.StatusCode)
	}

	return time.Since(start).Milliseconds(), nil
}

// HTTPMutate applies actions as JSON requests against a REST-ish endpoint.
type HTTPMutate struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPMutate creates an HTTP-based mutate adapter.
func NewHTTPMutate(baseURL string, timeout time.Duration) *HTTPMutate {
	return &HTTPMutate{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Apply submits one action. The action id travels as an idempotency key so
// the remote side can deduplicate replays whose acknowledgment was lost.
func (m *HTTPMutate) Apply(ctx context.Context, action *domain.QueuedAction) error {
	jsonData, err := json.Marshal(action)
	if err != nil {
		return NewMutateError(KindPermanent, "marshal action", err)
	}

	method := http.MethodPost
	switch action.Type {
	case domain.ActionUpdate:
		method = http.MethodPatch
	case domain.ActionDelete:
		method = http.MethodDelete
	}

	url := fmt.Sprintf("%s/%s", m.baseURL, action.Target)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(jsonData))
	if err != nil {
		return NewMutateError(KindPermanent, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", action.ID)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return NewMutateError(KindTransient, "apply action", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return NewMutateError(KindConflict, detail, nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return NewMutateError(KindTransient, detail, nil)
	default:
		return NewMutateError(KindPermanent, detail, nil)
	}
}
