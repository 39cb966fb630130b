// Package psp integrates with the external payment service provider.
package psp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/veloride/veloride/internal/apperr"
)

// ChargeRequest describes one capture attempt. IdempotencyKey is forwarded
// to the provider so a retried capture charges at most once.
type ChargeRequest struct {
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Method         string  `json:"method"`
	RiderID        string  `json:"rider_id"`
	IdempotencyKey string  `json:"-"`
}

// ChargeResult is the provider's answer.
type ChargeResult struct {
	Succeeded bool   `json:"succeeded"`
	Reference string `json:"reference"`
	Declined  string `json:"declined,omitempty"`
}

// Client charges riders through the provider.
type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// ─── HTTP client ────────────────────────────────────────────

// HTTPClient calls a real provider over HTTPS. Transient failures (5xx,
// transport errors) are retried twice with a short backoff inside the
// overall call deadline.
type HTTPClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal charge: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/charges", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build charge request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

		result, err := c.doOnce(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	return nil, apperr.Unavailable("psp_unreachable", "payment provider unavailable").Wrap(lastErr)
}

func (c *HTTPClient) doOnce(req *http.Request) (*ChargeResult, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}
	return &result, nil
}

// ─── Stub client ────────────────────────────────────────────

// StubClient is the local stand-in used when no provider is configured.
// Charges always succeed with a reference derived from the idempotency key,
// so retried captures observe the same reference.
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (s *StubClient) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	sum := sha256.Sum256([]byte(req.IdempotencyKey + req.RiderID))
	return &ChargeResult{
		Succeeded: true,
		Reference: "psp_stub_" + hex.EncodeToString(sum[:8]),
	}, nil
}
