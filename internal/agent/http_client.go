package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxErrorBodyBytes  = 2048
)

// HTTPClient talks to the agent over its JSON API. Every call carries a
// bounded deadline; exceeding it surfaces as a transient error.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	callTimeout time.Duration
}

// NewHTTPClient constructs an HTTPClient for the given base URL.
func NewHTTPClient(baseURL string, callTimeout time.Duration) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("agent base URL is required")
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &HTTPClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		callTimeout: callTimeout,
	}, nil
}

type submitRequest struct {
	Documents []SubmitDocument `json:"documents"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

// Submit hands the documents to the agent and returns the job reference.
func (c *HTTPClient) Submit(ctx context.Context, docs []SubmitDocument) (JobRef, error) {
	if len(docs) == 0 {
		return "", &Error{Reason: "no documents to submit"}
	}

	payload, err := json.Marshal(submitRequest{Documents: docs})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyses", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.JobID == "" {
		return "", &Error{Reason: "submit response missing jobId"}
	}
	return JobRef(out.JobID), nil
}

type fetchResponse struct {
	Status string          `json:"status"`
	Result *AnalysisResult `json:"result,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// FetchResult polls the agent for the outcome of a submitted job.
func (c *HTTPClient) FetchResult(ctx context.Context, ref JobRef) (Outcome, error) {
	if ref == "" {
		return Outcome{}, &Error{Reason: "job reference is empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/analyses/"+string(ref), nil)
	if err != nil {
		return Outcome{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Outcome{}, &Error{StatusCode: resp.StatusCode, Reason: "unknown job"}
	}
	if resp.StatusCode != http.StatusOK {
		return Outcome{}, classifyStatus(resp)
	}

	var out fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, fmt.Errorf("decode fetch response: %w", err)
	}

	switch strings.ToLower(out.Status) {
	case "pending", "processing", "queued":
		return Outcome{State: OutcomePending}, nil
	case "succeeded", "completed":
		if out.Result == nil {
			return Outcome{}, &Error{Reason: "succeeded outcome missing result"}
		}
		return Outcome{State: OutcomeSucceeded, Result: out.Result}, nil
	case "failed":
		return Outcome{State: OutcomeFailed, FailureReason: out.Reason}, nil
	default:
		return Outcome{}, &Error{Reason: "unknown outcome status: " + out.Status}
	}
}

// Health probes the agent's health endpoint.
func (c *HTTPClient) Health(ctx context.Context) (HealthState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthUnhealthy, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthUnhealthy, wrapTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return HealthHealthy, nil
	case resp.StatusCode >= 500:
		return HealthUnhealthy, nil
	default:
		return HealthDegraded, nil
	}
}

func wrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Reason: "agent call timed out", Transient: true}
	}
	return &Error{Reason: err.Error(), Transient: true}
}

func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	reason := strings.TrimSpace(string(body))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return &Error{
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}
