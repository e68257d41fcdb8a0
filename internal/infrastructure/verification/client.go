package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
)

// Client submits answered turns to the post-verification service.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Token              string
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(serviceURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        strings.TrimSpace(serviceURL),
		token:      strings.TrimSpace(options.Token),
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type submitRequest struct {
	ExternalRequestID string `json:"external_request_id"`
	QAContent         string `json:"qa_content"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit returns the link of the created verification job, or "" when the
// service did not create one.
func (c *Client) Submit(ctx context.Context, externalRequestID, qaContent string) (string, error) {
	if c.url == "" {
		return "", nil
	}
	body, err := json.Marshal(submitRequest{ExternalRequestID: externalRequestID, QAContent: qaContent})
	if err != nil {
		return "", fmt.Errorf("marshal verification request: %w", err)
	}

	resp, err := resilience.Do(ctx, c.executor, "verification.submit", func(ctx context.Context) (submitResponse, error) {
		return c.submit(ctx, body)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", resilience.WrapTemporary("verification submit", err, resilience.ClassifyHTTPError)
	}
	if strings.TrimSpace(resp.JobID) == "" {
		return "", nil
	}
	return JobLink(c.url, resp.JobID)
}

func (c *Client) submit(ctx context.Context, body []byte) (submitResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return submitResponse{}, fmt.Errorf("create verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return submitResponse{}, fmt.Errorf("verification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return submitResponse{}, resilience.NewStatusError("verification", "submit", resp)
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return submitResponse{}, fmt.Errorf("decode verification response: %w", err)
	}
	return out, nil
}

// JobLink resolves jobID against the service URL with a trailing slash, so
// the job lives under the submit path.
func JobLink(serviceURL, jobID string) (string, error) {
	base, err := url.Parse(strings.TrimRight(serviceURL, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("parse verification url: %w", err)
	}
	ref, err := url.Parse(url.PathEscape(jobID))
	if err != nil {
		return "", fmt.Errorf("parse job id: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
