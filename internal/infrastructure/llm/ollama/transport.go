package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
)

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	call := func(ctx context.Context) error {
		resp, err := c.do(ctx, path, body, operation)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}

	err = c.executor.Execute(ctx, "ollama."+operation, call, resilience.ClassifyHTTPError)
	return resilience.WrapTemporary("ollama "+operation, err, resilience.ClassifyHTTPError)
}

// streamJSON retries only until the response headers arrive; once lines are
// being delivered a failure is returned as is.
func (c *Client) streamJSON(ctx context.Context, path string, payload any, operation string, onLine func(generateChunk) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	resp, err := resilience.Do(ctx, c.executor, "ollama."+operation, func(ctx context.Context) (*http.Response, error) {
		return c.do(ctx, path, body, operation)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return resilience.WrapTemporary("ollama "+operation, err, resilience.ClassifyHTTPError)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line generateChunk
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("decode %s line: %w", operation, err)
		}
		if err := onLine(line); err != nil {
			return err
		}
		if line.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s stream: %w", operation, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, body []byte, operation string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, resilience.NewStatusError("ollama", operation, resp)
	}
	return resp, nil
}
