package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, collection string) *Client {
	return NewWithOptions(baseURL, collection, Options{})
}

func NewWithOptions(baseURL, collection string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// SearchChunks runs a cosine search restricted to one knowledge base.
func (c *Client) SearchChunks(ctx context.Context, req ports.ChunkSearchRequest) ([]domain.Chunk, error) {
	if req.Limit <= 0 || len(req.Vector) == 0 {
		return nil, nil
	}

	must := []any{
		map[string]any{"key": "knowledge_base_id", "match": map[string]any{"value": req.KnowledgeBaseID}},
	}
	if pushed := translateFilter(req.Filter); pushed != nil {
		must = append(must, pushed)
	}
	reqBody := map[string]any{
		"vector":       req.Vector,
		"limit":        req.Limit,
		"with_payload": true,
		"filter":       map[string]any{"must": must},
	}

	var resp searchResponse
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.call(ctx, "search", http.MethodPost, url, reqBody, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Chunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := getStringPayload(r.Payload, "chunk_id")
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		meta, _ := r.Payload["meta"].(map[string]any)
		out = append(out, domain.Chunk{
			ID:              id,
			DocumentID:      getInt64Payload(r.Payload, "document_id"),
			KnowledgeBaseID: getInt64Payload(r.Payload, "knowledge_base_id"),
			Text:            getStringPayload(r.Payload, "text"),
			Hash:            getStringPayload(r.Payload, "hash"),
			Metadata:        meta,
			Score:           r.Score,
		})
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, op, method, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", op, err)
	}
	err = c.executor.Execute(ctx, "qdrant."+op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create %s request: %w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return resilience.NewStatusError("qdrant", op, resp)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
		return nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return resilience.WrapTemporary("qdrant "+op, err, resilience.ClassifyHTTPError)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getInt64Payload(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	default:
		return 0
	}
}
