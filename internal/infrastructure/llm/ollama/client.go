package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, Options{})
}

func NewWithOptions(baseURL, genModel, embedModel string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// Generator completes prompts with one model. It implements ports.LLM.
type Generator struct {
	client *Client
	model  string
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client, model: client.genModel}
}

// WithModel returns a generator on the same client using another model.
func (g *Generator) WithModel(model string) *Generator {
	if strings.TrimSpace(model) == "" {
		return g
	}
	return &Generator{client: g.client, model: model}
}

func (g *Generator) Predict(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  g.model,
		"prompt": prompt,
		"stream": false,
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

// Stream reads the NDJSON generate stream. onToken errors abort the stream.
func (g *Generator) Stream(ctx context.Context, prompt string, onToken func(string) error) (string, error) {
	reqBody := map[string]any{
		"model":  g.model,
		"prompt": prompt,
		"stream": true,
	}

	var full strings.Builder
	err := g.client.streamJSON(ctx, "/api/generate", reqBody, "generate_stream", func(line generateChunk) error {
		if line.Error != "" {
			return fmt.Errorf("ollama generate_stream: %s", line.Error)
		}
		if line.Response == "" {
			return nil
		}
		full.WriteString(line.Response)
		return onToken(line.Response)
	})
	if err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}
