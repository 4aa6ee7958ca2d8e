package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIDriver implements Driver on OpenAI's embedding API.
// Defaults to text-embedding-3-small (1536d).
type OpenAIDriver struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
}

// OpenAIOption configures the OpenAI driver.
type OpenAIOption func(*OpenAIDriver)

// WithOpenAIBatchSize sets the max texts per Embed call.
func WithOpenAIBatchSize(size int) OpenAIOption {
	return func(d *OpenAIDriver) { d.batchSize = size }
}

// NewOpenAIDriver creates an OpenAI embedding driver. baseURL overrides
// the API endpoint for proxies; empty means api.openai.com.
func NewOpenAIDriver(apiKey, model, baseURL string, opts ...OpenAIOption) *OpenAIDriver {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	dims := 1536
	if model == string(openai.LargeEmbedding3) {
		dims = 3072
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	d := &OpenAIDriver{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dims,
		batchSize:  2048,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *OpenAIDriver) Kind() string      { return "openai" }
func (d *OpenAIDriver) Dimensions() int   { return d.dimensions }
func (d *OpenAIDriver) MaxBatchSize() int { return d.batchSize }

// Embed generates vector embeddings for a batch of texts.
func (d *OpenAIDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, fmt.Errorf("batch size %d exceeds max %d", len(texts), d.batchSize)
	}

	resp, err := d.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(d.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	// Reorder by index
	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index >= len(vectors) {
			continue
		}
		v := make([]float64, len(item.Embedding))
		for i, f := range item.Embedding {
			v[i] = float64(f)
		}
		vectors[item.Index] = v
	}
	return vectors, nil
}

// HealthCheck verifies the API key by embedding a test string.
func (d *OpenAIDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}
