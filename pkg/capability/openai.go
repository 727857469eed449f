package capability

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mnemos/mnemos/pkg/errs"
)

// DefaultEmbeddingModel is the provider model used when none is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbedder implements Embedder against the OpenAI embeddings API, or
// any OpenAI-compatible endpoint via the base URL option.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIEmbedder creates a remote embedder. The dimension must match
// the table it feeds; the API is asked to truncate to it.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	client := openai.NewClient(opts...)
	return &OpenAIEmbedder{client: &client, model: model, dim: dim}
}

// Dim returns the vector dimension.
func (o *OpenAIEmbedder) Dim() int { return o.dim }

// Embed requests one embedding. Empty input returns the zero vector
// without a network call.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, o.dim), nil
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Dimensions:     openai.Int(int64(o.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "capability.embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, errs.New(errs.KindTransient, "capability.embed", "provider returned no embedding")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, f := range raw {
		vec[i] = float32(f)
	}
	return vec, nil
}
