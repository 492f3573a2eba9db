package embedding

import "context"

// VectorCache is satisfied by internal/repository/memory.EmbeddingCache.
type VectorCache interface {
	Get(taskType, text string) ([]float32, bool)
	Save(taskType, text string, values []float32)
}

// CachedProvider memoizes query embeddings. Document embeddings are passed
// through untouched since they are computed once per chunk anyway.
type CachedProvider struct {
	inner EmbeddingProvider
	cache VectorCache
}

func NewCachedProvider(inner EmbeddingProvider, cache VectorCache) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache}
}

func (p *CachedProvider) Generate(ctx context.Context, text string, taskType string) (*EmbeddingResponse, error) {
	if taskType != TaskRetrievalQuery {
		return p.inner.Generate(ctx, text, taskType)
	}
	if values, ok := p.cache.Get(taskType, text); ok {
		return &EmbeddingResponse{Embedding: EmbeddingResponseEmbedding{Values: values}}, nil
	}

	res, err := p.inner.Generate(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	p.cache.Save(taskType, text, res.Embedding.Values)
	return res, nil
}
