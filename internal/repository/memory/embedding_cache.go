package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// EmbeddingCache keeps recently computed query vectors so repeated questions
// skip the embedding backend.
type EmbeddingCache struct {
	cache *cache.Cache
}

func NewEmbeddingCache(ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &EmbeddingCache{
		cache: cache.New(ttl, 2*ttl),
	}
}

func cacheKey(taskType, text string) string {
	sum := sha256.Sum256([]byte(taskType + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *EmbeddingCache) Save(taskType, text string, values []float32) {
	stored := make([]float32, len(values))
	copy(stored, values)
	c.cache.Set(cacheKey(taskType, text), stored, cache.DefaultExpiration)
}

func (c *EmbeddingCache) Get(taskType, text string) ([]float32, bool) {
	if x, found := c.cache.Get(cacheKey(taskType, text)); found {
		return x.([]float32), true
	}
	return nil, false
}

// Flush drops every entry; called after the index is reset.
func (c *EmbeddingCache) Flush() {
	c.cache.Flush()
}

func (c *EmbeddingCache) Len() int {
	return c.cache.ItemCount()
}
