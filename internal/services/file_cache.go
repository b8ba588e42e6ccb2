package services

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bbr/multisavex/internal/downloaders"
	"github.com/bbr/multisavex/internal/metrics"
	"github.com/bbr/multisavex/internal/models"
)

// FileCache remembers the Telegram file ids sent for a link, so repeated links are answered
// without downloading again. A nil *FileCache is a disabled cache.
type FileCache struct {
	cache *expirable.LRU[string, []models.CachedMedia]
}

func NewFileCache(size int, ttl time.Duration) *FileCache {
	return &FileCache{cache: expirable.NewLRU[string, []models.CachedMedia](size, nil, ttl)}
}

func (c *FileCache) Get(rawURL string) ([]models.CachedMedia, bool) {
	if c == nil {
		return nil, false
	}
	media, ok := c.cache.Get(downloaders.Normalize(rawURL))
	if ok && len(media) > 0 {
		metrics.CacheHitsTotal.Inc()
		return media, true
	}
	metrics.CacheMissesTotal.Inc()
	return nil, false
}

func (c *FileCache) Set(rawURL string, media []models.CachedMedia) {
	if c == nil || len(media) == 0 {
		return
	}
	c.cache.Add(downloaders.Normalize(rawURL), media)
}

func (c *FileCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
