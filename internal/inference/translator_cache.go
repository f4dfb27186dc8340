package inference

import (
	"context"
	"fmt"
	"time"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/pkg/cache"
)

// CacheConfig sizes the translation result cache.
type CacheConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	SourceLanguage  string
	TargetLanguage  string
}

// CachedTranslator memoizes translation results by source text. Live speech
// repeats short phrases constantly, so even a small TTL cache removes most
// round trips to the backing provider.
type CachedTranslator struct {
	inner   ports.TranslationStage
	results *cache.Cache[*domain.TranslationResult]
	source  string
	target  string
}

func NewCachedTranslator(inner ports.TranslationStage, cfg CacheConfig) *CachedTranslator {
	return &CachedTranslator{
		inner:   inner,
		results: cache.New[*domain.TranslationResult](cfg.TTL, cfg.CleanupInterval),
		source:  cfg.SourceLanguage,
		target:  cfg.TargetLanguage,
	}
}

func (c *CachedTranslator) Name() string {
	return c.inner.Name() + "+cache"
}

func (c *CachedTranslator) Ready() bool {
	return c.inner.Ready()
}

func (c *CachedTranslator) Process(ctx context.Context, key domain.StreamKey, text string) (*domain.TranslationResult, error) {
	cacheKey := fmt.Sprintf("%s|%s|%s", text, c.source, c.target)
	return c.results.GetOrSet(ctx, cacheKey, func(ctx context.Context) (*domain.TranslationResult, error) {
		return c.inner.Process(ctx, key, text)
	})
}

func (c *CachedTranslator) Close() error {
	c.results.Stop()
	return c.inner.Close()
}
