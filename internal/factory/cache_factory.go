package factory

import (
	"fmt"

	"github.com/hadlow/llm-mail-labeler/internal/adapters/cache"
	"github.com/hadlow/llm-mail-labeler/internal/config"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
)

// CacheFactory creates the evaluation cache. The cache is a pure in-process
// optimization and is never persisted across restarts.
type CacheFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateEvalCache creates the evaluation cache from configuration
func (f *CacheFactory) CreateEvalCache() (core.EvalCache, error) {
	ttl, err := f.cfg.GetDuration("cache.ttl")
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}
	capacity := f.cfg.GetInt("cache.capacity")
	sweepFraction := f.cfg.GetFloat64("cache.sweep_fraction")

	return cache.NewMemoryCache(f.logger, ttl, capacity, sweepFraction), nil
}
