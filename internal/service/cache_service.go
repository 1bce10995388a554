package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService wraps the cache repository with metrics and the key layout for items.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool

	// epochs counts invalidations per item so a load that raced with a mutation is not cached.
	mu     sync.Mutex
	epochs map[string]uint64
}

// itemDetailTTL caps item detail entries; invalidations from other instances only reach
// the shared cache, not this instance's epochs.
const itemDetailTTL = time.Minute

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		repo:       repo,
		metrics:    metrics,
		defaultTTL: defaultTTL,
		logger:     logger,
		enabled:    enabled,
		epochs:     make(map[string]uint64),
	}
}

// ItemKey is the cache key of an item detail payload.
func ItemKey(itemID string) string {
	return fmt.Sprintf("lostfound:item:%s", itemID)
}

// MatchesKey is the cache key of the match results for an item.
func MatchesKey(itemID string) string {
	return fmt.Sprintf("lostfound:matches:%s", itemID)
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.repo.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// ItemEpoch returns the invalidation count of an item. Read it before loading the item
// and hand it to SetItem.
func (s *CacheService) ItemEpoch(itemID string) uint64 {
	if !s.Enabled() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[itemID]
}

// SetItem caches an item detail under itemID unless the item was invalidated after epoch
// was read.
func (s *CacheService) SetItem(ctx context.Context, itemID string, item *models.Item, epoch uint64) {
	if !s.Enabled() || item == nil {
		return
	}
	ttl := itemDetailTTL
	if s.defaultTTL < ttl {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epochs[itemID] != epoch {
		s.logger.Debug("stale item load not cached", zap.String("item_id", itemID))
		return
	}
	_ = s.Set(ctx, ItemKey(itemID), item, ttl)
}

// InvalidateItem drops every cached view derived from an item after it changes.
func (s *CacheService) InvalidateItem(ctx context.Context, itemID string) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	s.epochs[itemID]++
	s.mu.Unlock()

	_ = s.Invalidate(ctx, ItemKey(itemID))
	_ = s.Invalidate(ctx, MatchesKey(itemID))
}
