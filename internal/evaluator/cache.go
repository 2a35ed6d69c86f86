package evaluator

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
)

// cacheTTL bounds how long an evaluation stays in the hot tier.
const cacheTTL = 7 * 24 * time.Hour

// Cache is the two-tier evaluation result cache keyed by
// {file_hash}:{config_version}. The in-process tier absorbs repeat
// uploads on one worker; the evaluations table is the shared tier that
// makes re-uploads free across the fleet.
type Cache struct {
	mem   *gocache.Cache
	evals *repository.EvalRepository
}

// NewCache creates an evaluation cache over the durable repository.
func NewCache(evals *repository.EvalRepository) *Cache {
	return &Cache{
		mem:   gocache.New(cacheTTL, time.Hour),
		evals: evals,
	}
}

// Get looks an evaluation up, memory tier first, backfilling the memory
// tier on a database hit. A clean miss returns (nil, nil).
func (c *Cache) Get(ctx context.Context, cacheKey string) (*domain.Evaluation, error) {
	if v, ok := c.mem.Get(cacheKey); ok {
		logger.CtxDebug(ctx, "evaluation cache hit: key=%s source=memory", cacheKey)
		return v.(*domain.Evaluation), nil
	}
	eval, err := c.evals.GetByCacheKey(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if eval == nil {
		return nil, nil
	}
	c.mem.Set(cacheKey, eval, gocache.DefaultExpiration)
	logger.CtxDebug(ctx, "evaluation cache hit: key=%s source=db", cacheKey)
	return eval, nil
}

// Put stores a freshly persisted evaluation in the memory tier.
func (c *Cache) Put(cacheKey string, eval *domain.Evaluation) {
	c.mem.Set(cacheKey, eval, gocache.DefaultExpiration)
}
