// Package cache decorates a billing.Store with a read-through plan cache.
//
// Plans are read on every enrollment and eligibility listing but change
// rarely, so GetPlan is served from an in-process expirable LRU backed by an
// optional Redis tier shared between replicas. Writes go to the wrapped store
// first and then drop the cached copy. Every other Store method passes
// straight through.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
)

// Config configures the plan cache
type Config struct {
	// Size is the maximum number of plans held in process
	Size int
	// TTL bounds how long a replica may serve a plan changed elsewhere
	TTL time.Duration
	// RedisTTL is the lifetime of the shared copy
	RedisTTL time.Duration
	// KeyPrefix namespaces Redis keys
	KeyPrefix string
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		Size:      1024,
		TTL:       30 * time.Second,
		RedisTTL:  15 * time.Minute,
		KeyPrefix: "bms:",
	}
}

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	RedisHits int64   `json:"redis_hits"`
	ItemCount int     `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

// PlanCache is a billing.Store that caches plans
type PlanCache struct {
	billing.Store

	config Config
	local  *lru.LRU[string, billing.Plan]
	redis  *redis.Client
	logger *logrus.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	redisHits atomic.Int64
}

var _ billing.Store = (*PlanCache)(nil)

// New wraps store. client may be nil to run without the shared tier.
func New(store billing.Store, client *redis.Client, config Config, logger *logrus.Logger) *PlanCache {
	def := DefaultConfig()
	if config.Size <= 0 {
		config.Size = def.Size
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.RedisTTL <= 0 {
		config.RedisTTL = def.RedisTTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PlanCache{
		Store:  store,
		config: config,
		local:  lru.NewLRU[string, billing.Plan](config.Size, nil, config.TTL),
		redis:  client,
		logger: logger,
	}
}

func (c *PlanCache) key(id string) string {
	return c.config.KeyPrefix + "plan:" + id
}

// GetPlan serves from memory, then Redis, then the wrapped store
func (c *PlanCache) GetPlan(ctx context.Context, id string) (*billing.Plan, error) {
	if p, ok := c.local.Get(id); ok {
		c.hits.Add(1)
		return clone(p), nil
	}
	c.misses.Add(1)

	if p, ok := c.fromRedis(ctx, id); ok {
		c.redisHits.Add(1)
		c.local.Add(id, *p)
		return clone(*p), nil
	}

	p, err := c.Store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, p)
	return p, nil
}

// CreatePlan writes through and primes the cache
func (c *PlanCache) CreatePlan(ctx context.Context, p *billing.Plan) error {
	if err := c.Store.CreatePlan(ctx, p); err != nil {
		return err
	}
	c.remember(ctx, p)
	return nil
}

// UpdatePlan writes through. The cached copy is dropped on success and on a
// version conflict, since either way it is no longer current.
func (c *PlanCache) UpdatePlan(ctx context.Context, p *billing.Plan) error {
	err := c.Store.UpdatePlan(ctx, p)
	if err == nil || errors.Is(err, billing.ErrConcurrentModification) {
		c.Invalidate(ctx, p.ID)
	}
	return err
}

// Invalidate drops a plan from both tiers
func (c *PlanCache) Invalidate(ctx context.Context, id string) {
	c.local.Remove(id)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, c.key(id)).Err(); err != nil {
		c.logger.WithError(err).WithField("plan_id", id).Warn("Failed to invalidate cached plan")
	}
}

// Purge empties the in-process tier
func (c *PlanCache) Purge() {
	c.local.Purge()
}

// Stats returns hit and miss counters
func (c *PlanCache) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		RedisHits: c.redisHits.Load(),
		ItemCount: c.local.Len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *PlanCache) remember(ctx context.Context, p *billing.Plan) {
	c.local.Add(p.ID, *clone(*p))
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(p.ID), data, c.config.RedisTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("plan_id", p.ID).Debug("Failed to cache plan in redis")
	}
}

func (c *PlanCache) fromRedis(ctx context.Context, id string) (*billing.Plan, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		c.logger.WithError(err).WithField("plan_id", id).Debug("Redis plan lookup failed")
		return nil, false
	}

	var p billing.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		// drop corrupt entries
		c.redis.Del(ctx, c.key(id))
		return nil, false
	}
	return &p, true
}

func clone(p billing.Plan) *billing.Plan {
	if p.AllowedCustomers != nil {
		p.AllowedCustomers = append([]string(nil), p.AllowedCustomers...)
	}
	if p.Features != nil {
		p.Features = append([]billing.PlanFeature(nil), p.Features...)
	}
	return &p
}
