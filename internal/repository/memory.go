package repository

import (
	"context"
	"sync"
	"time"

	"courtdesk/internal/models"
)

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// MemoryConfigCache is the in-process ConfigCache used when Redis is unavailable.
type MemoryConfigCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryConfigCache(ttl time.Duration) *MemoryConfigCache {
	return &MemoryConfigCache{
		ttl: ttl,
		now: time.Now,
	}
}

func (r *MemoryConfigCache) load(key string) (any, bool) {
	val, ok := r.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := val.(memoryEntry)
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		r.entries.Delete(key)
		return nil, false
	}
	return entry.value, true
}

func (r *MemoryConfigCache) store(key string, value any) {
	entry := memoryEntry{value: value}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.entries.Store(key, entry)
}

func (r *MemoryConfigCache) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	val, ok := r.load(tenantKey(id))
	if !ok {
		return nil, nil
	}
	tenant := *val.(*models.Tenant)
	return &tenant, nil
}

func (r *MemoryConfigCache) SetTenant(ctx context.Context, tenant *models.Tenant) error {
	copied := *tenant
	r.store(tenantKey(tenant.ID), &copied)
	return nil
}

func (r *MemoryConfigCache) GetPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error) {
	val, ok := r.load(priceRulesKey(tenantID))
	if !ok {
		return nil, nil
	}
	rules := val.([]*models.PriceRule)
	return append([]*models.PriceRule{}, rules...), nil
}

func (r *MemoryConfigCache) SetPriceRules(ctx context.Context, tenantID int64, rules []*models.PriceRule) error {
	r.store(priceRulesKey(tenantID), append([]*models.PriceRule{}, rules...))
	return nil
}

func (r *MemoryConfigCache) Invalidate(ctx context.Context, tenantID int64) error {
	r.entries.Delete(tenantKey(tenantID))
	r.entries.Delete(priceRulesKey(tenantID))
	return nil
}
