package repository

import (
	"context"

	"courtdesk/internal/domain"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
)

// CachedConfigSource reads tenant configuration through a cache. Cache
// errors are logged and the source is used directly.
type CachedConfigSource struct {
	source domain.ConfigSource
	cache  domain.ConfigCache
	logger *zerolog.Logger
}

func NewCachedConfigSource(source domain.ConfigSource, cache domain.ConfigCache, logger *zerolog.Logger) *CachedConfigSource {
	l := logger.With().Str("component", "config_cache").Logger()
	return &CachedConfigSource{source: source, cache: cache, logger: &l}
}

func (c *CachedConfigSource) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	cached, err := c.cache.GetTenant(ctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Int64("tenant_id", id).Msg("Tenant cache read failed")
	}
	if cached != nil {
		return cached, nil
	}

	tenant, err := c.source.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetTenant(ctx, tenant); err != nil {
		c.logger.Warn().Err(err).Int64("tenant_id", id).Msg("Tenant cache write failed")
	}
	return tenant, nil
}

func (c *CachedConfigSource) ListPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error) {
	cached, err := c.cache.GetPriceRules(ctx, tenantID)
	if err != nil {
		c.logger.Warn().Err(err).Int64("tenant_id", tenantID).Msg("Price rule cache read failed")
	}
	if cached != nil {
		return cached, nil
	}

	rules, err := c.source.ListPriceRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []*models.PriceRule{}
	}
	if err := c.cache.SetPriceRules(ctx, tenantID, rules); err != nil {
		c.logger.Warn().Err(err).Int64("tenant_id", tenantID).Msg("Price rule cache write failed")
	}
	return rules, nil
}

// Invalidate drops the cached configuration of a tenant.
func (c *CachedConfigSource) Invalidate(ctx context.Context, tenantID int64) error {
	return c.cache.Invalidate(ctx, tenantID)
}
