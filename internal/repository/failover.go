package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"courtdesk/internal/domain"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverConfigCache uses the primary cache until it fails, then serves the
// fallback and retries the primary once a minute.
type FailoverConfigCache struct {
	primary   domain.ConfigCache
	fallback  domain.ConfigCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverConfigCache(primary, fallback domain.ConfigCache, logger *zerolog.Logger) *FailoverConfigCache {
	return &FailoverConfigCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to the primary.
func (r *FailoverConfigCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastCheck) > recoveryInterval {
		r.lastCheck = r.now()
		return true
	}
	return false
}

func (r *FailoverConfigCache) markDown(err error) {
	if !r.isDown.Load() {
		r.logger.Error().Err(err).Msg("Primary config cache failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
	r.isDown.Store(true)
}

func (r *FailoverConfigCache) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary config cache recovered")
	}
}

func (r *FailoverConfigCache) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	if r.usePrimary() {
		tenant, err := r.primary.GetTenant(ctx, id)
		if err == nil {
			r.markUp()
			return tenant, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetTenant(ctx, id)
}

func (r *FailoverConfigCache) SetTenant(ctx context.Context, tenant *models.Tenant) error {
	if r.usePrimary() {
		err := r.primary.SetTenant(ctx, tenant)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetTenant(ctx, tenant)
}

func (r *FailoverConfigCache) GetPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error) {
	if r.usePrimary() {
		rules, err := r.primary.GetPriceRules(ctx, tenantID)
		if err == nil {
			r.markUp()
			return rules, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetPriceRules(ctx, tenantID)
}

func (r *FailoverConfigCache) SetPriceRules(ctx context.Context, tenantID int64, rules []*models.PriceRule) error {
	if r.usePrimary() {
		err := r.primary.SetPriceRules(ctx, tenantID, rules)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetPriceRules(ctx, tenantID, rules)
}

// Invalidate clears both caches so a recovered primary never serves stale data.
func (r *FailoverConfigCache) Invalidate(ctx context.Context, tenantID int64) error {
	_ = r.fallback.Invalidate(ctx, tenantID)
	if err := r.primary.Invalidate(ctx, tenantID); err != nil {
		r.markDown(err)
	}
	return nil
}
