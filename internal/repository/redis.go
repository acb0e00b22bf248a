package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courtdesk/internal/config"
	"courtdesk/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisConfigCache keeps tenant configuration snapshots in Redis.
type RedisConfigCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisConfigCache(client *redis.Client, ttl time.Duration) *RedisConfigCache {
	return &RedisConfigCache{
		client: client,
		ttl:    ttl,
	}
}

func tenantKey(id int64) string {
	return fmt.Sprintf("config:tenant:%d", id)
}

func priceRulesKey(tenantID int64) string {
	return fmt.Sprintf("config:price_rules:%d", tenantID)
}

func (r *RedisConfigCache) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	var tenant models.Tenant
	found, err := r.get(ctx, tenantKey(id), &tenant)
	if err != nil || !found {
		return nil, err
	}
	return &tenant, nil
}

func (r *RedisConfigCache) SetTenant(ctx context.Context, tenant *models.Tenant) error {
	return r.set(ctx, tenantKey(tenant.ID), tenant)
}

func (r *RedisConfigCache) GetPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error) {
	var rules []*models.PriceRule
	found, err := r.get(ctx, priceRulesKey(tenantID), &rules)
	if err != nil || !found {
		return nil, err
	}
	if rules == nil {
		rules = []*models.PriceRule{}
	}
	return rules, nil
}

func (r *RedisConfigCache) SetPriceRules(ctx context.Context, tenantID int64, rules []*models.PriceRule) error {
	return r.set(ctx, priceRulesKey(tenantID), rules)
}

func (r *RedisConfigCache) Invalidate(ctx context.Context, tenantID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, tenantKey(tenantID), priceRulesKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate tenant %d: %w", tenantID, err)
	}
	return nil
}

func (r *RedisConfigCache) get(ctx context.Context, key string, dst any) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisConfigCache) set(ctx context.Context, key string, value any) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
