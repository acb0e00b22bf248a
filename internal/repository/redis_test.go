package repository

import (
	"context"
	"testing"
	"time"

	"courtdesk/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConfigCache(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	cache := NewRedisConfigCache(client, time.Hour)
	ctx := context.Background()

	t.Run("SetAndGetTenant", func(t *testing.T) {
		tenant := &models.Tenant{ID: 7, Name: "Club Norte", OpenTime: "08:00", CloseTime: "23:00", Timezone: "America/Argentina/Buenos_Aires"}
		require.NoError(t, cache.SetTenant(ctx, tenant))

		got, err := cache.GetTenant(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, tenant.Name, got.Name)
		assert.Equal(t, tenant.Timezone, got.Timezone)
		assert.True(t, s.Exists("config:tenant:7"))
	})

	t.Run("Miss", func(t *testing.T) {
		got, err := cache.GetTenant(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, got)

		rules, err := cache.GetPriceRules(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, rules)
	})

	t.Run("PriceRules", func(t *testing.T) {
		rules := []*models.PriceRule{{
			ID: 1, TenantID: 7, Name: "Noche", DaysOfWeek: []int{1, 2},
			StartTime: "18:00", EndTime: "23:00", Priority: 10,
			Price:       decimal.NewFromInt(12000),
			MemberPrice: decimal.NewNullDecimal(decimal.NewFromInt(9000)),
		}}
		require.NoError(t, cache.SetPriceRules(ctx, 7, rules))

		got, err := cache.GetPriceRules(ctx, 7)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Price.Equal(decimal.NewFromInt(12000)))
		assert.True(t, got[0].MemberPrice.Valid)
		assert.Equal(t, []int{1, 2}, got[0].DaysOfWeek)
	})

	t.Run("EmptyRulesAreAHit", func(t *testing.T) {
		require.NoError(t, cache.SetPriceRules(ctx, 8, []*models.PriceRule{}))
		got, err := cache.GetPriceRules(ctx, 8)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("TTL", func(t *testing.T) {
		short := NewRedisConfigCache(client, time.Minute)
		require.NoError(t, short.SetTenant(ctx, &models.Tenant{ID: 9}))
		s.FastForward(time.Minute + time.Second)

		got, err := short.GetTenant(ctx, 9)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Invalidate", func(t *testing.T) {
		require.NoError(t, cache.Invalidate(ctx, 7))
		assert.False(t, s.Exists("config:tenant:7"))
		assert.False(t, s.Exists("config:price_rules:7"))
	})

	t.Run("NilClient", func(t *testing.T) {
		cache := NewRedisConfigCache(nil, time.Hour)
		_, err := cache.GetTenant(ctx, 1)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("ServerDown", func(t *testing.T) {
		s.SetError("LOADING")
		defer s.SetError("")
		_, err := cache.GetTenant(ctx, 1)
		assert.Error(t, err)
	})
}

func TestNewRedisClient(t *testing.T) {
	s := miniredis.RunT(t)
	client := NewRedisClient(configFor(s.Addr()))
	require.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(client))
}
