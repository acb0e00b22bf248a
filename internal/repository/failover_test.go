package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"courtdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *mockCache) SetTenant(ctx context.Context, tenant *models.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func (m *mockCache) GetPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PriceRule), args.Error(1)
}

func (m *mockCache) SetPriceRules(ctx context.Context, tenantID int64, rules []*models.PriceRule) error {
	args := m.Called(ctx, tenantID, rules)
	return args.Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, tenantID int64) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

func TestFailoverConfigCache(t *testing.T) {
	primary := new(mockCache)
	fallback := new(mockCache)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverConfigCache(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		tenant := &models.Tenant{ID: 1}
		primary.On("GetTenant", ctx, int64(1)).Return(tenant, nil).Once()

		got, err := repo.GetTenant(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, tenant, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		tenant := &models.Tenant{ID: 2}
		primary.On("GetTenant", ctx, int64(2)).Return(nil, errors.New("fail")).Once()
		fallback.On("GetTenant", ctx, int64(2)).Return(tenant, nil).Once()

		got, err := repo.GetTenant(ctx, 2)
		assert.NoError(t, err)
		assert.Equal(t, tenant, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now()
		fallback.On("GetPriceRules", ctx, int64(2)).Return([]*models.PriceRule{}, nil).Once()

		_, err := repo.GetPriceRules(ctx, 2)
		assert.NoError(t, err)
		primary.AssertNotCalled(t, "GetPriceRules", ctx, int64(2))
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)

		tenant := &models.Tenant{ID: 3}
		primary.On("GetTenant", ctx, int64(3)).Return(tenant, nil).Once()

		got, err := repo.GetTenant(ctx, 3)
		assert.NoError(t, err)
		assert.Equal(t, tenant, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)

		primary.On("GetTenant", ctx, int64(33)).Return(nil, errors.New("still fail")).Once()
		fallback.On("GetTenant", ctx, int64(33)).Return(nil, nil).Once()

		_, err := repo.GetTenant(ctx, 33)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetTenantSuccess", func(t *testing.T) {
		repo.isDown.Store(false)
		tenant := &models.Tenant{ID: 77}
		primary.On("SetTenant", ctx, tenant).Return(nil).Once()

		assert.NoError(t, repo.SetTenant(ctx, tenant))
		primary.AssertExpectations(t)
	})

	t.Run("SetPriceRulesFallback", func(t *testing.T) {
		repo.isDown.Store(false)
		rules := []*models.PriceRule{{ID: 1}}
		primary.On("SetPriceRules", ctx, int64(5), rules).Return(errors.New("fail")).Once()
		fallback.On("SetPriceRules", ctx, int64(5), rules).Return(nil).Once()

		assert.NoError(t, repo.SetPriceRules(ctx, 5, rules))
		assert.True(t, repo.isDown.Load())
		fallback.AssertExpectations(t)
	})

	t.Run("InvalidateClearsBoth", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("Invalidate", ctx, int64(5)).Return(nil).Once()
		fallback.On("Invalidate", ctx, int64(5)).Return(nil).Once()

		assert.NoError(t, repo.Invalidate(ctx, 5))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
