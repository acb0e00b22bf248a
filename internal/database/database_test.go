package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"courtdesk/internal/domain"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

// seedTenant creates one tenant with one court and returns both.
func seedTenant(t *testing.T, db *DB) (*models.Tenant, *models.Court) {
	tenant := &models.Tenant{
		Name:         "Club Norte",
		Slug:         "club-norte",
		OpenTime:     models.DefaultOpenTime,
		CloseTime:    models.DefaultCloseTime,
		SlotDuration: 90,
		Timezone:     "UTC",
	}
	court := &models.Court{Name: "Cancha 1", IsActive: true}
	err := db.SyncTenants(context.Background(), []TenantSetup{{
		Tenant: tenant,
		Courts: []*models.Court{court},
	}})
	require.NoError(t, err)
	return tenant, court
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestEnsureColumns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	// Calling it twice should not fail (duplicate column suppression)
	require.NoError(t, db.ensureColumns())
}

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:?"+dsnParams, dsn(":memory:"))
	assert.Equal(t, "file:x.db?cache=shared&"+dsnParams, dsn("file:x.db?cache=shared"))
}

func TestSyncTenants_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	member := decimal.NewFromInt(800)
	setup := TenantSetup{
		Tenant: &models.Tenant{ID: 7, Name: "Club", Slug: "club", OpenTime: "08:00", CloseTime: "23:00", SlotDuration: 60},
		Courts: []*models.Court{{ID: 3, Name: "A", IsActive: true}},
		PriceRules: []*models.PriceRule{
			{Name: "base", StartTime: "00:00", EndTime: "23:59", Priority: 0, Price: decimal.NewFromInt(1000)},
			{Name: "peak", DaysOfWeek: []int{1, 2}, StartTime: "18:00", EndTime: "23:00", Priority: 10,
				Price: decimal.NewFromInt(1500), MemberPrice: decimal.NewNullDecimal(member)},
		},
		Products: []*models.Product{{ID: 1, Name: "Agua", Price: decimal.NewFromInt(50), Stock: 10, IsActive: true}},
	}
	require.NoError(t, db.SyncTenants(ctx, []TenantSetup{setup}))
	require.NoError(t, db.SyncTenants(ctx, []TenantSetup{setup}))

	tenant, err := db.GetTenant(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "club", tenant.Slug)
	assert.Equal(t, 60, tenant.SlotDuration)

	court, err := db.GetCourt(ctx, 7, 3)
	require.NoError(t, err)
	assert.True(t, court.IsActive)

	rules, err := db.ListPriceRules(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rules, 2, "rules are replaced, not duplicated")
	assert.Equal(t, "peak", rules[0].Name)
	assert.Equal(t, []int{1, 2}, rules[0].DaysOfWeek)
	assert.True(t, rules[0].MemberPrice.Valid)
	assert.True(t, rules[0].MemberPrice.Decimal.Equal(member))
	assert.False(t, rules[1].MemberPrice.Valid)

	_, err = db.GetCourt(ctx, 8, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTranslate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.ExecContext(context.Background(), `SELECT missing_column FROM tenants`)
	assert.ErrorIs(t, translate(err), ErrSchemaMismatch)

	_, err = db.ExecContext(context.Background(), `SELECT * FROM missing_table`)
	assert.ErrorIs(t, translate(err), ErrSchemaMismatch)

	assert.Nil(t, translate(nil))
	plain := errors.New("boom")
	assert.Equal(t, plain, translate(plain))
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	tenant, _ := seedTenant(t, db)

	sentinel := errors.New("abort")
	err := db.InTx(ctx, func(q domain.Queries) error {
		require.NoError(t, q.CreateClient(ctx, &models.Client{TenantID: tenant.ID, Name: "Ana", Phone: "111"}))
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = db.GetClientByPhone(ctx, tenant.ID, "111")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClients(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	tenant, _ := seedTenant(t, db)

	client := &models.Client{TenantID: tenant.ID, Name: "Ana", Phone: "111"}
	require.NoError(t, db.CreateClient(ctx, client))
	assert.Equal(t, models.MembershipNone, client.MembershipStatus)

	dup := &models.Client{TenantID: tenant.ID, Name: "Other", Phone: "111"}
	assert.ErrorIs(t, db.CreateClient(ctx, dup), ErrUniqueViolation)

	client.Email = "ana@example.com"
	client.MembershipStatus = models.MembershipActive
	require.NoError(t, db.UpdateClient(ctx, client))

	got, err := db.GetClient(ctx, tenant.ID, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.Email)
	assert.True(t, got.IsMember())
}
