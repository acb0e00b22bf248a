package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"courtdesk/internal/domain"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSlotTaken = errors.New("slot taken")

func newReservation(tenant *models.Tenant, court *models.Court, clientID int64, start time.Time) *models.Reservation {
	return &models.Reservation{
		TenantID:      tenant.ID,
		CourtID:       court.ID,
		ClientID:      clientID,
		StartTime:     start,
		EndTime:       start.Add(90 * time.Minute),
		Status:        models.StatusConfirmed,
		PaymentStatus: models.PaymentUnpaid,
		Price:         decimal.NewFromInt(1000),
	}
}

func createClient(t *testing.T, db *DB, tenantID int64) *models.Client {
	c := &models.Client{TenantID: tenantID, Name: "Ana", Phone: "111"}
	require.NoError(t, db.CreateClient(context.Background(), c))
	return c
}

func TestReservations_CreateAndOverlap(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	tenant, court := seedTenant(t, db)
	client := createClient(t, db, tenant.ID)

	start := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	r := newReservation(tenant, court, client.ID, start)
	require.NoError(t, db.CreateReservation(ctx, r))
	assert.Equal(t, int64(1), r.Version)

	got, err := db.GetReservation(ctx, tenant.ID, r.ID)
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(start))
	assert.True(t, got.Price.Equal(decimal.NewFromInt(1000)))
	assert.Empty(t, got.PaymentMethod)

	tests := []struct {
		name    string
		start   time.Time
		end     time.Time
		exclude int64
		want    bool
	}{
		{"same slot", start, start.Add(90 * time.Minute), 0, true},
		{"overlapping tail", start.Add(60 * time.Minute), start.Add(150 * time.Minute), 0, true},
		{"touching end", start.Add(90 * time.Minute), start.Add(180 * time.Minute), 0, false},
		{"touching start", start.Add(-90 * time.Minute), start, 0, false},
		{"excluded self", start, start.Add(90 * time.Minute), r.ID, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overlap, err := db.HasOverlap(ctx, court.ID, tt.start, tt.end, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, overlap)
		})
	}

	_, err = db.GetReservation(ctx, tenant.ID+1, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReservations_UniqueActiveSlot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	tenant, court := seedTenant(t, db)
	client := createClient(t, db, tenant.ID)

	start := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	first := newReservation(tenant, court, client.ID, start)
	require.NoError(t, db.CreateReservation(ctx, first))

	second := newReservation(tenant, court, client.ID, start)
	assert.ErrorIs(t, db.CreateReservation(ctx, second), ErrUniqueViolation)

	require.NoError(t, db.UpdateReservationStatusWithVersion(ctx, first.ID, first.Version, models.StatusCanceled))
	require.NoError(t, db.CreateReservation(ctx, second), "canceled rows free the slot")

	overlap, err := db.HasOverlap(ctx, court.ID, start, start.Add(time.Hour), second.ID)
	require.NoError(t, err)
	assert.False(t, overlap, "canceled reservations never conflict")
}

func TestReservations_VersionedUpdates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	tenant, court := seedTenant(t, db)
	client := createClient(t, db, tenant.ID)

	start := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	r := newReservation(tenant, court, client.ID, start)
	r.Status = models.StatusPending
	require.NoError(t, db.CreateReservation(ctx, r))

	require.NoError(t, db.UpdateReservationStatusWithVersion(ctx, r.ID, 1, models.StatusConfirmed))
	assert.ErrorIs(t, db.UpdateReservationStatusWithVersion(ctx, r.ID, 1, models.StatusCompleted), ErrConcurrentModification)

	newStart := start.Add(24 * time.Hour)
	require.NoError(t, db.RescheduleReservation(ctx, r.ID, 2, court.ID, newStart, newStart.Add(90*time.Minute)))

	require.NoError(t, db.UpdateReservationPayment(ctx, r.ID, models.StatusConfirmed, models.PaymentPartial, models.MethodCash))
	require.NoError(t, db.UpdateReservationPayment(ctx, r.ID, models.StatusConfirmed, models.PaymentPaid, ""))

	got, err := db.GetReservation(ctx, tenant.ID, r.ID)
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(newStart))
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, models.MethodCash, got.PaymentMethod, "empty method keeps the stored one")
	assert.Equal(t, int64(5), got.Version)

	list, err := db.ListReservations(ctx, tenant.ID, newStart.Add(-time.Hour), newStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConcurrentReservation(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	tenant, court := seedTenant(t, db)
	client := createClient(t, db, tenant.ID)
	start := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			r := newReservation(tenant, court, client.ID, start)
			results <- db.InTx(ctx, func(q domain.Queries) error {
				overlap, err := q.HasOverlap(ctx, r.CourtID, r.StartTime, r.EndTime, 0)
				if err != nil {
					return err
				}
				if overlap {
					return errSlotTaken
				}
				return q.CreateReservation(ctx, r)
			})
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		assert.ErrorIs(t, err, errSlotTaken)
	}
	assert.Equal(t, 1, successCount, "Only one reservation should win the slot")

	list, err := db.ListReservations(ctx, tenant.ID, start, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
