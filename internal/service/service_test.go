package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"courtdesk/internal/database"
	"courtdesk/internal/events"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// recordingQueue captures side effects instead of dispatching them.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []recordedEffect
	err   error
}

type recordedEffect struct {
	Kind          string
	TenantID      int64
	ReservationID int64
	Payload       any
}

func (q *recordingQueue) Enqueue(_ context.Context, kind string, tenantID, reservationID int64, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, recordedEffect{kind, tenantID, reservationID, payload})
	return q.err
}

func (q *recordingQueue) byKind(kind string) []recordedEffect {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []recordedEffect
	for _, t := range q.tasks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type fixture struct {
	db         *database.DB
	tenant     *models.Tenant
	court      *models.Court
	product    *models.Product
	bus        *events.EventBus
	queue      *recordingQueue
	pricer     *PriceResolver
	scheduler  *BookingScheduler
	ledger     *PaymentLedger
	accounting *BookingAccounting
	now        time.Time
}

var testDay = time.Date(2030, 6, 17, 10, 0, 0, 0, time.UTC) // Monday

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// at builds a UTC instant on the test calendar.
func at(day, clock string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", day+" "+clock)
	if err != nil {
		panic(err)
	}
	return t
}

func newFixtureDB(t *testing.T, db *database.DB, tweak func(*models.Tenant)) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	tenant := &models.Tenant{
		Name:          "Club Norte",
		Slug:          "club-norte",
		OpenTime:      "08:00",
		CloseTime:     "23:00",
		SlotDuration:  90,
		Timezone:      "UTC",
		NotifyClients: true,
	}
	if tweak != nil {
		tweak(tenant)
	}
	court := &models.Court{Name: "Cancha 1", IsActive: true}
	product := &models.Product{Name: "Agua", Price: dec("1500"), Stock: 10, IsActive: true}
	err := db.SyncTenants(context.Background(), []database.TenantSetup{{
		Tenant:   tenant,
		Courts:   []*models.Court{court},
		Products: []*models.Product{product},
		PriceRules: []*models.PriceRule{
			{Name: "base", StartTime: "00:00", EndTime: "23:59", Priority: 1, Price: dec("10000")},
		},
	}})
	require.NoError(t, err)

	f := &fixture{
		db:      db,
		tenant:  tenant,
		court:   court,
		product: product,
		bus:     events.NewEventBus(),
		queue:   &recordingQueue{},
		now:     testDay,
	}
	clock := func() time.Time { return f.now }

	f.pricer = NewPriceResolver(db, db, &logger)
	f.ledger = NewPaymentLedger(db, f.bus, &logger)
	f.ledger.SetClock(clock)
	f.scheduler = NewBookingScheduler(db, db, f.pricer, f.bus, f.queue, 0, &logger)
	f.scheduler.SetClock(clock)
	processor := NewPaymentProcessor(NewAtomicPayment(db, &logger), NewSequentialPayment(db, f.ledger, &logger), &logger)
	f.accounting = NewBookingAccounting(db, db, f.ledger, processor, nil, f.bus, f.queue, &logger)
	return f
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newFixtureDB(t, db, nil)
}

func (f *fixture) book(t *testing.T, start time.Time, mutate ...func(*CreateReservationRequest)) *CreateReservationResult {
	t.Helper()
	req := CreateReservationRequest{
		TenantID:    f.tenant.ID,
		CourtID:     f.court.ID,
		ClientName:  "Ana",
		ClientPhone: "+5491100000001",
		Start:       start,
	}
	for _, m := range mutate {
		m(&req)
	}
	res, err := f.scheduler.Create(context.Background(), req)
	require.NoError(t, err)
	return res
}
