package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"courtdesk/internal/database"
	"courtdesk/internal/events"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.book(t, at("2030-06-17", "14:00"))
	r := res.Reservation
	assert.True(t, r.Price.Equal(dec("10000")))
	assert.Equal(t, models.PaymentUnpaid, r.PaymentStatus)
	assert.Equal(t, models.StatusConfirmed, r.Status)
	assert.Equal(t, at("2030-06-17", "15:30"), r.EndTime)
	assert.Empty(t, res.RecurringID)
	assert.Empty(t, res.Skipped)

	_, err := f.scheduler.Create(ctx, CreateReservationRequest{
		TenantID: f.tenant.ID, CourtID: f.court.ID, ClientName: "Beto", ClientPhone: "+5491100000002",
		Start: at("2030-06-17", "14:00"),
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Equal(t, KindConflict, KindOf(err))

	out, err := f.accounting.Pay(ctx, f.tenant.ID, r.ID, dec("10000"), "CASH")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, out.Reservation.PaymentStatus)

	cancel, err := f.accounting.Cancel(ctx, f.tenant.ID, r.ID)
	require.NoError(t, err)
	require.NotNil(t, cancel.Refund)
	assert.True(t, cancel.Refund.Amount.Equal(dec("10000")))
	assert.Equal(t, models.TxExpense, cancel.Refund.Type)

	stored, err := f.db.GetReservation(ctx, f.tenant.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, stored.Status)
	assert.Equal(t, models.PaymentRefunded, stored.PaymentStatus)

	txs, err := f.db.ListReservationTransactions(ctx, r.ID)
	require.NoError(t, err)
	var refunds int
	for _, tx := range txs {
		if tx.Type == models.TxExpense {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds)

	// the freed slot can be booked again
	f.book(t, at("2030-06-17", "14:00"))
}

func TestCreate_OverlapIsHalfOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, at("2030-06-17", "14:00"))

	// adjacent slot starting exactly at the previous end is free
	f.book(t, at("2030-06-17", "15:30"), func(r *CreateReservationRequest) { r.ClientPhone = "+2" })

	_, err := f.scheduler.Create(ctx, CreateReservationRequest{
		TenantID: f.tenant.ID, CourtID: f.court.ID, ClientName: "C", ClientPhone: "+3",
		Start: at("2030-06-17", "13:00"),
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := func() CreateReservationRequest {
		return CreateReservationRequest{
			TenantID: f.tenant.ID, CourtID: f.court.ID, ClientName: "Ana", ClientPhone: "+1",
			Start: at("2030-06-17", "14:00"),
		}
	}

	tests := []struct {
		name   string
		mutate func(*CreateReservationRequest)
		kind   Kind
		target error
	}{
		{"missing name", func(r *CreateReservationRequest) { r.ClientName = " " }, KindValidation, nil},
		{"missing phone", func(r *CreateReservationRequest) { r.ClientPhone = "" }, KindValidation, nil},
		{"negative advance", func(r *CreateReservationRequest) { r.AdvanceAmount = dec("-1") }, KindValidation, nil},
		{"bad status", func(r *CreateReservationRequest) { r.Status = models.StatusCompleted }, KindValidation, nil},
		{"bad policy", func(r *CreateReservationRequest) { r.SeriesPolicy = "sometimes" }, KindValidation, nil},
		{"zero split", func(r *CreateReservationRequest) {
			r.Payments = []PaymentSplit{{Method: "CASH", Amount: decimal.Zero}}
		}, KindValidation, nil},
		{"unknown court", func(r *CreateReservationRequest) { r.CourtID = 999 }, KindNotFound, ErrCourtNotFound},
		{"unknown tenant", func(r *CreateReservationRequest) { r.TenantID = 999 }, KindNotFound, ErrTenantNotFound},
		{"before opening", func(r *CreateReservationRequest) { r.Start = at("2030-06-17", "07:00") }, KindRule, ErrOutsideOpeningHours},
		{"at closing", func(r *CreateReservationRequest) { r.Start = at("2030-06-17", "23:00") }, KindRule, ErrOutsideOpeningHours},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)
			_, err := f.scheduler.Create(ctx, req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestCreate_OvernightHours(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()
	f := newFixtureDB(t, db, func(tn *models.Tenant) {
		tn.OpenTime = "18:00"
		tn.CloseTime = "02:00"
	})

	f.book(t, at("2030-06-18", "01:00"))

	_, err = f.scheduler.Create(context.Background(), CreateReservationRequest{
		TenantID: f.tenant.ID, CourtID: f.court.ID, ClientName: "Ana", ClientPhone: "+1",
		Start: at("2030-06-18", "05:00"),
	})
	assert.ErrorIs(t, err, ErrOutsideOpeningHours)
}

func TestCreate_RecurringSeries(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, at("2030-06-17", "19:00"), func(r *CreateReservationRequest) {
		r.RecurringEndDate = "2030-07-08"
	})

	require.Len(t, res.Reservations, 4)
	require.NotEmpty(t, res.RecurringID)
	for i, r := range res.Reservations {
		assert.Equal(t, res.RecurringID, r.RecurringID)
		assert.Equal(t, at("2030-06-17", "19:00").AddDate(0, 0, 7*i), r.StartTime)
	}
	assert.Equal(t, res.Reservations[0].ID, res.Reservation.ID)
}

func TestCreate_SeriesCap(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, at("2030-06-17", "09:00"), func(r *CreateReservationRequest) {
		r.RecurringEndDate = "2032-06-17"
	})
	assert.Len(t, res.Reservations, models.MaxSeriesOccurrences)
}

func TestCreate_SeriesPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("best effort skips the blocked week", func(t *testing.T) {
		f := newFixture(t)
		blocked := f.book(t, at("2030-06-24", "19:00"), func(r *CreateReservationRequest) { r.ClientPhone = "+9" })

		res := f.book(t, at("2030-06-17", "19:00"), func(r *CreateReservationRequest) {
			r.RecurringEndDate = "2030-07-08"
		})
		assert.Len(t, res.Reservations, 3)
		require.Len(t, res.Skipped, 1)
		assert.Equal(t, blocked.Reservation.StartTime, res.Skipped[0].Start)
		assert.Equal(t, ErrSlotTaken.Code, res.Skipped[0].Code)
	})

	t.Run("all or nothing creates none", func(t *testing.T) {
		f := newFixture(t)
		f.book(t, at("2030-06-24", "19:00"), func(r *CreateReservationRequest) { r.ClientPhone = "+9" })

		_, err := f.scheduler.Create(ctx, CreateReservationRequest{
			TenantID: f.tenant.ID, CourtID: f.court.ID, ClientName: "Ana", ClientPhone: "+1",
			Start: at("2030-06-17", "19:00"), RecurringEndDate: "2030-07-08",
			SeriesPolicy: models.SeriesAllOrNothing,
			PaymentStatus: models.PaymentPaid,
		})
		assert.ErrorIs(t, err, ErrSlotTaken)

		list, err := f.db.ListReservations(ctx, f.tenant.ID, at("2030-06-01", "00:00"), at("2030-08-01", "00:00"))
		require.NoError(t, err)
		assert.Len(t, list, 1, "only the blocking reservation exists")

		_, err = f.db.GetClientByPhone(ctx, f.tenant.ID, "+1")
		assert.ErrorIs(t, err, database.ErrNotFound)
		_, err = f.db.GetOpenRegister(ctx, f.tenant.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("first occurrence failure fails the request", func(t *testing.T) {
		f := newFixture(t)
		f.book(t, at("2030-06-17", "19:00"), func(r *CreateReservationRequest) { r.ClientPhone = "+9" })

		_, err := f.scheduler.Create(ctx, CreateReservationRequest{
			TenantID: f.tenant.ID, CourtID: f.court.ID, ClientName: "Ana", ClientPhone: "+1",
			Start: at("2030-06-17", "19:00"), RecurringEndDate: "2030-07-08",
		})
		assert.ErrorIs(t, err, ErrSlotTaken)

		list, err := f.db.ListReservations(ctx, f.tenant.ID, at("2030-06-01", "00:00"), at("2030-08-01", "00:00"))
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestCreate_InitialPayments(t *testing.T) {
	ctx := context.Background()

	t.Run("legacy paid records cash for the full price", func(t *testing.T) {
		f := newFixture(t)
		res := f.book(t, at("2030-06-17", "10:00"), func(r *CreateReservationRequest) {
			r.PaymentStatus = models.PaymentPaid
			r.RecurringEndDate = "2030-06-24"
		})
		first, second := res.Reservations[0], res.Reservations[1]
		assert.Equal(t, models.PaymentPaid, first.PaymentStatus)
		assert.Equal(t, models.MethodCash, first.PaymentMethod)
		assert.Equal(t, models.PaymentUnpaid, second.PaymentStatus, "only the first occurrence takes payments")

		txs, err := f.db.ListReservationTransactions(ctx, first.ID)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, models.CategoryBooking, txs[0].Category)
		assert.True(t, txs[0].Amount.Equal(dec("10000")))

		reg, err := f.db.GetOpenRegister(ctx, f.tenant.ID)
		require.NoError(t, err, "register is auto-created")
		assert.Equal(t, "2030-06-17", reg.Date)
		assert.True(t, reg.StartAmount.IsZero())
	})

	t.Run("partial advance", func(t *testing.T) {
		f := newFixture(t)
		res := f.book(t, at("2030-06-17", "10:00"), func(r *CreateReservationRequest) {
			r.PaymentStatus = models.PaymentPartial
			r.AdvanceAmount = dec("4000")
		})
		assert.Equal(t, models.PaymentPartial, res.Reservation.PaymentStatus)
		messages := f.queue.byKind(models.EffectMessage)
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0].Payload.(models.MessagePayload).Text, "Saldo pendiente: $6000.00")

		res = f.book(t, at("2030-06-17", "12:00"), func(r *CreateReservationRequest) {
			r.PaymentStatus = models.PaymentPartial
			r.AdvanceAmount = dec("10000")
		})
		assert.Equal(t, models.PaymentPaid, res.Reservation.PaymentStatus)
	})

	t.Run("split payments", func(t *testing.T) {
		f := newFixture(t)
		res := f.book(t, at("2030-06-17", "10:00"), func(r *CreateReservationRequest) {
			r.Payments = []PaymentSplit{
				{Method: "cash", Amount: dec("6000")},
				{Method: "TRANSFER", Amount: dec("4000")},
			}
		})
		assert.Equal(t, models.PaymentPaid, res.Reservation.PaymentStatus)
		assert.Equal(t, models.MethodMixed, res.Reservation.PaymentMethod)

		txs, err := f.db.ListReservationTransactions(ctx, res.Reservation.ID)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, models.MethodCash, txs[0].Method)
		assert.Equal(t, models.MethodTransfer, txs[1].Method)
	})

	t.Run("price override", func(t *testing.T) {
		f := newFixture(t)
		res := f.book(t, at("2030-06-17", "10:00"), func(r *CreateReservationRequest) {
			r.TotalPrice = decimal.NewNullDecimal(dec("7500"))
		})
		assert.True(t, res.Reservation.Price.Equal(dec("7500")))
	})
}

func TestCreate_ClientResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.book(t, at("2030-06-17", "10:00"))
	second := f.book(t, at("2030-06-17", "12:00"), func(r *CreateReservationRequest) {
		r.ClientName = "Ana María"
		r.ClientEmail = "ana@example.com"
		r.IsMember = true
	})
	assert.Equal(t, first.Client.ID, second.Client.ID)

	client, err := f.db.GetClient(ctx, f.tenant.ID, first.Client.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana María", client.Name)
	assert.Equal(t, "ana@example.com", client.Email)
	assert.True(t, client.IsMember())
}

func TestCreate_MembershipDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	client := &models.Client{TenantID: f.tenant.ID, Name: "Socio", Phone: "+77", MembershipStatus: models.MembershipActive}
	require.NoError(t, f.db.CreateClient(ctx, client))
	require.NoError(t, f.db.CreateMembership(ctx, &models.Membership{
		ClientID: client.ID, PlanName: "Gold", DiscountPercent: dec("10"),
		Status: models.MembershipActive, EndDate: testDay.AddDate(0, 1, 0),
	}))

	res := f.book(t, at("2030-06-17", "10:00"), func(r *CreateReservationRequest) {
		r.ClientName = "Socio"
		r.ClientPhone = "+77"
	})
	assert.True(t, res.Reservation.Price.Equal(dec("9000")), "got %s", res.Reservation.Price)
}

func TestCreate_SideEffects(t *testing.T) {
	f := newFixture(t)
	var created int
	f.bus.Subscribe(events.EventReservationCreated, func(_ *events.Event) error {
		created++
		return nil
	})

	res := f.book(t, at("2030-06-17", "10:00"), func(r *CreateReservationRequest) {
		r.RecurringEndDate = "2030-06-24"
	})
	assert.Equal(t, 2, created)

	broadcasts := f.queue.byKind(models.EffectBroadcast)
	require.Len(t, broadcasts, 1, "only the primary reservation is broadcast")
	payload := broadcasts[0].Payload.(models.BroadcastPayload)
	assert.Equal(t, TenantChannel(f.tenant.ID), payload.Channel)
	assert.Equal(t, BroadcastEvent, payload.Event)
	assert.Equal(t, res.Reservation.ID, payload.Reservation.ID)

	messages := f.queue.byKind(models.EffectMessage)
	require.Len(t, messages, 1)
	msg := messages[0].Payload.(models.MessagePayload)
	assert.Equal(t, "+5491100000001", msg.Phone)
	assert.Contains(t, msg.Text, "Cancha 1")

	assert.Len(t, f.queue.byKind(models.EffectStaffAlert), 1)
}

func TestCreate_SideEffectFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.queue.err = assert.AnError

	res := f.book(t, at("2030-06-17", "10:00"))
	assert.NotZero(t, res.Reservation.ID)
}

func TestConcurrentCreateSameSlot(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "concurrent.db"), &logger)
	require.NoError(t, err)
	defer db.Close()
	f := newFixtureDB(t, db, nil)

	var wg sync.WaitGroup
	var success, conflicts atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.scheduler.Create(context.Background(), CreateReservationRequest{
				TenantID: f.tenant.ID, CourtID: f.court.ID, ClientName: "Racer",
				ClientPhone: "+100", Start: at("2030-06-17", "18:00"),
			})
			switch {
			case err == nil:
				success.Add(1)
			case KindOf(err) == KindConflict:
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(9), conflicts.Load())
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, at("2030-06-17", "10:00")).Reservation
	b := f.book(t, at("2030-06-17", "12:00"), func(r *CreateReservationRequest) { r.ClientPhone = "+2" }).Reservation

	moved, err := f.scheduler.Reschedule(ctx, f.tenant.ID, a.ID, at("2030-06-17", "10:30"), 0)
	require.NoError(t, err, "overlapping itself is fine")
	assert.Equal(t, at("2030-06-17", "12:00"), moved.EndTime)
	assert.Equal(t, a.Version+1, moved.Version)

	_, err = f.scheduler.Reschedule(ctx, f.tenant.ID, a.ID, at("2030-06-17", "11:00"), 0)
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = f.scheduler.Reschedule(ctx, f.tenant.ID, b.ID, at("2030-06-17", "06:00"), 0)
	assert.ErrorIs(t, err, ErrOutsideOpeningHours)

	_, err = f.scheduler.Reschedule(ctx, f.tenant.ID, 999, at("2030-06-17", "16:00"), 0)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, at("2030-06-17", "10:00"), func(r *CreateReservationRequest) {
		r.Status = models.StatusPending
	}).Reservation

	_, err := f.scheduler.Complete(ctx, f.tenant.ID, r.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.scheduler.Confirm(ctx, f.tenant.ID, r.ID, r.Version+5)
	assert.ErrorIs(t, err, ErrStaleReservation)

	confirmed, err := f.scheduler.Confirm(ctx, f.tenant.ID, r.ID, r.Version)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)

	done, err := f.scheduler.Complete(ctx, f.tenant.ID, r.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	_, err = f.scheduler.Reschedule(ctx, f.tenant.ID, r.ID, at("2030-06-17", "16:00"), 0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJoinWaitingList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.scheduler.JoinWaitingList(ctx, f.tenant.ID, WaitingListRequest{
		CourtID: &f.court.ID, Date: "2030-06-17", Name: "Lu", Phone: "+55",
	})
	require.NoError(t, err)
	assert.Equal(t, models.WaitingPending, entry.Status)

	_, err = f.scheduler.JoinWaitingList(ctx, f.tenant.ID, WaitingListRequest{Date: "17/06/2030", Name: "Lu", Phone: "+55"})
	assert.Equal(t, KindValidation, KindOf(err))

	missing := int64(404)
	_, err = f.scheduler.JoinWaitingList(ctx, f.tenant.ID, WaitingListRequest{CourtID: &missing, Date: "2030-06-17", Name: "Lu", Phone: "+55"})
	assert.ErrorIs(t, err, ErrCourtNotFound)
}
