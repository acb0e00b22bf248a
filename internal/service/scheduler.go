package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtdesk/internal/database"
	"courtdesk/internal/domain"
	"courtdesk/internal/events"
	"courtdesk/internal/metrics"
	"courtdesk/internal/models"
	"courtdesk/internal/notify"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaymentSplit is one part of an initial split payment.
type PaymentSplit struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// CreateReservationRequest is the input of BookingScheduler.Create.
type CreateReservationRequest struct {
	TenantID         int64               `json:"-"`
	CourtID          int64               `json:"court_id"`
	ClientName       string              `json:"client_name"`
	ClientPhone      string              `json:"client_phone"`
	ClientEmail      string              `json:"client_email,omitempty"`
	IsMember         bool                `json:"is_member"`
	Start            time.Time           `json:"start_time"`
	RecurringEndDate string              `json:"recurring_end_date,omitempty"`
	Status           string              `json:"status,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	TotalPrice       decimal.NullDecimal `json:"total_price"`
	PaymentStatus    string              `json:"payment_status,omitempty"`
	AdvanceAmount    decimal.Decimal     `json:"advance_amount"`
	PaymentMethod    string              `json:"payment_method,omitempty"`
	Payments         []PaymentSplit      `json:"payments,omitempty"`
	SeriesPolicy     string              `json:"series_policy,omitempty"`
}

// SkippedOccurrence is a series occurrence that was not created.
type SkippedOccurrence struct {
	Start  time.Time `json:"start_time"`
	Code   string    `json:"code"`
	Reason string    `json:"reason"`
}

// CreateReservationResult reports what Create persisted.
type CreateReservationResult struct {
	Reservation  *models.Reservation   `json:"reservation"`
	Reservations []*models.Reservation `json:"reservations"`
	Client       *models.Client        `json:"client"`
	RecurringID  string                `json:"recurring_id,omitempty"`
	Skipped      []SkippedOccurrence   `json:"skipped,omitempty"`
	Unpriced     bool                  `json:"unpriced,omitempty"`
}

// WaitingListRequest asks to be notified when a slot frees up.
type WaitingListRequest struct {
	CourtID *int64 `json:"court_id,omitempty"`
	Date    string `json:"date"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Notes   string `json:"notes,omitempty"`
}

// occurrence is one planned reservation of a request.
type occurrence struct {
	start    time.Time
	end      time.Time
	price    decimal.Decimal
	unpriced bool
	created  bool
	err      error
}

// BookingScheduler creates and moves reservations.
type BookingScheduler struct {
	store          domain.Store
	config         domain.ConfigSource
	pricer         *PriceResolver
	fx             sideEffects
	maxOccurrences int
	now            func() time.Time
	logger         *zerolog.Logger
}

func NewBookingScheduler(store domain.Store, config domain.ConfigSource, pricer *PriceResolver, eventBus domain.EventPublisher, queue domain.EffectQueue, maxOccurrences int, logger *zerolog.Logger) *BookingScheduler {
	if maxOccurrences <= 0 || maxOccurrences > models.MaxSeriesOccurrences {
		maxOccurrences = models.MaxSeriesOccurrences
	}
	return &BookingScheduler{
		store:          store,
		config:         config,
		pricer:         pricer,
		fx:             sideEffects{events: eventBus, queue: queue, logger: logger},
		maxOccurrences: maxOccurrences,
		now:            time.Now,
		logger:         logger,
	}
}

// SetClock replaces the wall clock used for register dates and memberships.
func (s *BookingScheduler) SetClock(now func() time.Time) {
	s.now = now
}

func validateCreate(req *CreateReservationRequest) error {
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientPhone = strings.TrimSpace(req.ClientPhone)
	switch {
	case req.ClientName == "":
		return validationError("client name is required")
	case req.ClientPhone == "":
		return validationError("client phone is required")
	case req.CourtID <= 0:
		return validationError("court is required")
	case req.Start.IsZero():
		return validationError("start time is required")
	case req.TotalPrice.Valid && req.TotalPrice.Decimal.IsNegative():
		return validationError("total price must not be negative")
	case req.AdvanceAmount.IsNegative():
		return validationError("advance amount must not be negative")
	}
	switch req.Status {
	case "":
		req.Status = models.StatusConfirmed
	case models.StatusPending, models.StatusConfirmed:
	default:
		return validationError("status must be %s or %s", models.StatusPending, models.StatusConfirmed)
	}
	switch req.PaymentStatus {
	case "", models.PaymentUnpaid, models.PaymentPaid, models.PaymentPartial:
	default:
		return validationError("unsupported initial payment status %q", req.PaymentStatus)
	}
	switch req.SeriesPolicy {
	case "":
		req.SeriesPolicy = models.SeriesBestEffort
	case models.SeriesBestEffort, models.SeriesAllOrNothing:
	default:
		return validationError("unknown series policy %q", req.SeriesPolicy)
	}
	for _, p := range req.Payments {
		if !p.Amount.IsPositive() {
			return validationError("split payment amounts must be positive")
		}
		if strings.TrimSpace(p.Method) == "" {
			return validationError("split payment method is required")
		}
	}
	return nil
}

// Create books a court for a single slot or a weekly series.
func (s *BookingScheduler) Create(ctx context.Context, req CreateReservationRequest) (*CreateReservationResult, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	tenant, err := s.config.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, notFound(err, ErrTenantNotFound)
	}
	loc, err := tenant.Location()
	if err != nil {
		return nil, err
	}
	court, err := s.store.GetCourt(ctx, req.TenantID, req.CourtID)
	if err != nil {
		return nil, notFound(err, ErrCourtNotFound)
	}
	if !court.IsActive {
		return nil, ErrCourtInactive
	}

	starts, err := s.expandSeries(req.Start.In(loc), req.RecurringEndDate, loc)
	if err != nil {
		return nil, err
	}

	isMember, discount, err := s.membership(ctx, req)
	if err != nil {
		return nil, err
	}

	slot := time.Duration(tenant.SlotMinutes(court)) * time.Minute
	occs := make([]*occurrence, 0, len(starts))
	for _, start := range starts {
		occ := &occurrence{start: start.UTC(), end: start.Add(slot).UTC()}
		occs = append(occs, occ)

		ok, err := withinOpeningHours(tenant, start)
		if err != nil {
			return nil, fmt.Errorf("tenant %d opening hours: %w", tenant.ID, err)
		}
		if !ok {
			occ.err = ErrOutsideOpeningHours
			continue
		}
		if req.TotalPrice.Valid {
			occ.price = req.TotalPrice.Decimal
			continue
		}
		quote, err := s.pricer.Resolve(ctx, req.TenantID, start, tenant.SlotMinutes(court), isMember, discount)
		if err != nil {
			if KindOf(err) == KindInternal {
				return nil, err
			}
			occ.err = err
			continue
		}
		occ.price = quote.Price
		occ.unpriced = quote.Unmatched
	}
	if occs[0].err != nil {
		return nil, occs[0].err
	}

	recurringID := ""
	if len(occs) > 1 {
		recurringID = uuid.NewString()
	}
	date := s.now().In(loc).Format(models.DateLayout)

	result := &CreateReservationResult{RecurringID: recurringID}
	if req.SeriesPolicy == models.SeriesAllOrNothing {
		err = s.store.InTx(ctx, func(q domain.Queries) error {
			client, err := resolveClient(ctx, q, req)
			if err != nil {
				return err
			}
			result.Client = client
			for i, occ := range occs {
				if occ.err != nil {
					return fmt.Errorf("occurrence %s: %w", occ.start.In(loc).Format(models.DateLayout), occ.err)
				}
				r, err := s.createOccurrence(ctx, q, req, client, occ, recurringID, i == 0, date)
				if err != nil {
					return fmt.Errorf("occurrence %s: %w", occ.start.In(loc).Format(models.DateLayout), err)
				}
				result.Reservations = append(result.Reservations, r)
				occ.created = true
			}
			return nil
		})
		if err != nil {
			s.countConflict(err)
			return nil, err
		}
	} else {
		err = s.store.InTx(ctx, func(q domain.Queries) error {
			client, err := resolveClient(ctx, q, req)
			if err != nil {
				return err
			}
			r, err := s.createOccurrence(ctx, q, req, client, occs[0], recurringID, true, date)
			if err != nil {
				return err
			}
			result.Client = client
			result.Reservations = append(result.Reservations, r)
			occs[0].created = true
			return nil
		})
		if err != nil {
			s.countConflict(err)
			return nil, err
		}

		for _, occ := range occs[1:] {
			if occ.err == nil {
				occ.err = s.store.InTx(ctx, func(q domain.Queries) error {
					r, err := s.createOccurrence(ctx, q, req, result.Client, occ, recurringID, false, date)
					if err != nil {
						return err
					}
					result.Reservations = append(result.Reservations, r)
					occ.created = true
					return nil
				})
			}
			if occ.err != nil {
				s.countConflict(occ.err)
				result.Skipped = append(result.Skipped, skipped(occ, s.logger))
			}
		}
	}

	result.Reservation = result.Reservations[0]
	for _, occ := range occs {
		if occ.created && occ.unpriced {
			result.Unpriced = true
		}
	}
	for _, r := range result.Reservations {
		s.fx.publishEvent(events.EventReservationCreated, reservationPayload(r))
	}

	kind := "single"
	if recurringID != "" {
		kind = "recurring"
	}
	metrics.IncReservations(kind, len(result.Reservations))

	s.logger.Info().
		Int64("tenant_id", req.TenantID).
		Int64("court_id", req.CourtID).
		Int64("reservation_id", result.Reservation.ID).
		Int("created", len(result.Reservations)).
		Int("skipped", len(result.Skipped)).
		Str("recurring_id", recurringID).
		Msg("Reservation created")

	s.afterCreate(ctx, tenant, court, result)
	return result, nil
}

// expandSeries lists weekly starts from start inclusive up to the local end
// date, capped at maxOccurrences including the seed.
func (s *BookingScheduler) expandSeries(start time.Time, endDate string, loc *time.Location) ([]time.Time, error) {
	starts := []time.Time{start}
	if endDate == "" {
		return starts, nil
	}
	until, err := time.ParseInLocation(models.DateLayout, endDate, loc)
	if err != nil {
		return nil, validationError("invalid recurring end date %q", endDate)
	}
	last := until.Format(models.DateLayout)
	if last < start.Format(models.DateLayout) {
		return nil, validationError("recurring end date is before the start")
	}
	for next := start.AddDate(0, 0, 7); len(starts) < s.maxOccurrences; next = next.AddDate(0, 0, 7) {
		if next.Format(models.DateLayout) > last {
			break
		}
		starts = append(starts, next)
	}
	return starts, nil
}

// membership reports whether the booking is priced for a member and the
// discount of an existing client's active membership.
func (s *BookingScheduler) membership(ctx context.Context, req CreateReservationRequest) (bool, decimal.Decimal, error) {
	client, err := s.store.GetClientByPhone(ctx, req.TenantID, req.ClientPhone)
	if errors.Is(err, database.ErrNotFound) {
		return req.IsMember, decimal.Zero, nil
	}
	if err != nil {
		return false, decimal.Zero, err
	}
	isMember := req.IsMember || client.IsMember()
	if !isMember {
		return false, decimal.Zero, nil
	}
	m, err := s.store.GetActiveMembership(ctx, client.ID, s.now())
	if errors.Is(err, database.ErrNotFound) {
		return true, decimal.Zero, nil
	}
	if err != nil {
		return false, decimal.Zero, err
	}
	return true, m.DiscountPercent, nil
}

// resolveClient finds the client by phone, creating or refreshing it.
func resolveClient(ctx context.Context, q domain.Queries, req CreateReservationRequest) (*models.Client, error) {
	client, err := q.GetClientByPhone(ctx, req.TenantID, req.ClientPhone)
	if errors.Is(err, database.ErrNotFound) {
		client = &models.Client{
			TenantID:         req.TenantID,
			Name:             req.ClientName,
			Phone:            req.ClientPhone,
			Email:            req.ClientEmail,
			MembershipStatus: models.MembershipNone,
		}
		if req.IsMember {
			client.MembershipStatus = models.MembershipActive
		}
		if err := q.CreateClient(ctx, client); err != nil {
			return nil, err
		}
		return client, nil
	}
	if err != nil {
		return nil, err
	}

	changed := (req.ClientEmail != "" && req.ClientEmail != client.Email) ||
		req.ClientName != client.Name ||
		(req.IsMember && !client.IsMember())
	if !changed {
		return client, nil
	}
	client.Name = req.ClientName
	if req.ClientEmail != "" {
		client.Email = req.ClientEmail
	}
	if req.IsMember {
		client.MembershipStatus = models.MembershipActive
	}
	if err := q.UpdateClient(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

// initialPayments turns the request payment input into movements and the
// resulting payment status and method.
func initialPayments(req CreateReservationRequest, price decimal.Decimal) ([]PaymentSplit, string, string) {
	if len(req.Payments) > 0 {
		paid := decimal.Zero
		for _, p := range req.Payments {
			paid = paid.Add(p.Amount)
		}
		return req.Payments, DerivePaymentStatus(paid, price, decimal.Zero), models.MethodMixed
	}

	method := strings.ToUpper(req.PaymentMethod)
	if method == "" {
		method = models.MethodCash
	}
	switch req.PaymentStatus {
	case models.PaymentPaid:
		if !price.IsPositive() {
			return nil, models.PaymentPaid, method
		}
		return []PaymentSplit{{Method: method, Amount: price}}, models.PaymentPaid, method
	case models.PaymentPartial:
		if !req.AdvanceAmount.IsPositive() {
			return nil, models.PaymentUnpaid, ""
		}
		status := models.PaymentPartial
		if req.AdvanceAmount.GreaterThanOrEqual(price) {
			status = models.PaymentPaid
		}
		return []PaymentSplit{{Method: method, Amount: req.AdvanceAmount}}, status, method
	default:
		return nil, models.PaymentUnpaid, ""
	}
}

// createOccurrence runs the overlap check, the insert and the initial
// payment movements against one transaction.
func (s *BookingScheduler) createOccurrence(ctx context.Context, q domain.Queries, req CreateReservationRequest, client *models.Client, occ *occurrence, recurringID string, withPayment bool, date string) (*models.Reservation, error) {
	taken, err := q.HasOverlap(ctx, req.CourtID, occ.start, occ.end, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotTaken
	}

	r := &models.Reservation{
		TenantID:      req.TenantID,
		CourtID:       req.CourtID,
		ClientID:      client.ID,
		StartTime:     occ.start,
		EndTime:       occ.end,
		Status:        req.Status,
		PaymentStatus: models.PaymentUnpaid,
		Price:         occ.price,
		RecurringID:   recurringID,
		Notes:         req.Notes,
	}
	var payments []PaymentSplit
	if withPayment {
		payments, r.PaymentStatus, r.PaymentMethod = initialPayments(req, occ.price)
	}

	if err := q.CreateReservation(ctx, r); err != nil {
		if errors.Is(err, database.ErrUniqueViolation) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	if len(payments) == 0 {
		return r, nil
	}

	reg, err := registerForWrite(ctx, q, req.TenantID, date, s.logger)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		tx := &models.Transaction{
			RegisterID:    reg.ID,
			TenantID:      req.TenantID,
			Type:          models.TxIncome,
			Category:      models.CategoryBooking,
			Method:        strings.ToUpper(p.Method),
			Amount:        p.Amount,
			Description:   fmt.Sprintf("Reservation #%d payment - %s", r.ID, client.Name),
			ReservationID: &r.ID,
			ClientID:      &client.ID,
		}
		if err := q.CreateTransaction(ctx, tx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (s *BookingScheduler) countConflict(err error) {
	if errors.Is(err, ErrSlotTaken) {
		metrics.IncSlotConflict()
	}
}

func skipped(occ *occurrence, logger *zerolog.Logger) SkippedOccurrence {
	var e *Error
	if errors.As(occ.err, &e) {
		return SkippedOccurrence{Start: occ.start, Code: e.Code, Reason: e.Message}
	}
	logger.Error().Err(occ.err).Time("start", occ.start).Msg("Failed to create series occurrence")
	return SkippedOccurrence{Start: occ.start, Code: "internal", Reason: "occurrence could not be created"}
}

// initialBalance is what the client still owes right after creation, net of
// any advance or split payment taken with the booking.
func (s *BookingScheduler) initialBalance(ctx context.Context, r *models.Reservation) decimal.Decimal {
	switch r.PaymentStatus {
	case models.PaymentPaid:
		return decimal.Zero
	case models.PaymentUnpaid:
		return r.Price
	}
	txs, err := s.store.ListReservationTransactions(ctx, r.ID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("reservation_id", r.ID).Msg("Failed to load initial payments")
		return r.Price
	}
	balance := r.Price.Sub(netPaid(txs))
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

func (s *BookingScheduler) afterCreate(ctx context.Context, tenant *models.Tenant, court *models.Court, result *CreateReservationResult) {
	primary := result.Reservation
	s.fx.broadcastReservation(ctx, primary)

	loc, _ := tenant.Location()
	msg := notify.BookingMessage{
		TenantName:  tenant.Name,
		ClientName:  result.Client.Name,
		ClientPhone: result.Client.Phone,
		CourtName:   court.Name,
		Start:       primary.StartTime.In(loc),
		Price:       primary.Price,
		Balance:     s.initialBalance(ctx, primary),
		Occurrences: len(result.Reservations),
	}

	if tenant.NotifyClients {
		if text, err := notify.BookingConfirmation(msg); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to render booking confirmation")
		} else {
			s.fx.message(ctx, tenant.ID, primary.ID, result.Client.Phone, text)
		}
	}
	if text, err := notify.StaffNewBooking(msg); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to render staff alert")
	} else {
		s.fx.staffAlert(ctx, tenant.ID, primary.ID, text)
	}
}

// Reschedule moves a reservation to a new start, optionally on another
// court, keeping its duration and price.
func (s *BookingScheduler) Reschedule(ctx context.Context, tenantID, reservationID int64, newStart time.Time, courtID int64) (*models.Reservation, error) {
	if newStart.IsZero() {
		return nil, validationError("start time is required")
	}
	current, err := s.store.GetReservation(ctx, tenantID, reservationID)
	if err != nil {
		return nil, notFound(err, ErrReservationNotFound)
	}
	if !current.IsOpen() {
		return nil, ErrInvalidTransition
	}
	if courtID <= 0 {
		courtID = current.CourtID
	}
	court, err := s.store.GetCourt(ctx, tenantID, courtID)
	if err != nil {
		return nil, notFound(err, ErrCourtNotFound)
	}
	if !court.IsActive {
		return nil, ErrCourtInactive
	}
	tenant, err := s.config.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, notFound(err, ErrTenantNotFound)
	}
	loc, err := tenant.Location()
	if err != nil {
		return nil, err
	}
	ok, err := withinOpeningHours(tenant, newStart.In(loc))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOutsideOpeningHours
	}

	start := newStart.UTC()
	end := start.Add(current.EndTime.Sub(current.StartTime))
	var updated *models.Reservation
	err = s.store.InTx(ctx, func(q domain.Queries) error {
		r, err := q.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if r.Version != current.Version {
			return ErrStaleReservation
		}
		taken, err := q.HasOverlap(ctx, courtID, start, end, reservationID)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}
		if err := q.RescheduleReservation(ctx, reservationID, r.Version, courtID, start, end); err != nil {
			return err
		}
		updated, err = q.GetReservation(ctx, tenantID, reservationID)
		return err
	})
	switch {
	case errors.Is(err, database.ErrConcurrentModification):
		return nil, ErrStaleReservation
	case errors.Is(err, database.ErrUniqueViolation):
		err = ErrSlotTaken
	}
	if err != nil {
		s.countConflict(err)
		return nil, err
	}

	s.fx.publishEvent(events.EventReservationRescheduled, reservationPayload(updated))
	s.fx.broadcastReservation(ctx, updated)
	return updated, nil
}

// Confirm moves a PENDING reservation to CONFIRMED.
func (s *BookingScheduler) Confirm(ctx context.Context, tenantID, reservationID, version int64) (*models.Reservation, error) {
	return s.transition(ctx, tenantID, reservationID, version, models.StatusPending, models.StatusConfirmed, events.EventReservationConfirmed)
}

// Complete moves a CONFIRMED reservation to COMPLETED.
func (s *BookingScheduler) Complete(ctx context.Context, tenantID, reservationID, version int64) (*models.Reservation, error) {
	return s.transition(ctx, tenantID, reservationID, version, models.StatusConfirmed, models.StatusCompleted, events.EventReservationCompleted)
}

// transition applies a status change guarded by the reservation version.
// version 0 uses the stored version.
func (s *BookingScheduler) transition(ctx context.Context, tenantID, reservationID, version int64, from, to, eventType string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, tenantID, reservationID)
	if err != nil {
		return nil, notFound(err, ErrReservationNotFound)
	}
	if r.Status != from {
		return nil, ErrInvalidTransition
	}
	if version == 0 {
		version = r.Version
	}
	if err := s.store.UpdateReservationStatusWithVersion(ctx, reservationID, version, to); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return nil, ErrStaleReservation
		}
		return nil, err
	}
	r.Status = to
	r.Version = version + 1

	s.fx.publishEvent(eventType, reservationPayload(r))
	s.fx.broadcastReservation(ctx, r)
	return r, nil
}

// JoinWaitingList records interest in a day, optionally for one court.
func (s *BookingScheduler) JoinWaitingList(ctx context.Context, tenantID int64, req WaitingListRequest) (*models.WaitingListEntry, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || req.Phone == "" {
		return nil, validationError("name and phone are required")
	}
	if _, err := time.Parse(models.DateLayout, req.Date); err != nil {
		return nil, validationError("invalid date %q", req.Date)
	}
	if req.CourtID != nil {
		if _, err := s.store.GetCourt(ctx, tenantID, *req.CourtID); err != nil {
			return nil, notFound(err, ErrCourtNotFound)
		}
	}

	entry := &models.WaitingListEntry{
		TenantID: tenantID,
		CourtID:  req.CourtID,
		Date:     req.Date,
		Name:     req.Name,
		Phone:    req.Phone,
		Notes:    req.Notes,
		Status:   models.WaitingPending,
	}
	if err := s.store.CreateWaitingEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.fx.staffAlert(ctx, tenantID, 0, fmt.Sprintf("Waiting list: %s (%s) for %s", entry.Name, entry.Phone, entry.Date))
	return entry, nil
}
