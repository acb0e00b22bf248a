package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"courtdesk/internal/database"
	"courtdesk/internal/domain"
	"courtdesk/internal/events"
	"courtdesk/internal/metrics"
	"courtdesk/internal/models"
	"courtdesk/internal/notify"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Participant is one line of an itemized split.
type Participant struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// LineItemRequest attaches a product or a free-priced item to a reservation.
type LineItemRequest struct {
	ProductID  *int64              `json:"product_id,omitempty"`
	Quantity   int64               `json:"quantity"`
	UnitPrice  decimal.NullDecimal `json:"unit_price"`
	PlayerName string              `json:"player_name,omitempty"`
}

// ChargeResult is the state after a participant paid.
type ChargeResult struct {
	Charge      *models.ParticipantCharge `json:"charge"`
	Reservation *models.Reservation       `json:"reservation"`
	Transaction *models.Transaction       `json:"transaction"`
}

// CancelResult reports a cancellation.
type CancelResult struct {
	Reservation *models.Reservation `json:"reservation"`
	Refund      *models.Transaction `json:"refund,omitempty"`
	AlreadyDone bool                `json:"already_canceled,omitempty"`
}

// ReservationDetails is everything known about one reservation.
type ReservationDetails struct {
	Reservation  *models.Reservation         `json:"reservation"`
	Client       *models.Client              `json:"client"`
	Transactions []*models.Transaction       `json:"transactions"`
	Participants []*models.ParticipantCharge `json:"participants"`
	LineItems    []*models.LineItem          `json:"line_items"`
	Total        decimal.Decimal             `json:"total"`
	Paid         decimal.Decimal             `json:"paid"`
	Balance      decimal.Decimal             `json:"balance"`
}

// BookingAccounting handles money that flows through reservations.
type BookingAccounting struct {
	store    domain.Store
	config   domain.ConfigSource
	ledger   *PaymentLedger
	payments *PaymentProcessor
	links    domain.PaymentLinkProvider
	fx       sideEffects
	logger   *zerolog.Logger
}

func NewBookingAccounting(store domain.Store, config domain.ConfigSource, ledger *PaymentLedger, payments *PaymentProcessor, links domain.PaymentLinkProvider, eventBus domain.EventPublisher, queue domain.EffectQueue, logger *zerolog.Logger) *BookingAccounting {
	return &BookingAccounting{
		store:    store,
		config:   config,
		ledger:   ledger,
		payments: payments,
		links:    links,
		fx:       sideEffects{events: eventBus, queue: queue, logger: logger},
		logger:   logger,
	}
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return models.MethodCash
	}
	return method
}

// Pay records a payment against a reservation.
func (a *BookingAccounting) Pay(ctx context.Context, tenantID, reservationID int64, amount decimal.Decimal, method string) (*PaymentOutcome, error) {
	if !amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}
	method = normalizeMethod(method)
	if method == models.MethodMixed {
		return nil, validationError("a single payment cannot use method %s", models.MethodMixed)
	}
	date, err := a.ledger.today(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out, err := a.payments.Apply(ctx, PaymentInput{
		TenantID:      tenantID,
		ReservationID: reservationID,
		Amount:        amount,
		Method:        method,
		Date:          date,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("reservation_id", reservationID).
		Str("amount", amount.String()).
		Str("method", method).
		Str("payment_status", out.Reservation.PaymentStatus).
		Str("path", out.Path).
		Msg("Payment recorded")
	a.fx.publishEvent(events.EventPaymentRecorded, events.PaymentEventPayload{
		TenantID:      tenantID,
		ReservationID: reservationID,
		Amount:        amount,
		Method:        method,
		Category:      models.CategoryBookingPayment,
		PaymentStatus: out.Reservation.PaymentStatus,
		Path:          out.Path,
	})
	a.fx.broadcastReservation(ctx, out.Reservation)
	a.notifyPayment(ctx, out.Reservation, out.Total.Sub(out.Paid))
	return out, nil
}

func (a *BookingAccounting) notifyPayment(ctx context.Context, r *models.Reservation, balance decimal.Decimal) {
	tenant, err := a.config.GetTenant(ctx, r.TenantID)
	if err != nil || !tenant.NotifyClients {
		return
	}
	client, err := a.store.GetClient(ctx, r.TenantID, r.ClientID)
	if err != nil {
		a.logger.Warn().Err(err).Int64("reservation_id", r.ID).Msg("Failed to load client for payment message")
		return
	}
	loc, err := tenant.Location()
	if err != nil {
		return
	}
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	text, err := notify.PaymentConfirmation(notify.BookingMessage{
		TenantName: tenant.Name,
		ClientName: client.Name,
		Start:      r.StartTime.In(loc),
		Price:      r.Price,
		Balance:    balance,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to render payment confirmation")
		return
	}
	a.fx.message(ctx, r.TenantID, r.ID, client.Phone, text)
}

// ChargePlayer marks a participant as paid and records the movement. The
// reservation counts as paid once collected is within one unit of the total.
func (a *BookingAccounting) ChargePlayer(ctx context.Context, tenantID, reservationID int64, name string, amount decimal.Decimal, method string) (*ChargeResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("participant name is required")
	}
	if !amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}
	method = normalizeMethod(method)
	date, err := a.ledger.today(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	res := &ChargeResult{}
	err = a.store.InTx(ctx, func(q domain.Queries) error {
		r, err := q.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if r.Status == models.StatusCanceled {
			return ErrReservationCanceled
		}

		charge := &models.ParticipantCharge{
			ReservationID: r.ID,
			Name:          name,
			Amount:        amount,
			IsPaid:        true,
			PaymentMethod: method,
		}
		if err := q.UpsertParticipantCharge(ctx, charge); err != nil {
			return err
		}

		reg, err := registerForWrite(ctx, q, tenantID, date, a.logger)
		if err != nil {
			return err
		}
		clientID := r.ClientID
		tx := &models.Transaction{
			RegisterID:    reg.ID,
			TenantID:      tenantID,
			Type:          models.TxIncome,
			Category:      models.CategoryPlayerPayment,
			Method:        method,
			Amount:        amount,
			Description:   fmt.Sprintf("Reservation #%d player %s", r.ID, name),
			ReservationID: &r.ID,
			ClientID:      &clientID,
		}
		if err := q.CreateTransaction(ctx, tx); err != nil {
			return err
		}

		txs, err := q.ListReservationTransactions(ctx, r.ID)
		if err != nil {
			return err
		}
		items, err := q.ListLineItems(ctx, r.ID)
		if err != nil {
			return err
		}
		r.PaymentStatus = DerivePaymentStatus(netPaid(txs), totalCost(r, items), playerTolerance)
		r.PaymentMethod = mergeMethod(r.PaymentMethod, method)
		confirmOnPayment(r)
		if err := q.UpdateReservationPayment(ctx, r.ID, r.Status, r.PaymentStatus, r.PaymentMethod); err != nil {
			return err
		}
		r.Version++

		res.Charge = charge
		res.Reservation = r
		res.Transaction = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncPayment("player")
	a.fx.publishEvent(events.EventPaymentRecorded, events.PaymentEventPayload{
		TenantID:      tenantID,
		ReservationID: reservationID,
		Amount:        amount,
		Method:        method,
		Category:      models.CategoryPlayerPayment,
		PaymentStatus: res.Reservation.PaymentStatus,
	})
	a.fx.broadcastReservation(ctx, res.Reservation)
	return res, nil
}

// SetParticipants replaces the itemized split of a reservation, keeping the
// paid state of participants that stay.
func (a *BookingAccounting) SetParticipants(ctx context.Context, tenantID, reservationID int64, participants []Participant) ([]*models.ParticipantCharge, error) {
	seen := make(map[string]struct{}, len(participants))
	for i := range participants {
		participants[i].Name = strings.TrimSpace(participants[i].Name)
		p := participants[i]
		if p.Name == "" {
			return nil, validationError("participant name is required")
		}
		if p.Amount.IsNegative() {
			return nil, validationError("participant amount must not be negative")
		}
		if _, dup := seen[p.Name]; dup {
			return nil, validationError("duplicate participant %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	var charges []*models.ParticipantCharge
	err := a.store.InTx(ctx, func(q domain.Queries) error {
		r, err := q.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if r.Status == models.StatusCanceled {
			return ErrReservationCanceled
		}
		existing, err := q.ListParticipantCharges(ctx, r.ID)
		if err != nil {
			return err
		}
		byName := make(map[string]*models.ParticipantCharge, len(existing))
		for _, c := range existing {
			byName[c.Name] = c
		}

		charges = make([]*models.ParticipantCharge, 0, len(participants))
		for _, p := range participants {
			c := &models.ParticipantCharge{ReservationID: r.ID, Name: p.Name, Amount: p.Amount}
			if old, ok := byName[p.Name]; ok && old.IsPaid {
				c.IsPaid = true
				c.PaymentMethod = old.PaymentMethod
			}
			charges = append(charges, c)
		}
		if err := q.ReplaceParticipantCharges(ctx, r.ID, charges); err != nil {
			return err
		}
		charges, err = q.ListParticipantCharges(ctx, r.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return charges, nil
}

// AddLineItem sells a product (or a free-priced item) against a reservation,
// reserving product stock.
func (a *BookingAccounting) AddLineItem(ctx context.Context, tenantID, reservationID int64, req LineItemRequest) (*models.LineItem, error) {
	if req.Quantity <= 0 {
		return nil, validationError("quantity must be positive")
	}
	if req.ProductID == nil && !req.UnitPrice.Valid {
		return nil, validationError("either a product or a unit price is required")
	}
	if req.UnitPrice.Valid && req.UnitPrice.Decimal.IsNegative() {
		return nil, validationError("unit price must not be negative")
	}

	item := &models.LineItem{
		ReservationID: reservationID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		PlayerName:    strings.TrimSpace(req.PlayerName),
	}
	var r *models.Reservation
	err := a.store.InTx(ctx, func(q domain.Queries) error {
		var err error
		r, err = q.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if err := checkItemsEditable(r); err != nil {
			return err
		}

		if req.ProductID != nil {
			product, err := q.GetProduct(ctx, tenantID, *req.ProductID)
			if err != nil {
				return notFound(err, ErrProductNotFound)
			}
			if !product.IsActive {
				return ErrProductNotFound
			}
			if err := q.AdjustStock(ctx, product.ID, -req.Quantity); err != nil {
				if errors.Is(err, database.ErrInsufficientStock) {
					return ErrInsufficientStock
				}
				return err
			}
			item.UnitPrice = product.Price
		}
		if req.UnitPrice.Valid {
			item.UnitPrice = req.UnitPrice.Decimal
		}
		if err := q.CreateLineItem(ctx, item); err != nil {
			return err
		}
		return refreshPaymentStatus(ctx, q, r)
	})
	if err != nil {
		return nil, err
	}
	a.fx.broadcastReservation(ctx, r)
	return item, nil
}

// RemoveLineItem deletes a line item and restores its product stock.
func (a *BookingAccounting) RemoveLineItem(ctx context.Context, tenantID, reservationID, itemID int64) error {
	var r *models.Reservation
	err := a.store.InTx(ctx, func(q domain.Queries) error {
		var err error
		r, err = q.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if err := checkItemsEditable(r); err != nil {
			return err
		}
		item, err := q.GetLineItem(ctx, reservationID, itemID)
		if err != nil {
			return notFound(err, ErrLineItemNotFound)
		}
		if err := q.DeleteLineItem(ctx, item.ID); err != nil {
			return err
		}
		if item.ProductID != nil {
			if err := q.AdjustStock(ctx, *item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return refreshPaymentStatus(ctx, q, r)
	})
	if err != nil {
		return err
	}
	a.fx.broadcastReservation(ctx, r)
	return nil
}

// checkItemsEditable rejects line-item changes once stock was returned by a
// cancellation or a no-show.
func checkItemsEditable(r *models.Reservation) error {
	switch r.Status {
	case models.StatusCanceled:
		return ErrReservationCanceled
	case models.StatusNoShow:
		return ErrReservationNoShow
	}
	return nil
}

// refreshPaymentStatus recomputes the payment status after the owed total
// changed. Unpaid reservations stay UNPAID.
func refreshPaymentStatus(ctx context.Context, q domain.Queries, r *models.Reservation) error {
	txs, err := q.ListReservationTransactions(ctx, r.ID)
	if err != nil {
		return err
	}
	items, err := q.ListLineItems(ctx, r.ID)
	if err != nil {
		return err
	}
	status := DerivePaymentStatus(netPaid(txs), totalCost(r, items), decimal.Zero)
	if status == r.PaymentStatus {
		return nil
	}
	r.PaymentStatus = status
	if err := q.UpdateReservationPayment(ctx, r.ID, r.Status, r.PaymentStatus, ""); err != nil {
		return err
	}
	r.Version++
	return nil
}

// Cancel refunds everything collected, restores stock and marks the
// reservation CANCELED and REFUNDED, whether or not anything was paid.
// Only PENDING and CONFIRMED reservations can be canceled. Canceling twice
// is a no-op.
func (a *BookingAccounting) Cancel(ctx context.Context, tenantID, reservationID int64) (*CancelResult, error) {
	date, err := a.ledger.today(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	res := &CancelResult{}
	err = a.store.InTx(ctx, func(q domain.Queries) error {
		r, err := q.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		res.Reservation = r
		if r.Status == models.StatusCanceled {
			res.AlreadyDone = true
			return nil
		}
		if !r.IsOpen() {
			return ErrInvalidTransition
		}

		txs, err := q.ListReservationTransactions(ctx, r.ID)
		if err != nil {
			return err
		}
		if paid := netPaid(txs); paid.IsPositive() {
			reg, err := registerForWrite(ctx, q, tenantID, date, a.logger)
			if err != nil {
				return err
			}
			clientID := r.ClientID
			refund := &models.Transaction{
				RegisterID:    reg.ID,
				TenantID:      tenantID,
				Type:          models.TxExpense,
				Category:      models.CategoryRefund,
				Method:        refundMethod(txs),
				Amount:        paid,
				Description:   fmt.Sprintf("Reservation #%d refund", r.ID),
				ReservationID: &r.ID,
				ClientID:      &clientID,
			}
			if err := q.CreateTransaction(ctx, refund); err != nil {
				return err
			}
			res.Refund = refund
		}

		items, err := q.ListLineItems(ctx, r.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.ProductID == nil {
				continue
			}
			if err := q.AdjustStock(ctx, *item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		r.Status = models.StatusCanceled
		r.PaymentStatus = models.PaymentRefunded
		if err := q.UpdateReservationPayment(ctx, r.ID, r.Status, r.PaymentStatus, ""); err != nil {
			return err
		}
		r.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.AlreadyDone {
		return res, nil
	}

	r := res.Reservation
	refunded := decimal.Zero
	if res.Refund != nil {
		refunded = res.Refund.Amount
		metrics.IncRefund()
	}
	a.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("reservation_id", reservationID).
		Str("refunded", refunded.String()).
		Msg("Reservation canceled")
	a.fx.publishEvent(events.EventReservationCanceled, reservationPayload(r))
	a.fx.broadcastDeletion(ctx, tenantID, reservationID)
	a.afterCancel(ctx, r, refunded)
	return res, nil
}

// afterCancel notifies the waiting list and staff.
func (a *BookingAccounting) afterCancel(ctx context.Context, r *models.Reservation, refunded decimal.Decimal) {
	tenant, err := a.config.GetTenant(ctx, r.TenantID)
	if err != nil {
		a.logger.Warn().Err(err).Int64("tenant_id", r.TenantID).Msg("Failed to load tenant after cancel")
		return
	}
	loc, err := tenant.Location()
	if err != nil {
		return
	}
	courtName := fmt.Sprintf("%d", r.CourtID)
	if court, err := a.store.GetCourt(ctx, r.TenantID, r.CourtID); err == nil {
		courtName = court.Name
	}
	start := r.StartTime.In(loc)

	entries, err := a.store.ListPendingWaitingEntries(ctx, r.TenantID, start.Format(models.DateLayout), r.CourtID)
	if err != nil {
		a.logger.Warn().Err(err).Int64("reservation_id", r.ID).Msg("Failed to load waiting list")
	}
	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		text, err := notify.SlotAvailable(notify.WaitingMessage{
			TenantName: tenant.Name,
			Name:       entry.Name,
			CourtName:  courtName,
			Start:      start,
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("Failed to render waiting list message")
			continue
		}
		a.fx.message(ctx, r.TenantID, r.ID, entry.Phone, text)
		ids = append(ids, entry.ID)
	}
	if len(ids) > 0 {
		if err := a.store.MarkWaitingEntriesNotified(ctx, ids); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to mark waiting list entries notified")
		}
	}

	msg := notify.BookingMessage{CourtName: courtName, Start: start, Price: r.Price, Balance: refunded}
	if client, err := a.store.GetClient(ctx, r.TenantID, r.ClientID); err == nil {
		msg.ClientName = client.Name
		msg.ClientPhone = client.Phone
	}
	if text, err := notify.StaffCancellation(msg); err == nil {
		a.fx.staffAlert(ctx, r.TenantID, r.ID, text)
	}
}

// PaymentLink asks the gateway for a redirect URL. A zero amount charges the
// outstanding balance.
func (a *BookingAccounting) PaymentLink(ctx context.Context, tenantID, reservationID int64, amount decimal.Decimal) (string, error) {
	if amount.IsNegative() {
		return "", validationError("amount must not be negative")
	}
	details, err := a.Details(ctx, tenantID, reservationID)
	if err != nil {
		return "", err
	}
	if details.Reservation.Status == models.StatusCanceled {
		return "", ErrReservationCanceled
	}
	if amount.IsZero() {
		amount = details.Balance
	}
	if !amount.IsPositive() {
		return "", ErrNothingOutstanding
	}
	if a.links == nil {
		return "", ErrPaymentLinkFailed
	}

	req := models.PaymentLinkRequest{
		TenantID:      tenantID,
		ReservationID: reservationID,
		Title:         fmt.Sprintf("Reserva #%d", reservationID),
		Amount:        amount,
	}
	if details.Client != nil {
		req.PayerPhone = details.Client.Phone
		req.PayerEmail = details.Client.Email
	}
	url, err := a.links.CreatePaymentLink(ctx, req)
	if err != nil {
		a.logger.Error().Err(err).Int64("reservation_id", reservationID).Msg("Payment link request failed")
		return "", &Error{Kind: ErrPaymentLinkFailed.Kind, Code: ErrPaymentLinkFailed.Code, Message: ErrPaymentLinkFailed.Message, Err: err}
	}
	return url, nil
}

// Details loads a reservation with its client, movements and split lines.
func (a *BookingAccounting) Details(ctx context.Context, tenantID, reservationID int64) (*ReservationDetails, error) {
	r, err := a.store.GetReservation(ctx, tenantID, reservationID)
	if err != nil {
		return nil, notFound(err, ErrReservationNotFound)
	}
	d := &ReservationDetails{Reservation: r}
	if d.Client, err = a.store.GetClient(ctx, tenantID, r.ClientID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if d.Transactions, err = a.store.ListReservationTransactions(ctx, r.ID); err != nil {
		return nil, err
	}
	if d.Participants, err = a.store.ListParticipantCharges(ctx, r.ID); err != nil {
		return nil, err
	}
	if d.LineItems, err = a.store.ListLineItems(ctx, r.ID); err != nil {
		return nil, err
	}
	d.Total = totalCost(r, d.LineItems)
	d.Paid = netPaid(d.Transactions)
	d.Balance = d.Total.Sub(d.Paid)
	if r.Status == models.StatusCanceled || d.Balance.IsNegative() {
		d.Balance = decimal.Zero
	}
	return d, nil
}
