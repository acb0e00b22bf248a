package service

import (
	"context"
	"errors"
	"fmt"

	"courtdesk/internal/database"
	"courtdesk/internal/domain"
	"courtdesk/internal/metrics"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	PathAtomic   = "atomic"
	PathFallback = "fallback"
)

// PaymentInput is one reservation payment to apply.
type PaymentInput struct {
	TenantID      int64
	ReservationID int64
	Amount        decimal.Decimal
	Method        string
	Date          string
}

// PaymentOutcome is the state after a payment was applied.
type PaymentOutcome struct {
	Reservation *models.Reservation `json:"reservation"`
	Transaction *models.Transaction `json:"transaction"`
	Paid        decimal.Decimal     `json:"paid"`
	Total       decimal.Decimal     `json:"total"`
	Path        string              `json:"path"`
}

// PaymentStrategy applies a payment to a reservation.
type PaymentStrategy interface {
	Name() string
	Apply(ctx context.Context, in PaymentInput) (*PaymentOutcome, error)
}

// AtomicPayment writes the movement and the payment status in one transaction.
type AtomicPayment struct {
	store  domain.Store
	logger *zerolog.Logger
}

func NewAtomicPayment(store domain.Store, logger *zerolog.Logger) *AtomicPayment {
	return &AtomicPayment{store: store, logger: logger}
}

func (p *AtomicPayment) Name() string { return PathAtomic }

func (p *AtomicPayment) Apply(ctx context.Context, in PaymentInput) (*PaymentOutcome, error) {
	out := &PaymentOutcome{Path: PathAtomic}
	err := p.store.InTx(ctx, func(q domain.Queries) error {
		r, err := q.GetReservation(ctx, in.TenantID, in.ReservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if r.Status == models.StatusCanceled {
			return ErrReservationCanceled
		}
		txs, err := q.ListReservationTransactions(ctx, r.ID)
		if err != nil {
			return err
		}
		items, err := q.ListLineItems(ctx, r.ID)
		if err != nil {
			return err
		}
		reg, err := registerForWrite(ctx, q, in.TenantID, in.Date, p.logger)
		if err != nil {
			return err
		}

		tx := paymentTransaction(in, r, reg.ID)
		if err := q.CreateTransaction(ctx, tx); err != nil {
			return err
		}

		out.Transaction = tx
		out.Paid = netPaid(txs).Add(in.Amount)
		out.Total = totalCost(r, items)
		applyPaymentState(r, out.Paid, out.Total, in.Method)
		out.Reservation = r
		return q.UpdateReservationPayment(ctx, r.ID, r.Status, r.PaymentStatus, r.PaymentMethod)
	})
	if err != nil {
		return nil, err
	}
	out.Reservation.Version++
	return out, nil
}

// SequentialPayment books the movement through the ledger first and then
// recomputes the payment status in a second step. It is not atomic.
type SequentialPayment struct {
	store  domain.Store
	ledger *PaymentLedger
	logger *zerolog.Logger
}

func NewSequentialPayment(store domain.Store, ledger *PaymentLedger, logger *zerolog.Logger) *SequentialPayment {
	return &SequentialPayment{store: store, ledger: ledger, logger: logger}
}

func (p *SequentialPayment) Name() string { return PathFallback }

func (p *SequentialPayment) Apply(ctx context.Context, in PaymentInput) (*PaymentOutcome, error) {
	r, err := p.store.GetReservation(ctx, in.TenantID, in.ReservationID)
	if err != nil {
		return nil, notFound(err, ErrReservationNotFound)
	}
	if r.Status == models.StatusCanceled {
		return nil, ErrReservationCanceled
	}

	reg, err := p.ledger.GetOrCreateToday(ctx, in.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve register: %w", err)
	}
	tx := paymentTransaction(in, r, reg.ID)
	if err := p.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	txs, err := p.store.ListReservationTransactions(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	items, err := p.store.ListLineItems(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	out := &PaymentOutcome{
		Transaction: tx,
		Paid:        netPaid(txs),
		Total:       totalCost(r, items),
		Path:        PathFallback,
	}
	applyPaymentState(r, out.Paid, out.Total, in.Method)
	if err := p.store.UpdateReservationPayment(ctx, r.ID, r.Status, r.PaymentStatus, r.PaymentMethod); err != nil {
		return nil, err
	}
	r.Version++
	out.Reservation = r
	return out, nil
}

// PaymentProcessor runs the primary strategy and falls back only when the
// storage reports a schema mismatch. Every other error propagates unchanged.
type PaymentProcessor struct {
	primary  PaymentStrategy
	fallback PaymentStrategy
	logger   *zerolog.Logger
}

func NewPaymentProcessor(primary, fallback PaymentStrategy, logger *zerolog.Logger) *PaymentProcessor {
	return &PaymentProcessor{primary: primary, fallback: fallback, logger: logger}
}

func (p *PaymentProcessor) Apply(ctx context.Context, in PaymentInput) (*PaymentOutcome, error) {
	out, err := p.primary.Apply(ctx, in)
	if err == nil {
		metrics.IncPayment(p.primary.Name())
		return out, nil
	}
	if !errors.Is(err, database.ErrSchemaMismatch) || p.fallback == nil {
		return nil, err
	}

	p.logger.Warn().
		Err(err).
		Int64("reservation_id", in.ReservationID).
		Str("strategy", p.fallback.Name()).
		Msg("Primary payment path failed on schema mismatch, using fallback")
	out, err = p.fallback.Apply(ctx, in)
	if err != nil {
		return nil, err
	}
	metrics.IncPayment(p.fallback.Name())
	return out, nil
}

func paymentTransaction(in PaymentInput, r *models.Reservation, registerID int64) *models.Transaction {
	clientID := r.ClientID
	reservationID := r.ID
	return &models.Transaction{
		RegisterID:    registerID,
		TenantID:      in.TenantID,
		Type:          models.TxIncome,
		Category:      models.CategoryBookingPayment,
		Method:        in.Method,
		Amount:        in.Amount,
		Description:   fmt.Sprintf("Reservation #%d payment", r.ID),
		ReservationID: &reservationID,
		ClientID:      &clientID,
	}
}

// applyPaymentState updates status, payment status and method in place.
func applyPaymentState(r *models.Reservation, paid, total decimal.Decimal, method string) {
	r.PaymentStatus = DerivePaymentStatus(paid, total, decimal.Zero)
	r.PaymentMethod = mergeMethod(r.PaymentMethod, method)
	confirmOnPayment(r)
}

// confirmOnPayment confirms a PENDING reservation. Every payment path calls it.
func confirmOnPayment(r *models.Reservation) {
	if r.Status == models.StatusPending {
		r.Status = models.StatusConfirmed
	}
}

func mergeMethod(current, method string) string {
	if current == "" || current == method {
		return method
	}
	return models.MethodMixed
}
