package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courtdesk/internal/database"
	"courtdesk/internal/domain"
	"courtdesk/internal/events"
	"courtdesk/internal/metrics"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MovementRequest is a manual cash movement on the open register.
type MovementRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

// PaymentLedger manages the per-tenant cash sessions.
type PaymentLedger struct {
	store  domain.Store
	fx     sideEffects
	now    func() time.Time
	logger *zerolog.Logger
}

func NewPaymentLedger(store domain.Store, eventBus domain.EventPublisher, logger *zerolog.Logger) *PaymentLedger {
	return &PaymentLedger{
		store:  store,
		fx:     sideEffects{events: eventBus, logger: logger},
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the wall clock used to pick the session date.
func (l *PaymentLedger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *PaymentLedger) today(ctx context.Context, tenantID int64) (string, error) {
	tenant, err := l.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", notFound(err, ErrTenantNotFound)
	}
	loc, err := tenant.Location()
	if err != nil {
		return "", err
	}
	return l.now().In(loc).Format(models.DateLayout), nil
}

// Open starts a cash session. Only one session per tenant may be OPEN.
func (l *PaymentLedger) Open(ctx context.Context, tenantID int64, startAmount decimal.Decimal) (*models.CashRegister, error) {
	if startAmount.IsNegative() {
		return nil, validationError("start amount must not be negative")
	}
	date, err := l.today(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	reg := &models.CashRegister{
		TenantID:    tenantID,
		Date:        date,
		Status:      models.RegisterOpen,
		StartAmount: startAmount,
	}
	err = l.store.InTx(ctx, func(q domain.Queries) error {
		existing, err := q.GetOpenRegister(ctx, tenantID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		if existing != nil {
			return ErrRegisterAlreadyOpen
		}
		return q.CreateRegister(ctx, reg)
	})
	if errors.Is(err, database.ErrUniqueViolation) {
		return nil, ErrRegisterAlreadyOpen
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info().Int64("tenant_id", tenantID).Int64("register_id", reg.ID).Str("date", date).Msg("Cash register opened")
	l.fx.publishEvent(events.EventRegisterOpened, events.RegisterEventPayload{
		TenantID:   tenantID,
		RegisterID: reg.ID,
		Status:     reg.Status,
		Amount:     startAmount,
	})
	return reg, nil
}

// GetOrCreateToday returns the register ledger writes go to, creating an
// empty session for today when none is OPEN. This is a second creation path
// next to Open; an OPEN session from an earlier day is reused.
func (l *PaymentLedger) GetOrCreateToday(ctx context.Context, tenantID int64) (*models.CashRegister, error) {
	date, err := l.today(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var reg *models.CashRegister
	err = l.store.InTx(ctx, func(q domain.Queries) error {
		reg, err = registerForWrite(ctx, q, tenantID, date, l.logger)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// registerForWrite resolves the OPEN register inside a transaction, lazily
// opening one dated today with a zero start amount.
func registerForWrite(ctx context.Context, q domain.Queries, tenantID int64, date string, logger *zerolog.Logger) (*models.CashRegister, error) {
	reg, err := q.GetOpenRegister(ctx, tenantID)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	reg = &models.CashRegister{
		TenantID:    tenantID,
		Date:        date,
		Status:      models.RegisterOpen,
		StartAmount: decimal.Zero,
	}
	if err := q.CreateRegister(ctx, reg); err != nil {
		return nil, err
	}
	logger.Info().Int64("tenant_id", tenantID).Int64("register_id", reg.ID).Msg("Cash register auto-created for ledger write")
	return reg, nil
}

// Close reconciles and closes a session. A nonzero difference never blocks.
func (l *PaymentLedger) Close(ctx context.Context, tenantID, registerID int64, declaredCash decimal.Decimal, notes string) (*models.CashRegister, error) {
	if declaredCash.IsNegative() {
		return nil, validationError("declared cash must not be negative")
	}

	var reg *models.CashRegister
	var summary models.RegisterSummary
	err := l.store.InTx(ctx, func(q domain.Queries) error {
		var err error
		reg, err = q.GetRegister(ctx, tenantID, registerID)
		if err != nil {
			return notFound(err, ErrRegisterNotFound)
		}
		if !reg.IsOpen() {
			return ErrRegisterNotOpen
		}
		txs, err := q.ListRegisterTransactions(ctx, registerID, 0)
		if err != nil {
			return err
		}

		summary = models.Summarize(reg.StartAmount, txs)
		closedAt := l.now().UTC().Truncate(time.Second)
		reg.ClosedAt = &closedAt
		reg.DeclaredCash = decimal.NewNullDecimal(declaredCash)
		reg.ExpectedCash = decimal.NewNullDecimal(summary.CurrentCash)
		reg.Difference = decimal.NewNullDecimal(declaredCash.Sub(summary.CurrentCash))
		reg.DigitalNet = decimal.NewNullDecimal(summary.DigitalNet())
		reg.Notes = notes
		return q.CloseRegister(ctx, reg)
	})
	if errors.Is(err, database.ErrRegisterClosed) {
		return nil, ErrRegisterNotOpen
	}
	if err != nil {
		return nil, err
	}

	diff := reg.Difference.Decimal
	l.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("register_id", registerID).
		Str("expected_cash", summary.CurrentCash.String()).
		Str("declared_cash", declaredCash.String()).
		Str("difference", diff.String()).
		Msg("Cash register closed")
	metrics.ObserveRegisterClose(diff.Abs().InexactFloat64())
	l.fx.publishEvent(events.EventRegisterClosed, events.RegisterEventPayload{
		TenantID:   tenantID,
		RegisterID: registerID,
		Status:     reg.Status,
		Amount:     declaredCash,
		Difference: diff,
	})
	return reg, nil
}

// AddMovement records a manual cash movement. It needs an OPEN register and
// is always booked as CASH.
func (l *PaymentLedger) AddMovement(ctx context.Context, tenantID int64, req MovementRequest) (*models.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}
	if req.Type != models.TxIncome && req.Type != models.TxExpense {
		return nil, validationError("type must be %s or %s", models.TxIncome, models.TxExpense)
	}
	category := req.Category
	if category == "" {
		category = models.CategoryOther
	}

	tx := &models.Transaction{
		TenantID:    tenantID,
		Type:        req.Type,
		Category:    category,
		Method:      models.MethodCash,
		Amount:      req.Amount,
		Description: req.Description,
	}
	err := l.store.InTx(ctx, func(q domain.Queries) error {
		reg, err := q.GetOpenRegister(ctx, tenantID)
		if err != nil {
			return notFound(err, ErrNoOpenRegister)
		}
		tx.RegisterID = reg.ID
		return q.CreateTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	l.fx.publishEvent(events.EventMovementRecorded, events.RegisterEventPayload{
		TenantID:   tenantID,
		RegisterID: tx.RegisterID,
		Status:     models.RegisterOpen,
		Amount:     tx.Amount,
		Type:       tx.Type,
		Category:   tx.Category,
	})
	return tx, nil
}

// Status reports the OPEN register, else today's latest register, else
// NO_REGISTER.
func (l *PaymentLedger) Status(ctx context.Context, tenantID int64) (*models.RegisterView, error) {
	reg, err := l.store.GetOpenRegister(ctx, tenantID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if reg == nil {
		date, err := l.today(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		reg, err = l.store.GetLatestRegisterByDate(ctx, tenantID, date)
		if errors.Is(err, database.ErrNotFound) {
			return &models.RegisterView{Status: models.RegisterNone}, nil
		}
		if err != nil {
			return nil, err
		}
	}

	txs, err := l.store.ListRegisterTransactions(ctx, reg.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load register movements: %w", err)
	}
	summary := models.Summarize(reg.StartAmount, txs)
	movements := txs
	if len(movements) > models.RecentMovementsLimit {
		movements = movements[:models.RecentMovementsLimit]
	}
	return &models.RegisterView{
		Status:    reg.Status,
		Register:  reg,
		Summary:   &summary,
		Movements: movements,
	}, nil
}
