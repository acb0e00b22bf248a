package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashRegister is one cash session of a tenant for a local calendar day.
type CashRegister struct {
	ID           int64               `json:"id"`
	TenantID     int64               `json:"tenant_id"`
	Date         string              `json:"date"`
	Status       string              `json:"status"`
	StartAmount  decimal.Decimal     `json:"start_amount"`
	OpenedAt     time.Time           `json:"opened_at"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
	DeclaredCash decimal.NullDecimal `json:"declared_cash"`
	ExpectedCash decimal.NullDecimal `json:"expected_cash"`
	Difference   decimal.NullDecimal `json:"difference"`
	DigitalNet   decimal.NullDecimal `json:"digital_net"`
	Notes        string              `json:"notes,omitempty"`
}

// IsOpen reports whether the register still accepts movements.
func (r *CashRegister) IsOpen() bool {
	return r.Status == RegisterOpen
}

// Transaction is a single income or expense movement on a register.
type Transaction struct {
	ID            int64           `json:"id"`
	RegisterID    int64           `json:"register_id"`
	TenantID      int64           `json:"tenant_id"`
	Type          string          `json:"type"`
	Category      string          `json:"category"`
	Method        string          `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	ReservationID *int64          `json:"reservation_id,omitempty"`
	ClientID      *int64          `json:"client_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IsCash reports whether the movement affects the physical drawer.
func (t *Transaction) IsCash() bool {
	return t.Method == MethodCash
}

// Signed returns the amount with expenses negated.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == TxExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// RegisterSummary aggregates the movements of a register.
type RegisterSummary struct {
	StartAmount    decimal.Decimal `json:"start_amount"`
	CashIncome     decimal.Decimal `json:"cash_income"`
	CashExpense    decimal.Decimal `json:"cash_expense"`
	DigitalIncome  decimal.Decimal `json:"digital_income"`
	DigitalExpense decimal.Decimal `json:"digital_expense"`
	CurrentCash    decimal.Decimal `json:"current_cash"`
	MovementCount  int             `json:"movement_count"`
}

// Summarize folds movements into a summary starting from start.
func Summarize(start decimal.Decimal, txs []*Transaction) RegisterSummary {
	s := RegisterSummary{
		StartAmount:    start,
		CashIncome:     decimal.Zero,
		CashExpense:    decimal.Zero,
		DigitalIncome:  decimal.Zero,
		DigitalExpense: decimal.Zero,
		MovementCount:  len(txs),
	}
	for _, tx := range txs {
		switch {
		case tx.IsCash() && tx.Type == TxIncome:
			s.CashIncome = s.CashIncome.Add(tx.Amount)
		case tx.IsCash() && tx.Type == TxExpense:
			s.CashExpense = s.CashExpense.Add(tx.Amount)
		case tx.Type == TxIncome:
			s.DigitalIncome = s.DigitalIncome.Add(tx.Amount)
		case tx.Type == TxExpense:
			s.DigitalExpense = s.DigitalExpense.Add(tx.Amount)
		}
	}
	s.CurrentCash = start.Add(s.CashIncome).Sub(s.CashExpense)
	return s
}

// DigitalNet is digital income minus digital expense.
func (s RegisterSummary) DigitalNet() decimal.Decimal {
	return s.DigitalIncome.Sub(s.DigitalExpense)
}

// RegisterView is what the register status endpoint reports.
type RegisterView struct {
	Status    string           `json:"status"`
	Register  *CashRegister    `json:"register,omitempty"`
	Summary   *RegisterSummary `json:"summary,omitempty"`
	Movements []*Transaction   `json:"movements,omitempty"`
}
