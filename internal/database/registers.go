package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courtdesk/internal/models"
)

const registerColumns = `id, tenant_id, date, status, start_amount, opened_at, closed_at,
	declared_cash, expected_cash, difference, digital_net, notes`

// GetOpenRegister returns the tenant's OPEN register or ErrNotFound.
func (q *Queries) GetOpenRegister(ctx context.Context, tenantID int64) (*models.CashRegister, error) {
	query := `SELECT ` + registerColumns + ` FROM cash_registers
              WHERE tenant_id = ? AND status = ? ORDER BY id DESC LIMIT 1`
	reg, err := scanRegister(q.q.QueryRowContext(ctx, query, tenantID, models.RegisterOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to get open register: %w", err)
	}
	return reg, nil
}

// GetLatestRegisterByDate returns the most recent register of a local date.
func (q *Queries) GetLatestRegisterByDate(ctx context.Context, tenantID int64, date string) (*models.CashRegister, error) {
	query := `SELECT ` + registerColumns + ` FROM cash_registers
              WHERE tenant_id = ? AND date = ? ORDER BY id DESC LIMIT 1`
	reg, err := scanRegister(q.q.QueryRowContext(ctx, query, tenantID, date))
	if err != nil {
		return nil, fmt.Errorf("failed to get register for %s: %w", date, err)
	}
	return reg, nil
}

func (q *Queries) GetRegister(ctx context.Context, tenantID, id int64) (*models.CashRegister, error) {
	query := `SELECT ` + registerColumns + ` FROM cash_registers WHERE id = ? AND tenant_id = ?`
	reg, err := scanRegister(q.q.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to get register %d: %w", id, err)
	}
	return reg, nil
}

// CreateRegister inserts an OPEN register. A second OPEN register for the
// same tenant fails with ErrUniqueViolation.
func (q *Queries) CreateRegister(ctx context.Context, reg *models.CashRegister) error {
	query := `INSERT INTO cash_registers (tenant_id, date, status, start_amount, opened_at, notes)
              VALUES (?, ?, ?, ?, ?, ?)`
	if reg.OpenedAt.IsZero() {
		reg.OpenedAt = time.Now().UTC().Truncate(time.Second)
	}
	if reg.Status == "" {
		reg.Status = models.RegisterOpen
	}
	result, err := q.q.ExecContext(ctx, query,
		reg.TenantID, reg.Date, reg.Status, reg.StartAmount, formatTime(reg.OpenedAt), reg.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to create register: %w", translate(err))
	}
	if reg.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// CloseRegister stores the reconciliation figures of an OPEN register.
func (q *Queries) CloseRegister(ctx context.Context, reg *models.CashRegister) error {
	query := `UPDATE cash_registers
              SET status = ?, closed_at = ?, declared_cash = ?, expected_cash = ?,
                  difference = ?, digital_net = ?, notes = ?
              WHERE id = ? AND tenant_id = ? AND status = ?`
	result, err := q.q.ExecContext(ctx, query,
		models.RegisterClosed, formatNullTime(reg.ClosedAt), reg.DeclaredCash, reg.ExpectedCash,
		reg.Difference, reg.DigitalNet, reg.Notes, reg.ID, reg.TenantID, models.RegisterOpen,
	)
	if err != nil {
		return fmt.Errorf("failed to close register: %w", translate(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrRegisterClosed
	}
	reg.Status = models.RegisterClosed
	return nil
}

func scanRegister(row rowScanner) (*models.CashRegister, error) {
	var reg models.CashRegister
	var openedAt string
	var closedAt sql.NullString
	err := row.Scan(
		&reg.ID, &reg.TenantID, &reg.Date, &reg.Status, &reg.StartAmount, &openedAt, &closedAt,
		&reg.DeclaredCash, &reg.ExpectedCash, &reg.Difference, &reg.DigitalNet, &reg.Notes,
	)
	if err != nil {
		return nil, translate(err)
	}
	if reg.OpenedAt, err = parseTime(openedAt); err != nil {
		return nil, err
	}
	if reg.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	return &reg, nil
}
