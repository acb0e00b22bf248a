package database

import (
	"context"
	"fmt"
	"time"

	"courtdesk/internal/models"
)

const clientColumns = `id, tenant_id, name, phone, email, membership_status, created_at, updated_at`

func (q *Queries) GetClient(ctx context.Context, tenantID, id int64) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = ? AND tenant_id = ?`
	c, err := scanClient(q.q.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to get client %d: %w", id, err)
	}
	return c, nil
}

func (q *Queries) GetClientByPhone(ctx context.Context, tenantID int64, phone string) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE tenant_id = ? AND phone = ?`
	c, err := scanClient(q.q.QueryRowContext(ctx, query, tenantID, phone))
	if err != nil {
		return nil, fmt.Errorf("failed to get client by phone: %w", err)
	}
	return c, nil
}

func (q *Queries) CreateClient(ctx context.Context, c *models.Client) error {
	query := `INSERT INTO clients (tenant_id, name, phone, email, membership_status, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	if c.MembershipStatus == "" {
		c.MembershipStatus = models.MembershipNone
	}
	now := time.Now().UTC().Truncate(time.Second)
	result, err := q.q.ExecContext(ctx, query,
		c.TenantID, c.Name, c.Phone, c.Email, c.MembershipStatus, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", translate(err))
	}
	if c.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (q *Queries) UpdateClient(ctx context.Context, c *models.Client) error {
	query := `UPDATE clients SET name = ?, email = ?, membership_status = ?, updated_at = ?
              WHERE id = ? AND tenant_id = ?`
	now := time.Now().UTC().Truncate(time.Second)
	result, err := q.q.ExecContext(ctx, query, c.Name, c.Email, c.MembershipStatus, formatTime(now), c.ID, c.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", translate(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("failed to update client %d: %w", c.ID, ErrNotFound)
	}
	c.UpdatedAt = now
	return nil
}

func (q *Queries) CreateMembership(ctx context.Context, m *models.Membership) error {
	query := `INSERT INTO memberships (client_id, plan_name, discount_percent, status, end_date)
              VALUES (?, ?, ?, ?, ?)`
	result, err := q.q.ExecContext(ctx, query, m.ClientID, m.PlanName, m.DiscountPercent, m.Status, m.EndDate.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", translate(err))
	}
	if m.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// GetActiveMembership returns the ACTIVE membership still valid on asOf.
func (q *Queries) GetActiveMembership(ctx context.Context, clientID int64, asOf time.Time) (*models.Membership, error) {
	query := `SELECT id, client_id, plan_name, discount_percent, status, end_date
              FROM memberships
              WHERE client_id = ? AND status = ? AND end_date >= ?
              ORDER BY end_date DESC LIMIT 1`
	var m models.Membership
	var endDate string
	err := q.q.QueryRowContext(ctx, query, clientID, models.MembershipActive, asOf.Format(dateLayout)).Scan(
		&m.ID, &m.ClientID, &m.PlanName, &m.DiscountPercent, &m.Status, &endDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", translate(err))
	}
	if m.EndDate, err = time.ParseInLocation(dateLayout, endDate, time.UTC); err != nil {
		return nil, fmt.Errorf("failed to parse membership end date: %w", err)
	}
	return &m, nil
}

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email, &c.MembershipStatus, &createdAt, &updatedAt)
	if err != nil {
		return nil, translate(err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
