package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courtdesk/internal/domain"
	"courtdesk/internal/models"
)

const tenantColumns = `id, name, slug, open_time, close_time, slot_duration, timezone,
	reject_unpriced, notify_clients, created_at, updated_at`

func (q *Queries) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = ?`
	var t models.Tenant
	var createdAt, updatedAt string
	err := q.q.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Slug, &t.OpenTime, &t.CloseTime, &t.SlotDuration, &t.Timezone,
		&t.RejectUnpriced, &t.NotifyClients, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant %d: %w", id, translate(err))
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTenant creates the tenant or refreshes its configuration, keyed by id.
func (q *Queries) UpsertTenant(ctx context.Context, t *models.Tenant) error {
	query := `INSERT INTO tenants (` + tenantColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                slug = excluded.slug,
                open_time = excluded.open_time,
                close_time = excluded.close_time,
                slot_duration = excluded.slot_duration,
                timezone = excluded.timezone,
                reject_unpriced = excluded.reject_unpriced,
                notify_clients = excluded.notify_clients,
                updated_at = excluded.updated_at`
	now := time.Now().UTC().Truncate(time.Second)
	var id any
	if t.ID != 0 {
		id = t.ID
	}
	result, err := q.q.ExecContext(ctx, query,
		id, t.Name, t.Slug, t.OpenTime, t.CloseTime, t.SlotDuration, t.Timezone,
		t.RejectUnpriced, t.NotifyClients, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", translate(err))
	}
	if t.ID == 0 {
		if t.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return nil
}

func (q *Queries) UpsertCourt(ctx context.Context, c *models.Court) error {
	query := `INSERT INTO courts (id, tenant_id, name, is_active, sort_order, slot_duration)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                tenant_id = excluded.tenant_id,
                name = excluded.name,
                is_active = excluded.is_active,
                sort_order = excluded.sort_order,
                slot_duration = excluded.slot_duration`
	var id any
	if c.ID != 0 {
		id = c.ID
	}
	result, err := q.q.ExecContext(ctx, query, id, c.TenantID, c.Name, c.IsActive, c.SortOrder, c.SlotDuration)
	if err != nil {
		return fmt.Errorf("failed to upsert court: %w", translate(err))
	}
	if c.ID == 0 {
		if c.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

func (q *Queries) GetCourt(ctx context.Context, tenantID, courtID int64) (*models.Court, error) {
	query := `SELECT id, tenant_id, name, is_active, sort_order, slot_duration
              FROM courts WHERE id = ? AND tenant_id = ?`
	var c models.Court
	err := q.q.QueryRowContext(ctx, query, courtID, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.IsActive, &c.SortOrder, &c.SlotDuration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get court %d: %w", courtID, translate(err))
	}
	return &c, nil
}

func (q *Queries) ListCourts(ctx context.Context, tenantID int64) ([]*models.Court, error) {
	query := `SELECT id, tenant_id, name, is_active, sort_order, slot_duration
              FROM courts WHERE tenant_id = ? ORDER BY sort_order, id`
	rows, err := q.q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list courts: %w", translate(err))
	}
	defer rows.Close()

	var courts []*models.Court
	for rows.Next() {
		c := &models.Court{}
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.IsActive, &c.SortOrder, &c.SlotDuration); err != nil {
			return nil, fmt.Errorf("failed to scan court: %w", err)
		}
		courts = append(courts, c)
	}
	return courts, rows.Err()
}

func (q *Queries) CreatePriceRule(ctx context.Context, r *models.PriceRule) error {
	query := `INSERT INTO price_rules (
				tenant_id, name, days_of_week, start_time, end_time, priority,
				price, member_price, start_date, end_date
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := q.q.ExecContext(ctx, query,
		r.TenantID, r.Name, models.FormatDays(r.DaysOfWeek), r.StartTime, r.EndTime, r.Priority,
		r.Price, r.MemberPrice, formatNullDate(r.StartDate), formatNullDate(r.EndDate),
	)
	if err != nil {
		return fmt.Errorf("failed to create price rule: %w", translate(err))
	}
	if r.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// ListPriceRules returns the tenant rules, highest priority first, ties by id.
func (q *Queries) ListPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error) {
	query := `SELECT id, tenant_id, name, days_of_week, start_time, end_time, priority,
                     price, member_price, start_date, end_date
              FROM price_rules WHERE tenant_id = ? ORDER BY priority DESC, id ASC`
	rows, err := q.q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list price rules: %w", translate(err))
	}
	defer rows.Close()

	var rules []*models.PriceRule
	for rows.Next() {
		r := &models.PriceRule{}
		var days string
		var startDate, endDate sql.NullString
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.Name, &days, &r.StartTime, &r.EndTime, &r.Priority,
			&r.Price, &r.MemberPrice, &startDate, &endDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan price rule: %w", err)
		}
		if r.DaysOfWeek, err = models.ParseDays(days); err != nil {
			return nil, fmt.Errorf("price rule %d: %w", r.ID, err)
		}
		if r.StartDate, err = parseNullDate(startDate); err != nil {
			return nil, err
		}
		if r.EndDate, err = parseNullDate(endDate); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (q *Queries) DeletePriceRules(ctx context.Context, tenantID int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM price_rules WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("failed to delete price rules: %w", translate(err))
	}
	return nil
}

// TenantSetup is the full configuration of one tenant as loaded from config.
type TenantSetup struct {
	Tenant     *models.Tenant
	Courts     []*models.Court
	PriceRules []*models.PriceRule
	Products   []*models.Product
}

// SyncTenants writes configured tenants, courts, products and price rules.
// Price rules are replaced wholesale; everything else is upserted by id.
func (db *DB) SyncTenants(ctx context.Context, setups []TenantSetup) error {
	return db.InTx(ctx, func(dq domain.Queries) error {
		q := dq.(*Queries)
		for _, s := range setups {
			if err := q.UpsertTenant(ctx, s.Tenant); err != nil {
				return err
			}
			for _, c := range s.Courts {
				c.TenantID = s.Tenant.ID
				if err := q.UpsertCourt(ctx, c); err != nil {
					return err
				}
			}
			for _, p := range s.Products {
				p.TenantID = s.Tenant.ID
				if err := q.UpsertProduct(ctx, p); err != nil {
					return err
				}
			}
			if err := q.DeletePriceRules(ctx, s.Tenant.ID); err != nil {
				return err
			}
			for _, r := range s.PriceRules {
				r.TenantID = s.Tenant.ID
				if err := q.CreatePriceRule(ctx, r); err != nil {
					return err
				}
			}
		}
		db.logger.Info().Int("tenants", len(setups)).Msg("Tenant configuration synced")
		return nil
	})
}
