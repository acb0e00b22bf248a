package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courtdesk/internal/models"
)

func (q *Queries) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `INSERT INTO products (id, tenant_id, name, price, stock, is_active)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                tenant_id = excluded.tenant_id,
                name = excluded.name,
                price = excluded.price,
                stock = excluded.stock,
                is_active = excluded.is_active`
	var id any
	if p.ID != 0 {
		id = p.ID
	}
	result, err := q.q.ExecContext(ctx, query, id, p.TenantID, p.Name, p.Price, p.Stock, p.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", translate(err))
	}
	if p.ID == 0 {
		if p.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

func (q *Queries) GetProduct(ctx context.Context, tenantID, id int64) (*models.Product, error) {
	query := `SELECT id, tenant_id, name, price, stock, is_active FROM products WHERE id = ? AND tenant_id = ?`
	var p models.Product
	err := q.q.QueryRowContext(ctx, query, id, tenantID).Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.Stock, &p.IsActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", id, translate(err))
	}
	return &p, nil
}

// AdjustStock adds delta to the product stock, refusing to go below zero.
func (q *Queries) AdjustStock(ctx context.Context, productID, delta int64) error {
	query := `UPDATE products SET stock = stock + ? WHERE id = ? AND stock + ? >= 0`
	result, err := q.q.ExecContext(ctx, query, delta, productID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", translate(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (q *Queries) CreateLineItem(ctx context.Context, item *models.LineItem) error {
	query := `INSERT INTO line_items (reservation_id, product_id, quantity, unit_price, player_name, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC().Truncate(time.Second)
	result, err := q.q.ExecContext(ctx, query,
		item.ReservationID, nullInt64(item.ProductID), item.Quantity, item.UnitPrice, item.PlayerName, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create line item: %w", translate(err))
	}
	if item.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.CreatedAt = now
	return nil
}

func (q *Queries) GetLineItem(ctx context.Context, reservationID, id int64) (*models.LineItem, error) {
	query := `SELECT id, reservation_id, product_id, quantity, unit_price, player_name, created_at
              FROM line_items WHERE id = ? AND reservation_id = ?`
	item, err := scanLineItem(q.q.QueryRowContext(ctx, query, id, reservationID))
	if err != nil {
		return nil, fmt.Errorf("failed to get line item %d: %w", id, err)
	}
	return item, nil
}

func (q *Queries) DeleteLineItem(ctx context.Context, id int64) error {
	result, err := q.q.ExecContext(ctx, `DELETE FROM line_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete line item: %w", translate(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("failed to delete line item %d: %w", id, ErrNotFound)
	}
	return nil
}

func (q *Queries) ListLineItems(ctx context.Context, reservationID int64) ([]*models.LineItem, error) {
	query := `SELECT id, reservation_id, product_id, quantity, unit_price, player_name, created_at
              FROM line_items WHERE reservation_id = ? ORDER BY id ASC`
	rows, err := q.q.QueryContext(ctx, query, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", translate(err))
	}
	defer rows.Close()

	var items []*models.LineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanLineItem(row rowScanner) (*models.LineItem, error) {
	var item models.LineItem
	var productID sql.NullInt64
	var createdAt string
	err := row.Scan(&item.ID, &item.ReservationID, &productID, &item.Quantity, &item.UnitPrice, &item.PlayerName, &createdAt)
	if err != nil {
		return nil, translate(err)
	}
	item.ProductID = int64Ptr(productID)
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &item, nil
}
