package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courtdesk/internal/models"
)

const transactionColumns = `id, register_id, tenant_id, type, category, method, amount,
	description, reservation_id, client_id, created_at`

func (q *Queries) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `INSERT INTO transactions (
				register_id, tenant_id, type, category, method, amount,
				description, reservation_id, client_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	result, err := q.q.ExecContext(ctx, query,
		tx.RegisterID, tx.TenantID, tx.Type, tx.Category, tx.Method, tx.Amount,
		tx.Description, nullInt64(tx.ReservationID), nullInt64(tx.ClientID), formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", translate(err))
	}
	if tx.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// ListRegisterTransactions returns movements newest first. limit <= 0 means all.
func (q *Queries) ListRegisterTransactions(ctx context.Context, registerID int64, limit int) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
              WHERE register_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{registerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return q.listTransactions(ctx, query, args...)
}

func (q *Queries) ListReservationTransactions(ctx context.Context, reservationID int64) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
              WHERE reservation_id = ? ORDER BY created_at ASC, id ASC`
	return q.listTransactions(ctx, query, reservationID)
}

func (q *Queries) listTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", translate(err))
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		t := &models.Transaction{}
		var reservationID, clientID sql.NullInt64
		var createdAt string
		if err := rows.Scan(
			&t.ID, &t.RegisterID, &t.TenantID, &t.Type, &t.Category, &t.Method, &t.Amount,
			&t.Description, &reservationID, &clientID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.ReservationID = int64Ptr(reservationID)
		t.ClientID = int64Ptr(clientID)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
