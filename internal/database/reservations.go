package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courtdesk/internal/models"
)

const reservationColumns = `id, tenant_id, court_id, client_id, start_time, end_time, status,
	payment_status, payment_method, price, recurring_id, notes, version, created_at, updated_at`

// HasOverlap reports whether a non-canceled reservation of the court intersects
// [start, end). excludeID skips one reservation, 0 skips none.
func (q *Queries) HasOverlap(ctx context.Context, courtID int64, start, end time.Time, excludeID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM reservations
              WHERE court_id = ? AND status <> ? AND id <> ?
              AND start_time < ? AND end_time > ?`
	var count int
	err := q.q.QueryRowContext(ctx, query,
		courtID, models.StatusCanceled, excludeID, formatTime(end), formatTime(start),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check overlap: %w", translate(err))
	}
	return count > 0, nil
}

func (q *Queries) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `INSERT INTO reservations (
				tenant_id, court_id, client_id, start_time, end_time, status,
				payment_status, payment_method, price, recurring_id, notes,
				version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC().Truncate(time.Second)
	result, err := q.q.ExecContext(ctx, query,
		r.TenantID,
		r.CourtID,
		r.ClientID,
		formatTime(r.StartTime),
		formatTime(r.EndTime),
		r.Status,
		r.PaymentStatus,
		nullString(r.PaymentMethod),
		r.Price,
		nullString(r.RecurringID),
		r.Notes,
		1,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", translate(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Version = 1
	return nil
}

func (q *Queries) GetReservation(ctx context.Context, tenantID, id int64) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? AND tenant_id = ?`
	r, err := scanReservation(q.q.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation %d: %w", id, err)
	}
	return r, nil
}

// UpdateReservationPayment stores the derived payment state. An empty method
// leaves the stored one untouched.
func (q *Queries) UpdateReservationPayment(ctx context.Context, id int64, status, paymentStatus, method string) error {
	query := `UPDATE reservations
              SET status = ?, payment_status = ?, payment_method = COALESCE(?, payment_method),
                  version = version + 1, updated_at = ?
              WHERE id = ?`
	result, err := q.q.ExecContext(ctx, query,
		status, paymentStatus, nullString(method), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation payment: %w", translate(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("failed to update reservation %d: %w", id, ErrNotFound)
	}
	return nil
}

func (q *Queries) UpdateReservationStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE reservations SET status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := q.q.ExecContext(ctx, query, status, formatTime(time.Now()), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update reservation status: %w", translate(err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (q *Queries) RescheduleReservation(ctx context.Context, id, fromVersion, courtID int64, start, end time.Time) error {
	query := `UPDATE reservations
              SET court_id = ?, start_time = ?, end_time = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := q.q.ExecContext(ctx, query,
		courtID, formatTime(start), formatTime(end), formatTime(time.Now()), id, fromVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule reservation: %w", translate(err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ListReservations returns reservations of a tenant starting in [from, to).
func (q *Queries) ListReservations(ctx context.Context, tenantID int64, from, to time.Time) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
              WHERE tenant_id = ? AND start_time >= ? AND start_time < ?
              ORDER BY start_time ASC, id ASC`
	rows, err := q.q.QueryContext(ctx, query, tenantID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", translate(err))
	}
	defer rows.Close()

	var reservations []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var r models.Reservation
	var start, end, createdAt, updatedAt string
	var method, recurringID sql.NullString
	err := row.Scan(
		&r.ID, &r.TenantID, &r.CourtID, &r.ClientID, &start, &end, &r.Status,
		&r.PaymentStatus, &method, &r.Price, &recurringID, &r.Notes, &r.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	r.PaymentMethod = method.String
	r.RecurringID = recurringID.String
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&r.StartTime, start}, {&r.EndTime, end}, {&r.CreatedAt, createdAt}, {&r.UpdatedAt, updatedAt}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	return &r, nil
}
