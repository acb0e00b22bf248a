package database

import (
	"context"
	"fmt"
	"time"

	"courtdesk/internal/models"
)

// UpsertParticipantCharge records a participant charge, keyed by reservation and name.
func (q *Queries) UpsertParticipantCharge(ctx context.Context, pc *models.ParticipantCharge) error {
	query := `INSERT INTO participant_charges (
				reservation_id, name, amount, is_paid, payment_method, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(reservation_id, name) DO UPDATE SET
                amount = excluded.amount,
                is_paid = excluded.is_paid,
                payment_method = excluded.payment_method,
                updated_at = excluded.updated_at`
	now := time.Now().UTC().Truncate(time.Second)
	_, err := q.q.ExecContext(ctx, query,
		pc.ReservationID, pc.Name, pc.Amount, pc.IsPaid, pc.PaymentMethod, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant charge: %w", translate(err))
	}

	err = q.q.QueryRowContext(ctx,
		`SELECT id FROM participant_charges WHERE reservation_id = ? AND name = ?`,
		pc.ReservationID, pc.Name,
	).Scan(&pc.ID)
	if err != nil {
		return fmt.Errorf("failed to read participant charge id: %w", translate(err))
	}
	pc.UpdatedAt = now
	return nil
}

// ReplaceParticipantCharges swaps the whole participant list of a reservation.
func (q *Queries) ReplaceParticipantCharges(ctx context.Context, reservationID int64, charges []*models.ParticipantCharge) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM participant_charges WHERE reservation_id = ?`, reservationID); err != nil {
		return fmt.Errorf("failed to clear participant charges: %w", translate(err))
	}
	for _, pc := range charges {
		pc.ReservationID = reservationID
		if err := q.UpsertParticipantCharge(ctx, pc); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) ListParticipantCharges(ctx context.Context, reservationID int64) ([]*models.ParticipantCharge, error) {
	query := `SELECT id, reservation_id, name, amount, is_paid, payment_method, created_at, updated_at
              FROM participant_charges WHERE reservation_id = ? ORDER BY id ASC`
	rows, err := q.q.QueryContext(ctx, query, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participant charges: %w", translate(err))
	}
	defer rows.Close()

	var charges []*models.ParticipantCharge
	for rows.Next() {
		pc := &models.ParticipantCharge{}
		var createdAt, updatedAt string
		if err := rows.Scan(
			&pc.ID, &pc.ReservationID, &pc.Name, &pc.Amount, &pc.IsPaid, &pc.PaymentMethod, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan participant charge: %w", err)
		}
		if pc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if pc.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		charges = append(charges, pc)
	}
	return charges, rows.Err()
}
