package database

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry is one recorded domain event.
type AuditEntry struct {
	ID            int64     `json:"id"`
	EventType     string    `json:"event_type"`
	TenantID      int64     `json:"tenant_id"`
	ReservationID int64     `json:"reservation_id"`
	Payload       string    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}

func (db *DB) InsertAuditEntry(ctx context.Context, e *AuditEntry) error {
	query := `INSERT INTO audit_log (event_type, tenant_id, reservation_id, payload, created_at)
              VALUES (?, ?, ?, ?, ?)`
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	result, err := db.ExecContext(ctx, query, e.EventType, e.TenantID, e.ReservationID, e.Payload, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", translate(err))
	}
	if e.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

func (db *DB) ListAuditEntries(ctx context.Context, tenantID, reservationID int64) ([]*AuditEntry, error) {
	query := `SELECT id, event_type, tenant_id, reservation_id, payload, created_at
              FROM audit_log WHERE tenant_id = ? AND reservation_id = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, tenantID, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", translate(err))
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EventType, &e.TenantID, &e.ReservationID, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
