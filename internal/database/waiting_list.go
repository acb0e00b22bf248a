package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"courtdesk/internal/models"
)

func (q *Queries) CreateWaitingEntry(ctx context.Context, e *models.WaitingListEntry) error {
	query := `INSERT INTO waiting_list (tenant_id, court_id, date, name, phone, notes, status, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if e.Status == "" {
		e.Status = models.WaitingPending
	}
	now := time.Now().UTC().Truncate(time.Second)
	result, err := q.q.ExecContext(ctx, query,
		e.TenantID, nullInt64(e.CourtID), e.Date, e.Name, e.Phone, e.Notes, e.Status, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create waiting list entry: %w", translate(err))
	}
	if e.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.CreatedAt = now
	return nil
}

// ListPendingWaitingEntries returns PENDING entries for a local date that
// either name the court or accept any court.
func (q *Queries) ListPendingWaitingEntries(ctx context.Context, tenantID int64, date string, courtID int64) ([]*models.WaitingListEntry, error) {
	query := `SELECT id, tenant_id, court_id, date, name, phone, notes, status, created_at
              FROM waiting_list
              WHERE tenant_id = ? AND date = ? AND status = ? AND (court_id IS NULL OR court_id = ?)
              ORDER BY created_at ASC, id ASC`
	rows, err := q.q.QueryContext(ctx, query, tenantID, date, models.WaitingPending, courtID)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting list: %w", translate(err))
	}
	defer rows.Close()

	var entries []*models.WaitingListEntry
	for rows.Next() {
		e := &models.WaitingListEntry{}
		var court sql.NullInt64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TenantID, &court, &e.Date, &e.Name, &e.Phone, &e.Notes, &e.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan waiting list entry: %w", err)
		}
		e.CourtID = int64Ptr(court)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *Queries) MarkWaitingEntriesNotified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, models.WaitingNotified)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE waiting_list SET status = ? WHERE id IN (` + placeholders + `)`
	if _, err := q.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark waiting list notified: %w", translate(err))
	}
	return nil
}
