package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courtdesk/internal/models"
)

const effectColumns = `id, kind, tenant_id, reservation_id, payload, status, retry_count,
	last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateEffectTask(ctx context.Context, task *models.EffectTask) error {
	query := `INSERT INTO effect_queue (
				kind, tenant_id, reservation_id, payload, status, retry_count, last_error, created_at, next_retry_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	now := time.Now().UTC().Truncate(time.Second)
	var lastError sql.NullString
	if task.LastError != nil {
		lastError = nullString(*task.LastError)
	}
	result, err := db.ExecContext(ctx, query,
		task.Kind,
		task.TenantID,
		task.ReservationID,
		task.Payload,
		task.Status,
		task.RetryCount,
		lastError,
		formatTime(now),
		formatNullTime(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create effect task: %w", translate(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

// GetPendingEffectTasks returns due pending or retrying tasks, oldest first.
func (db *DB) GetPendingEffectTasks(ctx context.Context, limit int) ([]models.EffectTask, error) {
	query := `SELECT ` + effectColumns + ` FROM effect_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.listEffectTasks(ctx, query, models.TaskPending, models.TaskRetry, formatTime(time.Now()), limit)
}

// ClaimEffectTask moves a pending or retrying task to processing. It reports
// false when another path already took the task.
func (db *DB) ClaimEffectTask(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE effect_queue SET status = ? WHERE id = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query, models.TaskProcessing, id, models.TaskPending, models.TaskRetry)
	if err != nil {
		return false, fmt.Errorf("failed to claim effect task: %w", translate(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (db *DB) GetFailedEffectTasks(ctx context.Context) ([]models.EffectTask, error) {
	query := `SELECT ` + effectColumns + ` FROM effect_queue WHERE status = ? ORDER BY created_at DESC, id DESC`
	return db.listEffectTasks(ctx, query, models.TaskFailed)
}

func (db *DB) UpdateEffectTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	switch status {
	case models.TaskRetry:
		query = `UPDATE effect_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, nullString(errMsg), formatNullTime(nextRetryAt), id}
	case models.TaskCompleted, models.TaskFailed:
		query = `UPDATE effect_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, nullString(errMsg), formatNullTime(nextRetryAt), formatTime(now), id}
	default:
		query = `UPDATE effect_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, nullString(errMsg), formatNullTime(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update effect task status: %w", translate(err))
	}
	return nil
}

func (db *DB) listEffectTasks(ctx context.Context, query string, args ...any) ([]models.EffectTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list effect tasks: %w", translate(err))
	}
	defer rows.Close()

	var tasks []models.EffectTask
	for rows.Next() {
		var t models.EffectTask
		var lastError, processedAt, nextRetryAt sql.NullString
		var createdAt string
		err := rows.Scan(
			&t.ID, &t.Kind, &t.TenantID, &t.ReservationID, &t.Payload, &t.Status, &t.RetryCount,
			&lastError, &createdAt, &processedAt, &nextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan effect task: %w", err)
		}
		if lastError.Valid {
			msg := lastError.String
			t.LastError = &msg
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.ProcessedAt, err = parseNullTime(processedAt); err != nil {
			return nil, err
		}
		if t.NextRetryAt, err = parseNullTime(nextRetryAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
