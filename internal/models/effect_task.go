package models

import "time"

// Effect kinds handled by the dispatcher.
const (
	EffectBroadcast  = "broadcast"
	EffectMessage    = "message"
	EffectStaffAlert = "staff_alert"
)

// Effect task states.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskRetry      = "retry"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// EffectTask is a persisted side-effect job.
type EffectTask struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	TenantID      int64      `json:"tenant_id"`
	ReservationID int64      `json:"reservation_id"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}

// BroadcastPayload is a realtime update for tenant screens.
type BroadcastPayload struct {
	Channel     string       `json:"channel"`
	Event       string       `json:"event"`
	Reservation *Reservation `json:"reservation,omitempty"`
	Deleted     bool         `json:"deleted,omitempty"`
	ID          int64        `json:"id,omitempty"`
}

// MessagePayload is an outbound text for a phone number.
type MessagePayload struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// StaffAlertPayload is a short notice for facility staff.
type StaffAlertPayload struct {
	Text string `json:"text"`
}
