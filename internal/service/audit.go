package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"courtdesk/internal/database"
	"courtdesk/internal/events"

	"github.com/rs/zerolog"
)

// AuditStore persists audit entries.
type AuditStore interface {
	InsertAuditEntry(ctx context.Context, e *database.AuditEntry) error
	ListAuditEntries(ctx context.Context, tenantID, reservationID int64) ([]*database.AuditEntry, error)
}

// AuditRecorder writes every domain event to the audit log.
type AuditRecorder struct {
	store   AuditStore
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewAuditRecorder(store AuditStore, logger *zerolog.Logger) *AuditRecorder {
	return &AuditRecorder{store: store, timeout: 5 * time.Second, logger: logger}
}

// Attach subscribes the recorder to all events of the bus.
func (a *AuditRecorder) Attach(bus *events.EventBus) {
	bus.Subscribe(events.AllEvents, a.Handle)
}

func (a *AuditRecorder) Handle(event *events.Event) error {
	var ref struct {
		TenantID      int64 `json:"tenant_id"`
		ReservationID int64 `json:"reservation_id"`
	}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &ref); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.store.InsertAuditEntry(ctx, &database.AuditEntry{
		EventType:     event.Type,
		TenantID:      ref.TenantID,
		ReservationID: ref.ReservationID,
		Payload:       string(event.Payload),
		CreatedAt:     event.CreatedAt.UTC().Truncate(time.Second),
	})
}

// History lists the recorded events of a reservation, oldest first.
func (a *AuditRecorder) History(ctx context.Context, tenantID, reservationID int64) ([]*database.AuditEntry, error) {
	if reservationID <= 0 {
		return nil, validationError("reservation id is required")
	}
	entries, err := a.store.ListAuditEntries(ctx, tenantID, reservationID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	if entries == nil {
		entries = []*database.AuditEntry{}
	}
	return entries, nil
}
