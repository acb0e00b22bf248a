package service

import (
	"context"
	"fmt"

	"courtdesk/internal/domain"
	"courtdesk/internal/events"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
)

// BroadcastEvent is the realtime event name for reservation changes.
const BroadcastEvent = "booking-update"

// TenantChannel is the realtime channel of a tenant.
func TenantChannel(tenantID int64) string {
	return fmt.Sprintf("tenant-%d", tenantID)
}

// sideEffects hands best-effort work to the dispatcher and the event bus.
// Nothing here ever fails the caller.
type sideEffects struct {
	events domain.EventPublisher
	queue  domain.EffectQueue
	logger *zerolog.Logger
}

func (s sideEffects) publishEvent(eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to publish event")
	}
}

func (s sideEffects) enqueue(ctx context.Context, kind string, tenantID, reservationID int64, payload any) {
	if s.queue == nil {
		return
	}
	// The request may be finished by the time the task is persisted.
	ctx = context.WithoutCancel(ctx)
	if err := s.queue.Enqueue(ctx, kind, tenantID, reservationID, payload); err != nil {
		s.logger.Warn().
			Err(err).
			Str("kind", kind).
			Int64("tenant_id", tenantID).
			Int64("reservation_id", reservationID).
			Msg("Failed to enqueue side effect")
	}
}

func (s sideEffects) broadcastReservation(ctx context.Context, r *models.Reservation) {
	s.enqueue(ctx, models.EffectBroadcast, r.TenantID, r.ID, models.BroadcastPayload{
		Channel:     TenantChannel(r.TenantID),
		Event:       BroadcastEvent,
		Reservation: r,
	})
}

func (s sideEffects) broadcastDeletion(ctx context.Context, tenantID, reservationID int64) {
	s.enqueue(ctx, models.EffectBroadcast, tenantID, reservationID, models.BroadcastPayload{
		Channel: TenantChannel(tenantID),
		Event:   BroadcastEvent,
		Deleted: true,
		ID:      reservationID,
	})
}

func (s sideEffects) message(ctx context.Context, tenantID, reservationID int64, phone, text string) {
	if phone == "" || text == "" {
		return
	}
	s.enqueue(ctx, models.EffectMessage, tenantID, reservationID, models.MessagePayload{Phone: phone, Text: text})
}

func (s sideEffects) staffAlert(ctx context.Context, tenantID, reservationID int64, text string) {
	if text == "" {
		return
	}
	s.enqueue(ctx, models.EffectStaffAlert, tenantID, reservationID, models.StaffAlertPayload{Text: text})
}

func reservationPayload(r *models.Reservation) events.ReservationEventPayload {
	return events.ReservationEventPayload{
		TenantID:      r.TenantID,
		ReservationID: r.ID,
		CourtID:       r.CourtID,
		ClientID:      r.ClientID,
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Price:         r.Price,
		RecurringID:   r.RecurringID,
	}
}
