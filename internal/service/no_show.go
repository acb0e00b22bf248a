package service

import (
	"context"
	"errors"

	"courtdesk/internal/database"
	"courtdesk/internal/domain"
	"courtdesk/internal/events"
	"courtdesk/internal/models"
)

// MarkNoShow flags an open reservation whose client never came. Products
// sold against it go back to stock. The slot stays taken and the money
// already collected stays in the register.
func (a *BookingAccounting) MarkNoShow(ctx context.Context, tenantID, reservationID int64) (*models.Reservation, error) {
	var r *models.Reservation
	err := a.store.InTx(ctx, func(q domain.Queries) error {
		var err error
		r, err = q.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		switch {
		case r.Status == models.StatusCanceled:
			return ErrReservationCanceled
		case r.Status == models.StatusNoShow:
			return ErrReservationNoShow
		case !r.IsOpen():
			return ErrInvalidTransition
		}
		if err := moveItemStock(ctx, q, r.ID, 1); err != nil {
			return err
		}
		return setStatus(ctx, q, r, models.StatusNoShow)
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("reservation_id", reservationID).
		Msg("Reservation marked as no-show")
	a.fx.publishEvent(events.EventReservationNoShow, reservationPayload(r))
	a.fx.broadcastReservation(ctx, r)
	return r, nil
}

// RevertNoShow restores a NO_SHOW reservation to CONFIRMED and takes its
// products out of stock again.
func (a *BookingAccounting) RevertNoShow(ctx context.Context, tenantID, reservationID int64) (*models.Reservation, error) {
	var r *models.Reservation
	err := a.store.InTx(ctx, func(q domain.Queries) error {
		var err error
		r, err = q.GetReservation(ctx, tenantID, reservationID)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if r.Status != models.StatusNoShow {
			return ErrNotNoShow
		}
		if err := moveItemStock(ctx, q, r.ID, -1); err != nil {
			return err
		}
		return setStatus(ctx, q, r, models.StatusConfirmed)
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("reservation_id", reservationID).
		Msg("No-show reverted")
	a.fx.publishEvent(events.EventNoShowReverted, reservationPayload(r))
	a.fx.broadcastReservation(ctx, r)
	return r, nil
}

// moveItemStock returns (sign 1) or takes back (sign -1) the product stock of
// a reservation's line items.
func moveItemStock(ctx context.Context, q domain.Queries, reservationID, sign int64) error {
	items, err := q.ListLineItems(ctx, reservationID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.ProductID == nil {
			continue
		}
		if err := q.AdjustStock(ctx, *item.ProductID, sign*item.Quantity); err != nil {
			if errors.Is(err, database.ErrInsufficientStock) {
				return ErrInsufficientStock
			}
			return err
		}
	}
	return nil
}

func setStatus(ctx context.Context, q domain.Queries, r *models.Reservation, status string) error {
	if err := q.UpdateReservationStatusWithVersion(ctx, r.ID, r.Version, status); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return ErrStaleReservation
		}
		return err
	}
	r.Status = status
	r.Version++
	return nil
}
