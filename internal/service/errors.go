package service

import (
	"errors"
	"fmt"

	"courtdesk/internal/database"
)

// Kind classifies business errors for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindRule
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindRule:
		return "rule"
	default:
		return "internal"
	}
}

// Error is a business error safe to show to callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_request", Message: fmt.Sprintf(format, args...)}
}

var (
	ErrSlotTaken           = newError(KindConflict, "slot_taken", "the court is already booked for that time")
	ErrRegisterAlreadyOpen = newError(KindConflict, "register_already_open", "a cash register is already open")
	ErrRegisterNotOpen     = newError(KindConflict, "register_not_open", "cash register is not open")
	ErrInvalidTransition   = newError(KindConflict, "invalid_transition", "reservation cannot change to that status")
	ErrStaleReservation    = newError(KindConflict, "stale_reservation", "reservation was modified concurrently")
	ErrReservationCanceled = newError(KindConflict, "reservation_canceled", "reservation is canceled")
	ErrReservationNoShow   = newError(KindConflict, "reservation_no_show", "reservation is marked as no-show")
	ErrNotNoShow           = newError(KindConflict, "not_no_show", "reservation is not marked as no-show")
	ErrReservationNotFound = newError(KindNotFound, "reservation_not_found", "reservation not found")
	ErrRegisterNotFound    = newError(KindNotFound, "register_not_found", "cash register not found")
	ErrCourtNotFound       = newError(KindNotFound, "court_not_found", "court not found")
	ErrTenantNotFound      = newError(KindNotFound, "tenant_not_found", "tenant not found")
	ErrProductNotFound     = newError(KindNotFound, "product_not_found", "product not found")
	ErrLineItemNotFound    = newError(KindNotFound, "line_item_not_found", "line item not found")
	ErrClientNotFound      = newError(KindNotFound, "client_not_found", "client not found")
	ErrOutsideOpeningHours = newError(KindRule, "outside_opening_hours", "the slot is outside opening hours")
	ErrNoPriceRule         = newError(KindRule, "no_price_rule", "no price rule matches the slot")
	ErrInsufficientStock   = newError(KindRule, "insufficient_stock", "not enough stock for the product")
	ErrNoOpenRegister      = newError(KindRule, "no_open_register", "open a cash register first")
	ErrCourtInactive       = newError(KindRule, "court_inactive", "court is not accepting reservations")
	ErrPaymentLinkFailed   = newError(KindRule, "payment_link_failed", "payment link could not be created")
	ErrNothingOutstanding  = newError(KindRule, "nothing_outstanding", "reservation has no outstanding balance")
)

// KindOf returns the kind of a business error, KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// notFound maps a storage miss onto the given business error.
func notFound(err error, target *Error) error {
	if errors.Is(err, database.ErrNotFound) {
		return target
	}
	return err
}
