package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventReservationCreated     = "reservation.created"
	EventReservationConfirmed   = "reservation.confirmed"
	EventReservationCompleted   = "reservation.completed"
	EventReservationCanceled    = "reservation.canceled"
	EventReservationRescheduled = "reservation.rescheduled"
	EventReservationNoShow      = "reservation.no_show"
	EventNoShowReverted         = "reservation.no_show_reverted"
	EventPaymentRecorded        = "payment.recorded"
	EventRegisterOpened         = "register.opened"
	EventRegisterClosed         = "register.closed"
	EventMovementRecorded       = "register.movement"
	EventKioskSale              = "kiosk.sale"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// ReservationEventPayload is the reservation snapshot handed to event consumers.
type ReservationEventPayload struct {
	TenantID      int64           `json:"tenant_id"`
	ReservationID int64           `json:"reservation_id"`
	CourtID       int64           `json:"court_id"`
	ClientID      int64           `json:"client_id"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Price         decimal.Decimal `json:"price"`
	RecurringID   string          `json:"recurring_id,omitempty"`
}

// PaymentEventPayload describes a recorded payment or refund.
type PaymentEventPayload struct {
	TenantID      int64           `json:"tenant_id"`
	ReservationID int64           `json:"reservation_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Category      string          `json:"category"`
	PaymentStatus string          `json:"payment_status"`
	Path          string          `json:"path,omitempty"`
}

// RegisterEventPayload describes a register lifecycle step or manual movement.
type RegisterEventPayload struct {
	TenantID   int64           `json:"tenant_id"`
	RegisterID int64           `json:"register_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Difference decimal.Decimal `json:"difference"`
	Type       string          `json:"type,omitempty"`
	Category   string          `json:"category,omitempty"`
}

// KioskSalePayload describes a counter sale that is not tied to a reservation.
type KioskSalePayload struct {
	TenantID    int64           `json:"tenant_id"`
	RegisterID  int64           `json:"register_id"`
	ClientID    *int64          `json:"client_id,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Description string          `json:"description"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a callback for handler failures. Handlers never fail the publisher.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type, or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type, then wildcard subscribers.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
