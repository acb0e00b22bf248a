package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Client is a tenant-scoped customer keyed by phone.
type Client struct {
	ID               int64     `json:"id"`
	TenantID         int64     `json:"tenant_id"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email,omitempty"`
	MembershipStatus string    `json:"membership_status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsMember reports an active membership.
func (c *Client) IsMember() bool {
	return c.MembershipStatus == MembershipActive
}

// Membership links a client to a plan discount.
type Membership struct {
	ID              int64           `json:"id"`
	ClientID        int64           `json:"client_id"`
	PlanName        string          `json:"plan_name"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Status          string          `json:"status"`
	EndDate         time.Time       `json:"end_date"`
}

// Reservation occupies a court for [StartTime, EndTime).
// Price is a snapshot taken at creation time.
type Reservation struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	CourtID       int64           `json:"court_id"`
	ClientID      int64           `json:"client_id"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Price         decimal.Decimal `json:"price"`
	RecurringID   string          `json:"recurring_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Overlaps reports whether [start, end) intersects the reservation interval.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && start.Before(r.EndTime)
}

// IsOpen reports a PENDING or CONFIRMED reservation. COMPLETED and NO_SHOW
// no longer accept cancellation or rescheduling.
func (r *Reservation) IsOpen() bool {
	return r.Status == StatusPending || r.Status == StatusConfirmed
}

// ParticipantCharge bills one named participant of a reservation.
type ParticipantCharge struct {
	ID            int64           `json:"id"`
	ReservationID int64           `json:"reservation_id"`
	Name          string          `json:"name"`
	Amount        decimal.Decimal `json:"amount"`
	IsPaid        bool            `json:"is_paid"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Product is a point-of-sale article with tracked stock.
type Product struct {
	ID       int64           `json:"id"`
	TenantID int64           `json:"tenant_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int64           `json:"stock"`
	IsActive bool            `json:"is_active"`
}

// LineItem is a product sold against a reservation.
type LineItem struct {
	ID            int64           `json:"id"`
	ReservationID int64           `json:"reservation_id"`
	ProductID     *int64          `json:"product_id,omitempty"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	PlayerName    string          `json:"player_name,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Total is quantity times unit price.
func (i *LineItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// WaitingListEntry is a request to be told when a slot frees up.
type WaitingListEntry struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	CourtID   *int64    `json:"court_id,omitempty"`
	Date      string    `json:"date"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Notes     string    `json:"notes,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentLinkRequest describes an online payment for the gateway.
type PaymentLinkRequest struct {
	TenantID      int64           `json:"tenant_id"`
	ReservationID int64           `json:"reservation_id"`
	Title         string          `json:"title"`
	Amount        decimal.Decimal `json:"amount"`
	PayerPhone    string          `json:"payer_phone,omitempty"`
	PayerEmail    string          `json:"payer_email,omitempty"`
}
