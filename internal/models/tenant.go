package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tenant is a facility operator with its own scheduling configuration.
type Tenant struct {
	ID             int64     `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Slug           string    `json:"slug" yaml:"slug"`
	OpenTime       string    `json:"open_time" yaml:"open_time"`
	CloseTime      string    `json:"close_time" yaml:"close_time"`
	SlotDuration   int       `json:"slot_duration" yaml:"slot_duration"`
	Timezone       string    `json:"timezone" yaml:"timezone"`
	RejectUnpriced bool      `json:"reject_unpriced" yaml:"reject_unpriced"`
	NotifyClients  bool      `json:"notify_clients" yaml:"notify_clients"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// Location resolves the tenant timezone, falling back to UTC when unset.
func (t *Tenant) Location() (*time.Location, error) {
	if strings.TrimSpace(t.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tenant %d timezone %q: %w", t.ID, t.Timezone, err)
	}
	return loc, nil
}

// SlotMinutes returns the slot length for a court, honoring its override.
func (t *Tenant) SlotMinutes(court *Court) int {
	if court != nil && court.SlotDuration > 0 {
		return court.SlotDuration
	}
	if t.SlotDuration > 0 {
		return t.SlotDuration
	}
	return DefaultSlotDuration
}

// Court is a bookable resource.
type Court struct {
	ID           int64  `json:"id" yaml:"id"`
	TenantID     int64  `json:"tenant_id" yaml:"-"`
	Name         string `json:"name" yaml:"name"`
	IsActive     bool   `json:"is_active" yaml:"is_active"`
	SortOrder    int64  `json:"sort_order" yaml:"sort_order"`
	SlotDuration int    `json:"slot_duration,omitempty" yaml:"slot_duration"`
}

// PriceRule prices slots by weekday and local time window.
// Days use time.Weekday numbering (0 = Sunday); an empty set means every day.
type PriceRule struct {
	ID          int64               `json:"id"`
	TenantID    int64               `json:"tenant_id"`
	Name        string              `json:"name"`
	DaysOfWeek  []int               `json:"days_of_week"`
	StartTime   string              `json:"start_time"`
	EndTime     string              `json:"end_time"`
	Priority    int                 `json:"priority"`
	Price       decimal.Decimal     `json:"price"`
	MemberPrice decimal.NullDecimal `json:"member_price"`
	StartDate   *time.Time          `json:"start_date,omitempty"`
	EndDate     *time.Time          `json:"end_date,omitempty"`
}

// ValidOn reports whether the rule's validity window contains the local date.
func (r *PriceRule) ValidOn(day time.Time) bool {
	if r.StartDate == nil && r.EndDate == nil {
		return true
	}
	d := day.Format(DateLayout)
	if r.StartDate != nil && d < r.StartDate.Format(DateLayout) {
		return false
	}
	if r.EndDate != nil && d > r.EndDate.Format(DateLayout) {
		return false
	}
	return true
}

// AppliesOn reports whether the weekday is in the rule's day set.
func (r *PriceRule) AppliesOn(day time.Weekday) bool {
	if len(r.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range r.DaysOfWeek {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

// Covers reports whether the clock falls in [StartTime, EndTime).
// Windows that wrap past midnight never match.
func (r *PriceRule) Covers(clock string) bool {
	at, err := ClockMinutes(clock)
	if err != nil {
		return false
	}
	start, err := ClockMinutes(r.StartTime)
	if err != nil {
		return false
	}
	end, err := ClockMinutes(r.EndTime)
	if err != nil {
		return false
	}
	return at >= start && at < end
}

// ClockMinutes converts a "15:04" clock to minutes since midnight. An
// unpadded hour such as "8:00" is accepted.
func ClockMinutes(clock string) (int, error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(clock))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", clock)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// NormalizeClock rewrites a clock in the zero-padded "HH:MM" form.
func NormalizeClock(clock string) (string, error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(clock))
	if err != nil {
		return "", fmt.Errorf("invalid clock %q", clock)
	}
	return t.Format(ClockLayout), nil
}

// FormatDays renders the weekday set as stored ("0,6").
func FormatDays(days []int) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

// ParseDays parses a stored weekday set.
func ParseDays(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q: %w", p, err)
		}
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("weekday out of range: %d", d)
		}
		days = append(days, d)
	}
	return days, nil
}
