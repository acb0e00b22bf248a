package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"courtdesk/internal/domain"
	"courtdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Quote is a resolved slot price.
type Quote struct {
	Price       decimal.Decimal `json:"price"`
	RuleID      int64           `json:"rule_id,omitempty"`
	MemberPrice bool            `json:"member_price,omitempty"`
	Discounted  bool            `json:"discounted,omitempty"`
	Unmatched   bool            `json:"unmatched,omitempty"`
	Duration    int             `json:"duration"`
}

// CourtLookup finds a tenant's court.
type CourtLookup interface {
	GetCourt(ctx context.Context, tenantID, courtID int64) (*models.Court, error)
}

// PriceResolver prices slots from a tenant's prioritized rules.
type PriceResolver struct {
	source domain.ConfigSource
	courts CourtLookup
	logger *zerolog.Logger
}

func NewPriceResolver(source domain.ConfigSource, courts CourtLookup, logger *zerolog.Logger) *PriceResolver {
	return &PriceResolver{source: source, courts: courts, logger: logger}
}

// Resolve prices a slot starting at slotStart. Matching happens on the
// tenant-local weekday and "HH:MM" start clock.
func (p *PriceResolver) Resolve(ctx context.Context, tenantID int64, slotStart time.Time, durationMinutes int, isMember bool, discountPercent decimal.Decimal) (Quote, error) {
	tenant, err := p.source.GetTenant(ctx, tenantID)
	if err != nil {
		return Quote{}, notFound(err, ErrTenantNotFound)
	}
	loc, err := tenant.Location()
	if err != nil {
		return Quote{}, err
	}
	rules, err := p.source.ListPriceRules(ctx, tenantID)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to load price rules: %w", err)
	}

	local := slotStart.In(loc)
	quote := Quote{Duration: durationMinutes}

	rule := matchRule(rules, local)
	if rule == nil {
		if tenant.RejectUnpriced {
			return Quote{}, ErrNoPriceRule
		}
		p.logger.Warn().
			Int64("tenant_id", tenantID).
			Time("slot_start", local).
			Msg("No price rule matched, defaulting to 0")
		quote.Price = decimal.Zero
		quote.Unmatched = true
		return quote, nil
	}

	quote.RuleID = rule.ID
	quote.Price = rule.Price
	switch {
	case isMember && rule.MemberPrice.Valid:
		quote.Price = rule.MemberPrice.Decimal
		quote.MemberPrice = true
	case isMember && discountPercent.IsPositive():
		off := rule.Price.Mul(discountPercent).Div(hundred)
		quote.Price = rule.Price.Sub(off).Round(2)
		quote.Discounted = true
	}
	return quote, nil
}

// Estimate prices a court slot given a local date and "HH:MM" start.
func (p *PriceResolver) Estimate(ctx context.Context, tenantID, courtID int64, date, clock string, isMember bool) (Quote, error) {
	tenant, err := p.source.GetTenant(ctx, tenantID)
	if err != nil {
		return Quote{}, notFound(err, ErrTenantNotFound)
	}
	loc, err := tenant.Location()
	if err != nil {
		return Quote{}, err
	}
	start, err := time.ParseInLocation(models.DateLayout+" "+models.ClockLayout, date+" "+clock, loc)
	if err != nil {
		return Quote{}, validationError("invalid date or time: %s %s", date, clock)
	}

	var court *models.Court
	if courtID > 0 && p.courts != nil {
		if court, err = p.courts.GetCourt(ctx, tenantID, courtID); err != nil {
			return Quote{}, notFound(err, ErrCourtNotFound)
		}
	}
	return p.Resolve(ctx, tenantID, start, tenant.SlotMinutes(court), isMember, decimal.Zero)
}

// matchRule returns the first valid rule by priority covering the local start.
func matchRule(rules []*models.PriceRule, local time.Time) *models.PriceRule {
	candidates := make([]*models.PriceRule, 0, len(rules))
	for _, r := range rules {
		if r.ValidOn(local) {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})

	clock := local.Format(models.ClockLayout)
	for _, r := range candidates {
		if r.AppliesOn(local.Weekday()) && r.Covers(clock) {
			return r
		}
	}
	return nil
}
