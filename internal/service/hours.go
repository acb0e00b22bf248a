package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"courtdesk/internal/models"
)

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", clock)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", clock)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", clock)
	}
	return h*60 + m, nil
}

// withinOpeningHours reports whether the local start falls in [open, close).
// close < open is an overnight window, close == open is open all day.
func withinOpeningHours(tenant *models.Tenant, startLocal time.Time) (bool, error) {
	openTime, closeTime := tenant.OpenTime, tenant.CloseTime
	if openTime == "" {
		openTime = models.DefaultOpenTime
	}
	if closeTime == "" {
		closeTime = models.DefaultCloseTime
	}
	open, err := parseClock(openTime)
	if err != nil {
		return false, err
	}
	closing, err := parseClock(closeTime)
	if err != nil {
		return false, err
	}

	at := startLocal.Hour()*60 + startLocal.Minute()
	switch {
	case open == closing:
		return true, nil
	case open < closing:
		return at >= open && at < closing, nil
	default:
		return at >= open || at < closing, nil
	}
}

// localDay is midnight of t's calendar day in loc.
func localDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
