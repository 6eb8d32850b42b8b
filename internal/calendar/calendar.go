// Package calendar implements the exchange trading-day gate. Ingestion only
// runs on days the exchange was open.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/kfin-labs/lotledger/internal/infra/config"
)

const holidayLayout = "2006-01-02"

// Calendar answers whether a given date is an exchange trading day. Weekends
// and configured holidays are closed.
type Calendar struct {
	loc      *time.Location
	holidays map[string]struct{}
}

// New builds a Calendar from configuration. The configured timezone must be a
// valid IANA zone name.
func New(cfg config.CalendarConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, raw := range cfg.Holidays {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, err := time.Parse(holidayLayout, trimmed); err != nil {
			return nil, fmt.Errorf("holiday %q: want YYYY-MM-DD", raw)
		}
		holidays[trimmed] = struct{}{}
	}
	return &Calendar{loc: loc, holidays: holidays}, nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether the exchange is open on the date containing t.
// The instant is converted to the exchange timezone first.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := c.holidays[local.Format(holidayLayout)]
	return !closed
}

// Today returns midnight of the current date in the exchange timezone.
func (c *Calendar) Today(now time.Time) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// PreviousTradingDay walks backwards from the date containing t to the most
// recent earlier trading day.
func (c *Calendar) PreviousTradingDay(t time.Time) time.Time {
	day := c.Today(t)
	for {
		day = day.AddDate(0, 0, -1)
		if c.IsTradingDay(day) {
			return day
		}
	}
}
