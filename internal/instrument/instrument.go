// Package instrument builds weekly index option symbols.
package instrument

import (
	"fmt"
	"math"
	"strings"
	"time"

	"LegSentinel/internal/model"
)

const dateLayout = "2006-01-02"

// RoundToStep rounds price to the nearest multiple of step.
func RoundToStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}

// OffsetStrike moves atm by offsetPercent, up for calls and down for puts,
// and rounds to step. A negative offset flips the direction.
func OffsetStrike(atm, offsetPercent, step float64, t model.OptionType) float64 {
	f := offsetPercent / 100
	if t == model.Call {
		return RoundToStep(atm*(1+f), step)
	}
	return RoundToStep(atm*(1-f), step)
}

// RecoveryStrike is the strike for a recovery leg of type t. Puts are moved
// by +offset and calls by -offset, so a negative offset lands both sides
// out of the money.
func RecoveryStrike(atm, offsetPercent, step float64, t model.OptionType) float64 {
	f := offsetPercent / 100
	if t == model.Put {
		return RoundToStep(atm*(1+f), step)
	}
	return RoundToStep(atm*(1-f), step)
}

// Calendar knows which days the exchange is open.
type Calendar struct {
	holidays map[string]bool
	loc      *time.Location
}

// NewCalendar builds a calendar from YYYY-MM-DD holiday dates.
func NewCalendar(holidays []string, loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{holidays: make(map[string]bool, len(holidays)), loc: loc}
	for _, h := range holidays {
		c.holidays[strings.TrimSpace(h)] = true
	}
	return c
}

// IsHoliday reports whether d is a listed holiday.
func (c *Calendar) IsHoliday(d time.Time) bool {
	return c.holidays[d.In(c.loc).Format(dateLayout)]
}

// IsTradingDay reports whether the market is open on d.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = d.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(d)
}

// NextExpiry returns the next weekly expiry strictly after today, moved to
// the previous trading day while it falls on a holiday.
func (c *Calendar) NextExpiry(today time.Time, weekday time.Weekday) time.Time {
	today = today.In(c.loc)
	y, m, d := today.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, c.loc)

	ahead := (int(weekday) - int(day.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	expiry := day.AddDate(0, 0, ahead)
	for i := 0; i < 7 && !c.IsTradingDay(expiry); i++ {
		expiry = expiry.AddDate(0, 0, -1)
	}
	return expiry
}

// ExpiryCode renders the weekly expiry as yy + month code + dd where the
// month code is 1-9 then O, N, D.
func ExpiryCode(expiry time.Time) string {
	months := "123456789OND"
	return fmt.Sprintf("%02d%c%02d", expiry.Year()%100, months[expiry.Month()-1], expiry.Day())
}

// Symbol builds an option symbol such as NSE:NIFTY2571024500CE.
func Symbol(prefix string, expiry time.Time, strike float64, t model.OptionType) string {
	return fmt.Sprintf("%s%s%d%s", prefix, ExpiryCode(expiry), int64(math.Round(strike)), t)
}

// TypeOf returns the option type encoded in the symbol suffix.
func TypeOf(symbol string) (model.OptionType, bool) {
	switch {
	case strings.HasSuffix(symbol, string(model.Call)):
		return model.Call, true
	case strings.HasSuffix(symbol, string(model.Put)):
		return model.Put, true
	}
	return "", false
}
