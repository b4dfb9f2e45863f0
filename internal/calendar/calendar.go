// Package calendar decides which calendar dates and times can be booked.
//
// Everything here is a pure function of its inputs. "Now" is always passed in
// by the caller, already converted to the location the facility operates in.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LeadDays is how many days ahead of today the earliest bookable date lies.
const LeadDays = 7

var (
	ErrMalformedDate = errors.New("date must be formatted as YYYY-MM-DD")
	ErrUnknownTime   = errors.New("time is not one of the daily slots")
)

// slotGrid is the fixed daily grid, hourly from 08:00 to 17:00.
var slotGrid = [...]string{
	"08:00", "09:00", "10:00", "11:00", "12:00",
	"13:00", "14:00", "15:00", "16:00", "17:00",
}

// Reason explains why a date was not bookable.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonTooSoon Reason = "too_soon"
	ReasonWeekend Reason = "weekend"
)

// Verdict is the result of checking a candidate date.
type Verdict struct {
	Requested Date
	Valid     bool
	Reason    Reason
	// Suggested is the closest bookable date on or after Requested.
	// It equals Requested when the date is valid.
	Suggested Date
}

// Slots returns the daily grid in order. The returned slice is a copy.
func Slots() []string {
	out := make([]string, len(slotGrid))
	copy(out, slotGrid[:])
	return out
}

// IsSlot reports whether t is exactly one of the grid values.
func IsSlot(t string) bool {
	for _, s := range slotGrid {
		if s == t {
			return true
		}
	}
	return false
}

// ParseTime accepts "HH:MM" or "HH:MM:SS" and returns the canonical grid value.
func ParseTime(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var (
		parsed time.Time
		err    error
	)
	if strings.Count(raw, ":") == 2 {
		parsed, err = time.Parse("15:04:05", raw)
	} else {
		parsed, err = time.Parse("15:04", raw)
	}
	if err != nil || parsed.Second() != 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownTime, raw)
	}
	canonical := parsed.Format("15:04")
	if !IsSlot(canonical) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTime, raw)
	}
	return canonical, nil
}

// IsWeekend reports whether d falls on a Saturday or Sunday.
func IsWeekend(d Date) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// NextWeekday returns d itself when it is a weekday, otherwise the following Monday.
func NextWeekday(d Date) Date {
	for IsWeekend(d) {
		d = d.AddDays(1)
	}
	return d
}

// MinBookableDate is today plus LeadDays, moved forward past a weekend.
func MinBookableDate(now time.Time) Date {
	return NextWeekday(DateOf(now).AddDays(LeadDays))
}

// Check decides whether d can be booked when the request is made at now.
func Check(now time.Time, d Date) Verdict {
	minDate := MinBookableDate(now)
	switch {
	case d.Before(minDate):
		return Verdict{Requested: d, Reason: ReasonTooSoon, Suggested: minDate}
	case IsWeekend(d):
		return Verdict{Requested: d, Reason: ReasonWeekend, Suggested: NextWeekday(d)}
	}
	return Verdict{Requested: d, Valid: true, Suggested: d}
}
