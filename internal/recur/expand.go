// Package recur expands recurring templates into the concrete days that fall
// inside the sliding materialization window.
package recur

import (
	"fmt"
	"iter"

	"github.com/teambition/rrule-go"

	appLog "housecal/internal/log"
	"housecal/internal/model"
)

const (
	DefaultBackDays  = 30
	DefaultAheadDays = 60
)

// Window is the sliding range around an anchor day in which occurrences are
// materialized. Both horizons are inclusive.
type Window struct {
	Back  int // days before the anchor
	Ahead int // days after the anchor
}

// DefaultWindow is 30 days back and 60 days ahead.
func DefaultWindow() Window {
	return Window{Back: DefaultBackDays, Ahead: DefaultAheadDays}
}

func (w Window) normalized() Window {
	if w.Back < 0 {
		w.Back = 0
	}
	if w.Ahead < 0 {
		w.Ahead = 0
	}
	return w
}

// Bounds returns the effective inclusive range for t:
//
//	lower = max(start, anchor-Back)
//	upper = min(end, anchor+Ahead)
//
// ok is false when the range is empty.
func Bounds(t model.RecurringTemplate, anchor model.Date, w Window) (lower, upper model.Date, ok bool) {
	w = w.normalized()
	lower = model.MaxDate(t.StartDate, anchor.AddDays(-w.Back))
	upper = anchor.AddDays(w.Ahead)
	if t.EndDate != nil {
		upper = model.MinDate(upper, *t.EndDate)
	}
	return lower, upper, !upper.Before(lower)
}

// Expand yields the days of t inside the window around anchor, ascending.
//
// The sequence is stepped from t.StartDate so the recurrence keeps its
// phase; days before the lower bound are generated and dropped. It is finite,
// safe to stop early, and restartable.
//
// Monthly templates keep the start's day of month and clamp it to the last
// day of shorter months: a template starting on Jan 31 yields Feb 29 (or 28),
// Mar 31, Apr 30, ... Exactly one day per month.
func Expand(t model.RecurringTemplate, anchor model.Date, w Window) iter.Seq[model.Date] {
	return func(yield func(model.Date) bool) {
		lower, upper, ok := Bounds(t, anchor, w)
		if !ok {
			return
		}
		rule, err := Rule(t, upper)
		if err != nil {
			appLog.Error("recur: cannot expand template", err, "template", t.ID, "frequency", t.Frequency)
			return
		}
		next := rule.Iterator()
		for {
			at, ok := next()
			if !ok {
				return
			}
			day := model.DateOf(at)
			if day.After(upper) {
				return
			}
			if day.Before(lower) {
				continue
			}
			if !yield(day) {
				return
			}
		}
	}
}

// Dates collects Expand into a slice.
func Dates(t model.RecurringTemplate, anchor model.Date, w Window) []model.Date {
	var out []model.Date
	for d := range Expand(t, anchor, w) {
		out = append(out, d)
	}
	return out
}

// Rule builds the RFC 5545 rule for t, bounded by until (inclusive).
func Rule(t model.RecurringTemplate, until model.Date) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart:  t.StartDate.Time(),
		Until:    until.Time(),
		Interval: 1,
	}

	switch t.Frequency {
	case model.Daily:
		opt.Freq = rrule.DAILY
	case model.Weekly:
		opt.Freq = rrule.WEEKLY
	case model.Monthly:
		opt.Freq = rrule.MONTHLY
		if day := t.StartDate.Day(); day > 28 {
			// BYMONTHDAY=28..day;BYSETPOS=-1 picks the start's day when the
			// month has it and the month's last day otherwise.
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return nil, fmt.Errorf("%w: frequency %q", model.ErrInvalidTemplate, t.Frequency)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rule for template %s: %w", t.ID, err)
	}
	return r, nil
}
