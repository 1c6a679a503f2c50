package ics

import (
	"cmp"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "housecal/internal/log"
	"housecal/internal/model"
)

// maxInstances caps the expansion of a single recurring event.
const maxInstances = 2000

// maxSpanDays caps how many days one instance is projected onto.
const maxSpanDays = 62

// Expand projects events onto the days from..to (inclusive) as seen in loc.
// Recurring events are expanded with their RRULE minus EXDATEs, and
// instances replaced by a RECURRENCE-ID override take the override's
// fields. An instance spanning several days appears on each of them.
//
// The result is ordered by date, all-day events first, then time and title.
func Expand(events []Event, from, to model.Date, loc *time.Location) []model.ExternalEvent {
	if loc == nil {
		loc = time.Local
	}
	if to.Before(from) {
		return nil
	}
	rangeStart := from.In(loc)
	rangeEnd := to.AddDays(1).In(loc)

	bases := make(map[string][]Event)
	overrides := make(map[string][]Event)
	var uids []string
	for _, ev := range events {
		key := ev.Source.ID + "\x00" + ev.UID
		if ev.RecurrenceID != nil {
			overrides[key] = append(overrides[key], ev)
			continue
		}
		if _, ok := bases[key]; !ok {
			uids = append(uids, key)
		}
		bases[key] = append(bases[key], ev)
	}

	var out []model.ExternalEvent
	for _, key := range uids {
		for _, ev := range bases[key] {
			for _, inst := range instances(ev, overrides[key], rangeStart, rangeEnd) {
				out = append(out, project(inst, from, to, loc)...)
			}
		}
	}

	slices.SortStableFunc(out, func(a, b model.ExternalEvent) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if a.AllDay != b.AllDay {
			if a.AllDay {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(a.Time, b.Time), cmp.Compare(a.Title, b.Title))
	})
	return out
}

// instances returns the concrete copies of ev intersecting [rangeStart,
// rangeEnd), with overrides applied.
func instances(ev Event, overrides []Event, rangeStart, rangeEnd time.Time) []Event {
	if ev.RRule == "" {
		if overlaps(ev.Start, ev.End, rangeStart, rangeEnd) {
			return []Event{ev}
		}
		return nil
	}

	opt, err := rrule.StrToROption(ev.RRule)
	if err != nil {
		appLog.Warn("ics bad RRULE", "uid", ev.UID, "rrule", ev.RRule, "error", err)
		return nil
	}
	opt.Dtstart = ev.Start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Warn("ics bad RRULE", "uid", ev.UID, "rrule", ev.RRule, "error", err)
		return nil
	}

	set := &rrule.Set{}
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex)
	}

	dur := ev.End.Sub(ev.Start)
	// Start the search early enough to catch instances that began before
	// the range and are still running.
	starts := set.Between(rangeStart.Add(-dur), rangeEnd, true)
	if len(starts) > maxInstances {
		appLog.Warn("ics recurrence truncated", "uid", ev.UID, "instances", len(starts), "cap", maxInstances)
		starts = starts[:maxInstances]
	}

	out := make([]Event, 0, len(starts))
	for _, start := range starts {
		inst := ev
		inst.RRule = ""
		inst.ExDates = nil
		inst.Start = start
		inst.End = start.Add(dur)
		if o, ok := findOverride(overrides, start); ok {
			inst = o
		}
		if overlaps(inst.Start, inst.End, rangeStart, rangeEnd) {
			out = append(out, inst)
		}
	}
	return out
}

func findOverride(overrides []Event, start time.Time) (Event, bool) {
	for _, o := range overrides {
		if o.RecurrenceID.Equal(start) {
			return o, true
		}
	}
	return Event{}, false
}

// overlaps treats zero-length events as occupying their start instant.
func overlaps(start, end, rangeStart, rangeEnd time.Time) bool {
	if !end.After(start) {
		return !start.Before(rangeStart) && start.Before(rangeEnd)
	}
	return start.Before(rangeEnd) && end.After(rangeStart)
}

// project turns one instance into a row per covered day within from..to.
// All-day events keep their civil dates; timed events are shown in loc.
func project(ev Event, from, to model.Date, loc *time.Location) []model.ExternalEvent {
	var first, last model.Date
	label := "All Day"
	if ev.AllDay {
		first = model.DateOf(ev.Start)
		// DTEND of an all-day event is exclusive.
		last = model.DateOf(ev.End).AddDays(-1)
	} else {
		start, end := ev.Start.In(loc), ev.End.In(loc)
		first = model.DateOf(start)
		last = first
		if end.After(start) {
			last = model.DateOf(end.Add(-time.Nanosecond))
		}
		label = start.Format("15:04")
	}
	if last.Before(first) {
		last = first
	}
	first = model.MaxDate(first, from)
	last = model.MinDate(last, to)

	var out []model.ExternalEvent
	for d, n := first, 0; !d.After(last) && n < maxSpanDays; d, n = d.AddDays(1), n+1 {
		out = append(out, model.ExternalEvent{
			Source:      ev.Source.Label(),
			UID:         ev.UID,
			Date:        d,
			Time:        label,
			Title:       ev.Summary,
			Description: ev.Description,
			Location:    ev.Location,
			AllDay:      ev.AllDay,
		})
	}
	return out
}
