package policy

import (
	"sort"
	"time"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// BusinessDays counts weekdays in the inclusive range [start, end] that are
// not covered by a holiday event. It returns 0 when end precedes start.
func BusinessDays(start, end time.Time, events []domain.CalendarEvent) int {
	start, end = domain.Day(start), domain.Day(end)
	if end.Before(start) {
		return 0
	}
	holidays := filterKind(events, domain.EventHoliday)
	n := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if domain.IsWeekend(d) || coveredByAny(holidays, d) {
			continue
		}
		n++
	}
	return n
}

// FirstBlackoutConflict returns the earliest blackout event overlapping
// [start, end], or nil.
func FirstBlackoutConflict(start, end time.Time, events []domain.CalendarEvent) *domain.CalendarEvent {
	blackouts := filterKind(events, domain.EventBlackout)
	sort.SliceStable(blackouts, func(i, j int) bool {
		if !blackouts[i].Start.Equal(blackouts[j].Start) {
			return blackouts[i].Start.Before(blackouts[j].Start)
		}
		return blackouts[i].Name < blackouts[j].Name
	})
	for i := range blackouts {
		if blackouts[i].Overlaps(start, end) {
			ev := blackouts[i]
			return &ev
		}
	}
	return nil
}

func filterKind(events []domain.CalendarEvent, kind domain.EventKind) []domain.CalendarEvent {
	var out []domain.CalendarEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func coveredByAny(events []domain.CalendarEvent, day time.Time) bool {
	for i := range events {
		if events[i].Covers(day) {
			return true
		}
	}
	return false
}
