package reminder

import (
	"time"
)

// searchHorizonDays bounds the recurrence scan. Any non-empty weekday subset
// fires at least once per 7 days, so 8 weeks always finds an occurrence for
// the schedule model this service supports.
const searchHorizonDays = 8 * 7

// NextRunAt computes the next instant, strictly after now, at which the
// schedule should fire, or nil when no future occurrence exists. It is pure:
// the same inputs always yield the same output, and the returned instant is
// normalized to UTC for storage. All wall-clock reasoning happens in the
// schedule's declared zone.
func NextRunAt(s Schedule, lastTriggeredAt *time.Time, startDate time.Time, endDate *time.Time, now time.Time) *time.Time {
	loc := s.Location()

	if s.Type == ScheduleOneTime {
		if s.At == nil {
			return nil
		}
		at := *s.At
		if !at.After(now) {
			return nil
		}
		if !startDate.IsZero() && at.Before(startDate) {
			return nil
		}
		if endDate != nil && at.After(*endDate) {
			return nil
		}
		utc := at.UTC()
		return &utc
	}

	times := s.effectiveTimes()
	days := s.effectiveDays()

	// The cursor anchors the day scan: resume from the last firing when one
	// exists, otherwise from now.
	cursor := now.In(loc)
	if lastTriggeredAt != nil {
		cursor = lastTriggeredAt.In(loc)
	}

	for i := 0; i < searchHorizonDays; i++ {
		day := cursor.AddDate(0, 0, i)
		if endDate != nil && startOfDay(day).After(*endDate) {
			// Every remaining candidate falls after the validity window.
			return nil
		}
		if !days[int(day.Weekday())] {
			continue
		}
		for _, tod := range times {
			h, m, err := parseTimeOfDay(tod)
			if err != nil {
				continue
			}
			candidate := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
			if !candidate.After(now) {
				continue
			}
			if !startDate.IsZero() && candidate.Before(startDate) {
				continue
			}
			if endDate != nil && candidate.After(*endDate) {
				continue
			}
			utc := candidate.UTC()
			return &utc
		}
	}

	return nil
}

// NextRunFor applies NextRunAt to a reminder's current state.
func NextRunFor(r *Reminder, now time.Time) *time.Time {
	return NextRunAt(r.Schedule, r.LastTriggeredAt, r.StartDate, r.EndDate, now)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
