// Package recurrence expands a routine's recurrence rule into concrete trigger instants.
package recurrence

import (
	"fmt"
	"sort"
	"time"

	"reminder-notify-backend/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	// maxScanDays bounds how many calendar days past the start of the scan are examined.
	maxScanDays = 3660
)

// Error reports a malformed recurrence rule.
type Error struct {
	RoutineID string
	Field     string
	Reason    string
}

func (e *Error) Error() string {
	if e.RoutineID == "" {
		return fmt.Sprintf("invalid recurrence %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("routine %s: invalid recurrence %s: %s", e.RoutineID, e.Field, e.Reason)
}

// Horizon bounds an expansion. A zero Until or Limit means no bound on that axis, but at
// least one of them must be set.
type Horizon struct {
	Until time.Time
	Limit int
}

// rule is a validated, parsed RecurrenceRule.
type rule struct {
	freq     model.Frequency
	interval int
	weekdays map[time.Weekday]bool
	hour     int
	minute   int
	start    time.Time // local midnight of the start date
	until    time.Time // local midnight of the until date, zero if unset
	count    int
	loc      *time.Location
}

// Validate checks a routine's rule and timezone without expanding it.
func Validate(r *model.Routine) error {
	_, err := parse(r)
	return err
}

// Expand returns the routine's occurrences strictly after `after`, ascending and
// deduplicated, bounded by h. Each occurrence keeps the anchor's local wall-clock time
// in the routine's timezone. On a malformed rule nothing is returned.
func Expand(r *model.Routine, h Horizon, after time.Time) ([]time.Time, error) {
	ru, err := parse(r)
	if err != nil {
		return nil, err
	}
	if h.Until.IsZero() && h.Limit <= 0 {
		return nil, &Error{RoutineID: r.ID, Field: "horizon", Reason: "either until or limit is required"}
	}

	afterLocal := after.In(ru.loc)
	scanEnd := time.Date(afterLocal.Year(), afterLocal.Month(), afterLocal.Day()+maxScanDays, 0, 0, 0, 0, ru.loc)

	var out []time.Time
	seen := make(map[int64]bool)
	emitted := 0
	for day := ru.start; !day.After(scanEnd); day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, ru.loc) {
		if !ru.until.IsZero() && day.After(ru.until) {
			break
		}
		if !ru.matches(day) {
			continue
		}
		emitted++
		if ru.count > 0 && emitted > ru.count {
			break
		}

		occ := time.Date(day.Year(), day.Month(), day.Day(), ru.hour, ru.minute, 0, 0, ru.loc).UTC()
		if !occ.After(after) {
			continue
		}
		if !h.Until.IsZero() && occ.After(h.Until) {
			break
		}
		if seen[occ.Unix()] {
			continue
		}
		seen[occ.Unix()] = true
		out = append(out, occ)
		if h.Limit > 0 && len(out) >= h.Limit {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func parse(r *model.Routine) (*rule, error) {
	fail := func(field, format string, args ...any) error {
		return &Error{RoutineID: r.ID, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	tz := r.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fail("timezone", "unknown timezone %q", r.Timezone)
	}

	rr := r.Rule
	anchor, err := time.Parse(timeLayout, rr.AnchorTime)
	if err != nil {
		return nil, fail("anchorTime", "expected HH:MM, got %q", rr.AnchorTime)
	}
	start, err := time.ParseInLocation(dateLayout, rr.StartDate, loc)
	if err != nil {
		return nil, fail("startDate", "expected YYYY-MM-DD, got %q", rr.StartDate)
	}

	ru := &rule{
		freq:     rr.Frequency,
		interval: rr.Interval,
		hour:     anchor.Hour(),
		minute:   anchor.Minute(),
		start:    start,
		count:    rr.Count,
		loc:      loc,
	}

	if rr.Until != "" {
		until, err := time.ParseInLocation(dateLayout, rr.Until, loc)
		if err != nil {
			return nil, fail("until", "expected YYYY-MM-DD, got %q", rr.Until)
		}
		if until.Before(start) {
			return nil, fail("until", "%s is before start date %s", rr.Until, rr.StartDate)
		}
		ru.until = until
	}
	if rr.Count < 0 {
		return nil, fail("count", "must not be negative")
	}
	if rr.Interval < 0 {
		return nil, fail("interval", "must not be negative")
	}

	switch rr.Frequency {
	case model.FrequencyDaily, model.FrequencyMonthly:
		if ru.interval == 0 {
			ru.interval = 1
		}
	case model.FrequencyWeekly:
		if ru.interval == 0 {
			ru.interval = 1
		}
		if len(rr.Weekdays) == 0 {
			return nil, fail("weekdays", "weekly recurrence needs at least one weekday")
		}
		ru.weekdays = make(map[time.Weekday]bool, len(rr.Weekdays))
		for _, wd := range rr.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return nil, fail("weekdays", "invalid weekday %d", wd)
			}
			ru.weekdays[wd] = true
		}
	case model.FrequencyNDays:
		if ru.interval < 1 {
			return nil, fail("interval", "must be at least 1 for n_days recurrence")
		}
	default:
		return nil, fail("frequency", "unsupported frequency %q", rr.Frequency)
	}

	return ru, nil
}

// matches reports whether the local date `day` (at midnight) carries an occurrence.
func (ru *rule) matches(day time.Time) bool {
	switch ru.freq {
	case model.FrequencyDaily, model.FrequencyNDays:
		return daysBetween(ru.start, day)%ru.interval == 0
	case model.FrequencyWeekly:
		if !ru.weekdays[day.Weekday()] {
			return false
		}
		weeks := daysBetween(weekStart(ru.start), weekStart(day)) / 7
		return weeks%ru.interval == 0
	case model.FrequencyMonthly:
		if day.Day() != ru.start.Day() {
			return false
		}
		months := (day.Year()-ru.start.Year())*12 + int(day.Month()-ru.start.Month())
		return months%ru.interval == 0
	}
	return false
}

// daysBetween counts calendar days from a to b, both local midnights. It goes through
// UTC dates so a 23h or 25h DST day still counts as one.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// weekStart returns the Sunday that starts day's week.
func weekStart(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()-int(day.Weekday()), 0, 0, 0, 0, day.Location())
}
