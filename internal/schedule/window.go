package schedule

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

var policyValidator = validator.New()

// ValidatePolicy rejects policies that can never produce a sendable instant.
// Failing loudly here is what keeps NextSendable's day iteration bounded.
func ValidatePolicy(p models.SendingPolicy) error {
	if err := policyValidator.Struct(p); err != nil {
		return configErrorf("invalid sending policy: %v", err)
	}
	if len(p.ActiveWeekdays) == 0 {
		return configErrorf("sending policy has no active weekdays")
	}
	for _, d := range p.ActiveWeekdays {
		if d < 0 || d > 6 {
			return configErrorf("active weekday %d out of range", d)
		}
	}
	if p.HourStart >= p.HourEnd {
		return configErrorf("hour range [%d, %d) is empty", p.HourStart, p.HourEnd)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return configErrorf("unknown timezone %q", p.Timezone)
	}
	return nil
}

func activeDaySet(p models.SendingPolicy) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(p.ActiveWeekdays))
	for _, d := range p.ActiveWeekdays {
		set[time.Weekday(d)] = true
	}
	return set
}

// IsSendable reports whether t, rendered in the policy timezone, falls on an
// active weekday inside [HourStart, HourEnd).
func IsSendable(t time.Time, p models.SendingPolicy) (bool, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return false, configErrorf("unknown timezone %q", p.Timezone)
	}
	if len(p.ActiveWeekdays) == 0 {
		return false, configErrorf("sending policy has no active weekdays")
	}
	lt := t.In(loc)
	if !activeDaySet(p)[lt.Weekday()] {
		return false, nil
	}
	return lt.Hour() >= p.HourStart && lt.Hour() < p.HourEnd, nil
}

// NextSendable advances t to the next sendable instant. An already-sendable
// instant is returned unchanged, which makes the function idempotent and
// monotonic non-decreasing.
//
// The day walk is bounded: a policy with at least one active weekday resolves
// within eight iterations, and anything else fails loudly instead of looping.
func NextSendable(t time.Time, p models.SendingPolicy) (time.Time, error) {
	ok, err := IsSendable(t, p)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return t, nil
	}

	loc, _ := time.LoadLocation(p.Timezone)
	active := activeDaySet(p)
	lt := t.In(loc)

	for i := 0; i < 8; i++ {
		day := lt.AddDate(0, 0, i)
		if !active[day.Weekday()] {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), p.HourStart, 0, 0, 0, loc)
		if i == 0 {
			if lt.Before(start) {
				return start, nil
			}
			// At or past HourEnd today; move on to the next active day.
			continue
		}
		return start, nil
	}
	return time.Time{}, configErrorf("no sendable instant within a week of %s", lt.Format(time.RFC3339))
}

// startOfNextDay returns midnight of the calendar day after t in loc.
func startOfNextDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
}
