// Package schedule computes the next occurrence of a compact schedule spec.
//
// A spec is a whitespace/comma-separated, case-insensitive token list:
//
//   - frequency keywords: "hourly", "daily", "weekly", "monthly"
//   - weekday names (matched by 3-letter prefix): "mon" .. "sun"
//   - a time of day "HH:MM", where HH may be "*" (next hour after from)
//
// Examples: "daily 14:30", "mon wed fri 09:00", "monthly 02:00", "hourly".
//
// A "cron:" prefix switches to a standard cron expression instead
// (e.g. "cron:*/30 * * * *").
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var weekdayNames = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// cronParser accepts classic 5-field expressions plus @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Next returns the first occurrence of spec strictly after from (with one
// minute of slack so a from that exactly matches a slot still advances).
// ok is false when the spec is empty or contains no recognized token: such
// a profile is manual-only and never scheduled.
func Next(spec string, from time.Time) (next time.Time, ok bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, false
	}

	if expr, isCron := strings.CutPrefix(strings.ToLower(spec), "cron:"); isCron {
		sched, err := cronParser.Parse(strings.TrimSpace(expr))
		if err != nil {
			return time.Time{}, false
		}
		return sched.Next(from), true
	}

	from = from.Add(time.Minute)

	monthDays := map[int]bool{} // empty means any day of month
	weekDays := map[int]bool{}  // empty means any weekday; mon=0 .. sun=6
	hour, minute := 0, 0
	matched := false

	for _, part := range strings.Fields(strings.ToLower(strings.ReplaceAll(spec, ",", " "))) {
		switch {
		case part == "monthly":
			monthDays = map[int]bool{1: true}
			matched = true
		case part == "weekly":
			weekDays[0] = true
			matched = true
		case part == "daily":
			for d := 0; d < 7; d++ {
				weekDays[d] = true
			}
			matched = true
		case part == "hourly":
			hour, minute = from.Hour()+1, 0
			matched = true
		case len(part) >= 3 && weekdayIndex(part[:3]) >= 0:
			weekDays[weekdayIndex(part[:3])] = true
			matched = true
		default:
			if h, m, err := parseHHMM(part, from.Hour()+1); err == nil {
				hour, minute = h, m
				matched = true
			}
		}
	}

	if !matched {
		return time.Time{}, false
	}

	// Scan forward day by day, at most one full month. time.Date normalizes
	// overflow (hour 24 from an "hourly" spec at 23:xx rolls to the next day).
	y, m, d := from.Date()
	for i := 0; i < 32; i++ {
		cand := time.Date(y, m, d+i, hour, minute, 0, 0, from.Location())
		if len(monthDays) > 0 && !monthDays[cand.Day()] {
			continue
		}
		if len(weekDays) > 0 && !weekDays[mondayIndex(cand.Weekday())] {
			continue
		}
		if !cand.Before(from) {
			return cand, true
		}
	}
	return time.Time{}, false
}

// Valid reports whether spec would produce occurrences. The empty spec is
// valid (it means "manual only").
func Valid(spec string) bool {
	if strings.TrimSpace(spec) == "" {
		return true
	}
	_, ok := Next(spec, time.Now())
	return ok
}

func weekdayIndex(s string) int {
	for i, n := range weekdayNames {
		if s == n {
			return i
		}
	}
	return -1
}

// mondayIndex converts Go's Sunday-based weekday to mon=0 .. sun=6.
func mondayIndex(w time.Weekday) int {
	return (int(w) + 6) % 7
}

func parseHHMM(s string, wildcardHour int) (int, int, error) {
	hh, mm, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, fmt.Errorf("not a time token: %q", s)
	}
	var h int
	if hh == "*" {
		h = wildcardHour
	} else {
		var err error
		if h, err = strconv.Atoi(hh); err != nil || h < 0 || h > 23 {
			return 0, 0, fmt.Errorf("invalid hour in %q", s)
		}
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minutes in %q", s)
	}
	return h, m, nil
}
