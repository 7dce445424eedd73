package symbol

import (
	"fmt"
	"strings"
	"time"
)

// InTradingHours reports whether symbol accepts orders at now. Schedules
// are read in the directory's GMT offset. Weekends are open only for
// symbols with no weekday schedule at all.
func (d *Directory) InTradingHours(name string, now time.Time) bool {
	s := d.symbols[name]
	if s == nil {
		return false
	}
	local := now.UTC().Add(time.Duration(d.gmtOffset) * time.Hour)
	minute := local.Hour()*60 + local.Minute()

	sched := s.Schedule
	if d.legacyWeekday {
		// Tuesday historically resolved to Thursday, then fell through to
		// Wednesday; the weekend test also saw Thursday in Tuesday's slot.
		sched[1] = sched[3]
	}

	switch wd := local.Weekday(); wd {
	case time.Saturday, time.Sunday:
		for _, r := range sched {
			if r != "" {
				return false
			}
		}
		return true
	case time.Tuesday:
		if d.legacyWeekday {
			return inSchedule(sched[2], minute)
		}
		return inSchedule(sched[1], minute)
	default:
		return inSchedule(sched[int(wd)-1], minute)
	}
}

// inSchedule checks minute-of-day against "HH:MM-HH:MM|HH:MM-HH:MM".
// An empty schedule is open all day.
func inSchedule(schedule string, minute int) bool {
	if schedule == "" {
		return true
	}
	for _, part := range strings.Split(schedule, "|") {
		start, end, err := parseRange(part)
		if err != nil {
			continue
		}
		t := minute
		if end < start {
			end += 24 * 60
			if t < start {
				t += 24 * 60
			}
		}
		if t >= start && t <= end {
			return true
		}
	}
	return false
}

func parseRange(s string) (start, end int, err error) {
	var sh, sm, eh, em int
	if _, err = fmt.Sscanf(strings.TrimSpace(s), "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return 0, 0, fmt.Errorf("parse range %q: %w", s, err)
	}
	return sh*60 + sm, eh*60 + em, nil
}

// ValidateSchedule checks every range of a schedule string.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	for _, part := range strings.Split(schedule, "|") {
		if _, _, err := parseRange(part); err != nil {
			return err
		}
	}
	return nil
}
