package booking

import "time"

// MatchSchedule finds the weekly template entry for a concrete date and start
// time. Matching is exact on day of week and start time.
func MatchSchedule(d *Doctor, date time.Time, startTime string) (ScheduleSlot, bool) {
	weekday := DateOf(date).Weekday()
	for _, s := range d.Schedule {
		if s.DayOfWeek == weekday && s.StartTime == startTime {
			return s, true
		}
	}
	return ScheduleSlot{}, false
}

// NormalizeSchedule validates a doctor's weekly template before it is saved and
// returns a copy with start times in HH:MM form.
func NormalizeSchedule(slots []ScheduleSlot) ([]ScheduleSlot, error) {
	out := make([]ScheduleSlot, 0, len(slots))
	seen := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		if s.DayOfWeek < time.Sunday || s.DayOfWeek > time.Saturday {
			return nil, reject(ErrInvalidRequest, "Invalid day of week %d.", s.DayOfWeek)
		}
		st, err := NormalizeStartTime(s.StartTime)
		if err != nil {
			return nil, reject(ErrInvalidRequest, "Invalid start time %q.", s.StartTime)
		}
		if s.MaxCapacity < 1 {
			return nil, reject(ErrInvalidRequest, "Max patients for %s %s must be at least 1.", s.DayOfWeek, st)
		}
		k := s.DayOfWeek.String() + " " + st
		if _, dup := seen[k]; dup {
			return nil, reject(ErrInvalidRequest, "Schedule already has an entry for %s.", k)
		}
		seen[k] = struct{}{}

		s.StartTime = st
		out = append(out, s)
	}
	return out, nil
}
