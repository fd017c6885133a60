package host

import "time"

// onceSchedule is a cron.Schedule that yields a single activation.
// Cron asks for Next once when the entry is added (or at Start) and once
// after the run; the second answer is the zero time, which cron never fires.
type onceSchedule struct {
	at   time.Time
	used bool
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.used {
		return time.Time{}
	}
	s.used = true
	if t.After(s.at) {
		return t
	}
	return s.at
}
