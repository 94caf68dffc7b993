package queue

import (
	"fmt"
	"time"
)

// Schedule decides when the producer pulls: every Every when set, else
// daily at the HH:MM local time At.
type Schedule struct {
	Every time.Duration
	At    string

	hour, minute int
}

// ParseSchedule validates and returns a Schedule.
func ParseSchedule(at string, every time.Duration) (Schedule, error) {
	s := Schedule{Every: every, At: at}
	if every < 0 {
		return Schedule{}, fmt.Errorf("invalid schedule interval %s", every)
	}
	if every > 0 {
		return s, nil
	}
	if at == "" {
		return Schedule{}, fmt.Errorf("schedule needs an interval or a time of day")
	}
	t, err := time.Parse("15:04", at)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule time %q: %w", at, err)
	}
	s.hour, s.minute = t.Hour(), t.Minute()
	return s, nil
}

// Next returns the first pull time strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	if s.Every > 0 {
		return now.Add(s.Every)
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (s Schedule) String() string {
	if s.Every > 0 {
		return "every " + s.Every.String()
	}
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}
