package clock

import "time"

// Clock is the time source for event timestamps, task run-at times and dispatch
// records
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem returns the wall clock in UTC
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type fixedClock struct {
	now time.Time
}

// NewFixed returns a clock stopped at t, for tests
func NewFixed(t time.Time) Clock {
	return fixedClock{now: t.UTC()}
}

func (f fixedClock) Now() time.Time {
	return f.now
}
