package scheduler

import "time"

// RetryPolicy waits Initial before the first run, then Success after a
// successful run and Failure after a failed one.
type RetryPolicy struct {
	Initial time.Duration
	Success time.Duration
	Failure time.Duration
}

func (p RetryPolicy) FirstDeadline(now time.Time) time.Time {
	return now.Add(p.Initial)
}

func (p RetryPolicy) NextDeadline(now time.Time, err error) (time.Time, bool) {
	if err != nil {
		return now.Add(p.Failure), true
	}
	return now.Add(p.Success), true
}

// Fixed runs immediately and then every interval regardless of outcome.
func Fixed(interval time.Duration) RetryPolicy {
	return RetryPolicy{Success: interval, Failure: interval}
}

// PolicyFuncs adapts plain functions to Policy.
type PolicyFuncs struct {
	First func(now time.Time) time.Time
	Next  func(now time.Time, err error) (time.Time, bool)
}

func (p PolicyFuncs) FirstDeadline(now time.Time) time.Time {
	return p.First(now)
}

func (p PolicyFuncs) NextDeadline(now time.Time, err error) (time.Time, bool) {
	return p.Next(now, err)
}
