// Package scheduler runs background jobs on a timer whose next deadline
// depends on whether the previous run succeeded.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is one unit of scheduled work. A nil error counts as success.
type Job func(ctx context.Context) error

// Policy decides when a job runs.
type Policy interface {
	// FirstDeadline is the first run time after Start.
	FirstDeadline(now time.Time) time.Time
	// NextDeadline is the run time following a completed run. Returning
	// false disables the scheduler.
	NextDeadline(now time.Time, err error) (time.Time, bool)
}

// Config configures a Scheduler.
type Config struct {
	Name   string
	Job    Job
	Policy Policy
	Now    func() time.Time // optional, defaults to time.Now
}

// Scheduler runs a Job repeatedly. Start and Stop are idempotent, runs never
// overlap, and a run in flight when Stop is called completes without
// re-arming the timer.
type Scheduler struct {
	name   string
	job    Job
	policy Policy
	now    func() time.Time

	mu          sync.Mutex
	stopCh      chan struct{} // non-nil iff enabled
	cancelRun   context.CancelFunc
	lastFailure time.Time
	runs        uint64

	runMu sync.Mutex
	wg    sync.WaitGroup
}

// New creates a stopped Scheduler.
func New(cfg Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	name := cfg.Name
	if name == "" {
		name = "job"
	}
	return &Scheduler{
		name:   name,
		job:    cfg.Job,
		policy: cfg.Policy,
		now:    now,
	}
}

// Start arms the timer at the policy's first deadline. No-op when running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.wg.Add(1)
	go s.loop(stopCh)
}

// Stop cancels the pending timer. A run already in progress is allowed to
// finish. No-op when stopped. Safe to call from within the job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableLocked(nil)
}

// Cancel stops the scheduler and cancels the context of a run in progress.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableLocked(nil)
	if s.cancelRun != nil {
		s.cancelRun()
	}
}

// Enabled reports whether the timer is armed or a run is scheduled.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// LastFailure returns the completion time of the most recent failed run,
// cleared by the next successful run.
func (s *Scheduler) LastFailure() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailure, !s.lastFailure.IsZero()
}

// Runs returns the number of completed runs.
func (s *Scheduler) Runs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Wait blocks until every timer goroutine has exited. Call it after Stop.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// disableLocked closes the current stop channel. When only is non-nil the
// scheduler is disabled only if that channel is still current.
func (s *Scheduler) disableLocked(only chan struct{}) {
	if s.stopCh == nil {
		return
	}
	if only != nil && s.stopCh != only {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
}

func (s *Scheduler) untilDeadline(deadline time.Time) time.Duration {
	d := deadline.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.wg.Done()

	timer := time.NewTimer(s.untilDeadline(s.policy.FirstDeadline(s.now())))
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		ran, err := s.runOnce(stopCh)
		if !ran {
			return
		}

		next, ok := s.policy.NextDeadline(s.now(), err)
		if !ok {
			log.Printf("[scheduler:%s] disabled by policy", s.name)
			s.mu.Lock()
			s.disableLocked(stopCh)
			s.mu.Unlock()
			return
		}

		select {
		case <-stopCh:
			return
		default:
		}
		timer.Reset(s.untilDeadline(next))
	}
}

// runOnce executes the job unless stopCh closed while waiting for a
// previous run (possibly from an earlier Start) to release the run lock.
func (s *Scheduler) runOnce(stopCh chan struct{}) (bool, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	select {
	case <-stopCh:
		return false, nil
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	err := s.job(ctx)
	cancel()

	s.mu.Lock()
	s.cancelRun = nil
	s.runs++
	if err != nil {
		s.lastFailure = s.now()
	} else {
		s.lastFailure = time.Time{}
	}
	s.mu.Unlock()
	return true, err
}
