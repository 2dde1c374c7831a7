package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	backoffMultiplier = 2
	backoffCap        = 8 // in intervals
	defaultCooldown   = 30 * time.Minute
)

// Alerter receives operator alerts about failing jobs.
type Alerter interface {
	Alert(ctx context.Context, job string, err error)
}

// Scheduler runs named jobs forever, each on its own goroutine. A job name
// never runs concurrently with itself; different names are independent.
// Failures back off exponentially and raise throttled operator alerts.
type Scheduler struct {
	alerter  Alerter
	cooldown time.Duration

	mu        sync.Mutex
	lastAlert map[string]time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

func New(alerter Alerter) *Scheduler {
	return &Scheduler{
		alerter:   alerter,
		cooldown:  defaultCooldown,
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Run starts the job loop. It returns immediately; the loop runs for the
// lifetime of the process.
func (s *Scheduler) Run(name string, interval time.Duration, job func(context.Context) error) {
	go s.loop(name, interval, job)
}

func (s *Scheduler) loop(name string, interval time.Duration, job func(context.Context) error) {
	log.Printf("Job %s scheduled every %s", name, interval)

	delay := interval
	for {
		start := s.now()
		err := runJob(job)
		elapsed := s.now().Sub(start)

		wait := delay
		if err != nil {
			log.Printf("Job %s failed after %s: %v", name, elapsed, err)
			s.maybeAlert(name, err)
			delay = nextDelay(delay, interval)
		} else {
			delay = interval
			wait = interval
		}

		if remaining := wait - elapsed; remaining > 0 {
			s.sleep(remaining)
		}
	}
}

// runJob executes one iteration. A panicking job is converted into an error
// so the loop survives anything the job does.
func runJob(job func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(context.Background())
}

// nextDelay doubles the backoff, capped at 8 intervals.
func nextDelay(delay, interval time.Duration) time.Duration {
	next := delay * backoffMultiplier
	if limit := interval * backoffCap; next > limit {
		next = limit
	}
	return next
}

// maybeAlert forwards the failure to the operator unless an alert for the
// same job went out within the cooldown window.
func (s *Scheduler) maybeAlert(name string, err error) {
	if s.alerter == nil {
		return
	}

	now := s.now()
	s.mu.Lock()
	if last, ok := s.lastAlert[name]; ok && now.Sub(last) < s.cooldown {
		s.mu.Unlock()
		return
	}
	s.lastAlert[name] = now
	s.mu.Unlock()

	s.alerter.Alert(context.Background(), name, err)
}
