package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SchedulerState is where the heartbeat schedule currently stands.
type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateScheduled
	StateRunning
	StateStopped
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler runs a cycle function once per period until stopped. The next
// cycle is armed only after the previous one returned, and a failing cycle
// halts the schedule until Start is called again.
type Scheduler struct {
	run    func(ctx context.Context) error
	period func() time.Duration
	log    zerolog.Logger

	mu     sync.Mutex
	state  SchedulerState
	active bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler returns an idle scheduler. period is consulted every time a
// cycle is armed, so changes apply from the next cycle on.
func NewScheduler(run func(ctx context.Context) error, period func() time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		run:    run,
		period: period,
		log:    logger,
	}
}

// State returns the current state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a schedule loop is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start arms the first cycle one period from now. It returns false when a
// schedule is already active or the scheduler has been stopped.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped || s.active {
		return false
	}
	s.active = true
	s.state = StateScheduled
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(s.stopCh, s.doneCh)
	return true
}

// Stop cancels the pending cycle. A cycle already running is left to finish
// and Stop returns once it has. Stopped is terminal.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.state = StateStopped
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}
}

func (s *Scheduler) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		timer := time.NewTimer(s.period())
		select {
		case <-stopCh:
			timer.Stop()
			s.finish()
			return
		case <-timer.C:
		}

		if !s.transition(StateScheduled, StateRunning) {
			s.finish()
			return
		}

		if err := s.run(context.Background()); err != nil {
			s.log.Warn().Msg("Heartbeat schedule halted until restarted")
			s.mu.Lock()
			if s.state == StateRunning {
				s.state = StateIdle
			}
			s.active = false
			s.mu.Unlock()
			return
		}

		if !s.transition(StateRunning, StateScheduled) {
			s.finish()
			return
		}
	}
}

func (s *Scheduler) transition(from, to SchedulerState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}
