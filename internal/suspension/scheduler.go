package suspension

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCheckInterval is how often the scheduler runs.
const DefaultCheckInterval = time.Hour

// Scheduler runs an Evaluator on start and then at a fixed interval.
type Scheduler struct {
	eval     *Evaluator
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   Report
	runs   int
}

func NewScheduler(e *Evaluator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Scheduler{eval: e, interval: interval, log: e.log}
}

// Start begins the loop. Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop ends the loop and waits for a running pass to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Last returns the latest completed report and how many runs completed.
func (s *Scheduler) Last() (Report, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	rep, err := s.eval.Run(ctx, TriggerScheduled)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("scheduled suspension run failed", zap.Error(err))
		}
		return
	}
	s.mu.Lock()
	s.last = rep
	s.runs++
	s.mu.Unlock()
}
