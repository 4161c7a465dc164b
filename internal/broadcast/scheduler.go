package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Scheduler promotes due, time-scheduled campaigns into execution on a
// fixed interval. Executor errors are logged at the task boundary and
// never stop subsequent ticks.
type Scheduler struct {
	store    *Store
	executor *Executor
	interval time.Duration

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(store *Store, executor *Executor, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{store: store, executor: executor, interval: interval}
}

// Start launches the poll loop, ticking once immediately. Returns false
// when already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.WithField("interval", s.interval.String()).Info("campaign scheduler started")

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}
	s.cancel()
	<-s.done
	s.running.Store(false)
	log.Info("campaign scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.Due(time.Now())
	if err != nil {
		log.WithError(err).Error("scheduler query failed")
		return
	}

	for _, campaign := range due {
		log.WithField("campaign", campaign.Name).Info("promoting scheduled campaign")
		go func(id string) {
			if err := s.executor.Execute(ctx, id); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				log.WithField("campaign", id).WithError(err).Error("scheduled campaign execution failed")
			}
		}(campaign.ID)
	}
}
