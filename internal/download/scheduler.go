package download

import (
	"context"
	"time"
)

// scheduler periodically promotes due scheduled tasks into the pending queue.
type scheduler struct {
	manager  *Manager
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func newScheduler(m *Manager, interval time.Duration) *scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{
		manager:  m,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins the promotion loop in the background
func (s *scheduler) Start() {
	go s.run()
}

// Stop stops the loop and waits for it to exit. Safe to call multiple times.
func (s *scheduler) Stop() {
	s.cancel()
	<-s.done
}

func (s *scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.manager.promoteDue(s.manager.now())
		}
	}
}
