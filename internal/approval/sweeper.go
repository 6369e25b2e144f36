package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// Sweeper periodically moves overdue pending requests to expired so
// long-running deployments do not depend on anyone invoking the expire
// operation by hand.
type Sweeper struct {
	svc      *Service
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
	running bool
}

// NewSweeper creates a sweeper for svc. An interval <= 0 uses the
// default.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{svc: svc, interval: interval}
}

// IsRunning returns true when the sweep loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the periodic sweep loop. Idempotent.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.stopped = make(chan struct{})
	s.running = true

	go s.loop(s.stopCh, s.stopped)
	slog.Info("approval expiry sweeper started", "interval", s.interval.String())
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	stopped := s.stopped
	s.running = false
	s.stopCh = nil
	s.stopped = nil
	s.mu.Unlock()

	close(stopCh)
	<-stopped
	slog.Info("approval expiry sweeper stopped")
}

func (s *Sweeper) loop(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := s.svc.ProcessExpired(context.Background()); err != nil {
				slog.Warn("approval expiry sweep failed", "error", err)
			}
		}
	}
}
