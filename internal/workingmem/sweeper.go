package workingmem

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the background sweeper runs ClearExpired.
const DefaultSweepInterval = 15 * time.Minute

// Sweeper periodically clears expired sessions from a Registry.
//
// The sweep itself is Registry.ClearExpired, a pure function of (registry,
// now); the sweeper only supplies the timer and the clock.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewSweeper creates a sweeper for the registry. interval <= 0 falls back to
// DefaultSweepInterval.
func NewSweeper(registry *Registry, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Start launches the background sweep loop. Starting an already running
// sweeper returns an error.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("working memory sweeper started",
		zap.Duration("interval", s.interval))

	go s.run(s.stopCh)
	return nil
}

// Stop halts the sweep loop. Stopping a stopped sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.logger.Info("working memory sweeper stopped")
}

func (s *Sweeper) run(stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.registry.ClearExpired(s.now())
		case <-stopCh:
			return
		}
	}
}
