package consolidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the time between scheduled consolidation passes.
const DefaultInterval = 24 * time.Hour

// runTimeout bounds a single scheduled pass across all users.
const runTimeout = 10 * time.Minute

// Scheduler runs consolidation periodically in the background for registered
// users. The first pass runs immediately on Start, then on the configured
// interval. A failed or panicking pass is logged and the scheduler waits for
// the next tick; a skipped cycle is safe because the stores stay consistent.
//
// All public methods are safe for concurrent use.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	userIDs map[string]struct{}
	running bool
	stopCh  chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between passes. Defaults to DefaultInterval.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithUsers pre-registers users to consolidate on each pass.
func WithUsers(userIDs ...string) SchedulerOption {
	return func(s *Scheduler) {
		for _, id := range userIDs {
			s.userIDs[id] = struct{}{}
		}
	}
}

// NewScheduler creates a scheduler. It does not start automatically; call
// Start to begin scheduled passes.
func NewScheduler(engine *Engine, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		engine:   engine,
		interval: DefaultInterval,
		logger:   logger,
		userIDs:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds a user to the consolidation rotation.
func (s *Scheduler) Register(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userIDs[userID] = struct{}{}
}

// Unregister removes a user from the rotation. Their stored memories are
// untouched.
func (s *Scheduler) Unregister(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userIDs, userID)
}

// Start begins the background loop and triggers an immediate first pass.
// Starting an already running scheduler returns an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("consolidation scheduler started",
		zap.Duration("interval", s.interval))

	go s.run(s.stopCh)
	return nil
}

// Stop signals the background loop to exit. Stopping a stopped scheduler is
// a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.logger.Info("consolidation scheduler stopped")
}

func (s *Scheduler) run(stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.safePass()

	for {
		select {
		case <-ticker.C:
			s.safePass()
		case <-stopCh:
			return
		}
	}
}

// safePass wraps a pass with panic recovery so one bad cycle cannot kill the
// scheduler goroutine.
func (s *Scheduler) safePass() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("consolidation pass panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	s.pass()
}

func (s *Scheduler) pass() {
	s.mu.Lock()
	users := make([]string, 0, len(s.userIDs))
	for id := range s.userIDs {
		users = append(users, id)
	}
	s.mu.Unlock()

	if len(users) == 0 {
		s.logger.Debug("no users registered for consolidation, skipping pass")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	for _, userID := range users {
		result, err := s.engine.Consolidate(ctx, userID)
		if err != nil {
			s.logger.Error("scheduled consolidation failed",
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		s.logger.Info("scheduled consolidation completed",
			zap.String("user_id", userID),
			zap.Int("patterns_created", result.PatternsCreated),
			zap.Int("rules_extracted", result.RulesExtracted),
			zap.Int("pruned", result.Pruned))
	}
}
