// Package workingmem holds ephemeral per-session execution context.
//
// Sessions live in an in-process registry keyed by session ID. Every mutation
// stamps the session's last-touched time from an injected clock; the expiry
// sweep is a pure function of (registry, now), so tests never need real
// timers. A session is owned by one execution flow at a time, which is why
// the registry only guards its own map and copies snapshots out.
package workingmem

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxRecentEvents caps the recent-event ring; the oldest entry is
	// evicted first.
	MaxRecentEvents = 50

	// DefaultTTL is how long an untouched session survives before
	// ClearExpired removes it.
	DefaultTTL = time.Hour

	// summaryEventCount is how many trailing events GetSummary renders.
	summaryEventCount = 5
)

// ErrSessionNotFound is returned when a session ID is not registered.
var ErrSessionNotFound = errors.New("working memory session not found")

// PlanningField names one of the four planning-state sets.
type PlanningField string

const (
	PlanningHypotheses    PlanningField = "hypotheses"
	PlanningNextActions   PlanningField = "next_actions"
	PlanningUncertainties PlanningField = "uncertainties"
	PlanningBlockers      PlanningField = "blockers"
)

// PlanningState tracks in-flight reasoning for a session. Each field is an
// ordered, de-duplicated set.
type PlanningState struct {
	Hypotheses    []string `json:"hypotheses,omitempty"`
	NextActions   []string `json:"next_actions,omitempty"`
	Uncertainties []string `json:"uncertainties,omitempty"`
	Blockers      []string `json:"blockers,omitempty"`
}

// WorkingMemory is a snapshot of one session's state. Registry methods return
// copies; mutating a snapshot never affects the registry.
type WorkingMemory struct {
	UserID        string            `json:"user_id"`
	SessionID     string            `json:"session_id"`
	CurrentGoal   string            `json:"current_goal"`
	ActiveContext map[string]string `json:"active_context,omitempty"`
	RecentEvents  []string          `json:"recent_events,omitempty"`
	Attention     []string          `json:"attention,omitempty"`
	Planning      PlanningState     `json:"planning"`
	LastTouched   time.Time         `json:"last_touched"`
}

// Registry is the in-process keyed store for working memory sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*WorkingMemory
	now      func() time.Time
	ttl      time.Duration
	logger   *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects the time source used for last-touched stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithTTL overrides the session inactivity TTL (default 1 hour).
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty session registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*WorkingMemory),
		now:      time.Now,
		ttl:      DefaultTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize registers a fresh session. Re-initializing an existing session
// ID overwrites it (last writer wins).
func (r *Registry) Initialize(userID, sessionID, goal string) error {
	if userID == "" {
		return errors.New("user ID cannot be empty")
	}
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = &WorkingMemory{
		UserID:        userID,
		SessionID:     sessionID,
		CurrentGoal:   goal,
		ActiveContext: make(map[string]string),
		LastTouched:   r.now(),
	}

	r.logger.Debug("working memory session initialized",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID))
	return nil
}

// touch must be called with the write lock held.
func (r *Registry) touch(wm *WorkingMemory) {
	wm.LastTouched = r.now()
}

// SetGoal replaces the session's current goal.
func (r *Registry) SetGoal(sessionID, goal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	wm.CurrentGoal = goal
	r.touch(wm)
	return nil
}

// AddContext sets a key in the session's scratchpad.
func (r *Registry) AddContext(sessionID, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	wm.ActiveContext[key] = value
	r.touch(wm)
	return nil
}

// GetContext reads a key from the session's scratchpad. The second return
// reports whether the key was present.
func (r *Registry) GetContext(sessionID, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return "", false, ErrSessionNotFound
	}
	value, present := wm.ActiveContext[key]
	return value, present, nil
}

// AddEvent appends to the session's recent events, evicting the oldest entry
// once the ring holds MaxRecentEvents.
func (r *Registry) AddEvent(sessionID, event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	wm.RecentEvents = append(wm.RecentEvents, event)
	if len(wm.RecentEvents) > MaxRecentEvents {
		wm.RecentEvents = wm.RecentEvents[len(wm.RecentEvents)-MaxRecentEvents:]
	}
	r.touch(wm)
	return nil
}

// AddAttention adds items to the attention set, preserving first-seen order
// and dropping duplicates.
func (r *Registry) AddAttention(sessionID string, items ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	wm.Attention = addUnique(wm.Attention, items)
	r.touch(wm)
	return nil
}

// RemoveAttention drops an item from the attention set. Removing an absent
// item is a no-op.
func (r *Registry) RemoveAttention(sessionID, item string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	wm.Attention = remove(wm.Attention, item)
	r.touch(wm)
	return nil
}

// AddPlanning adds items to one planning-state set, de-duplicated in order.
func (r *Registry) AddPlanning(sessionID string, field PlanningField, items ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	set, err := wm.Planning.field(field)
	if err != nil {
		return err
	}
	*set = addUnique(*set, items)
	r.touch(wm)
	return nil
}

// SetPlanning replaces one planning-state set with the given items,
// de-duplicated in order.
func (r *Registry) SetPlanning(sessionID string, field PlanningField, items ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	set, err := wm.Planning.field(field)
	if err != nil {
		return err
	}
	*set = addUnique(nil, items)
	r.touch(wm)
	return nil
}

// RemovePlanning drops an item from one planning-state set.
func (r *Registry) RemovePlanning(sessionID string, field PlanningField, item string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	set, err := wm.Planning.field(field)
	if err != nil {
		return err
	}
	*set = remove(*set, item)
	r.touch(wm)
	return nil
}

// ClearPlanning resets all four planning fields to empty.
func (r *Registry) ClearPlanning(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	wm.Planning = PlanningState{}
	r.touch(wm)
	return nil
}

func (p *PlanningState) field(f PlanningField) (*[]string, error) {
	switch f {
	case PlanningHypotheses:
		return &p.Hypotheses, nil
	case PlanningNextActions:
		return &p.NextActions, nil
	case PlanningUncertainties:
		return &p.Uncertainties, nil
	case PlanningBlockers:
		return &p.Blockers, nil
	}
	return nil, fmt.Errorf("unknown planning field %q", f)
}

// Snapshot returns a deep copy of the session state. It does not touch the
// session.
func (r *Registry) Snapshot(sessionID string) (*WorkingMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(wm), nil
}

// GetSummary renders the session as deterministic text: the goal, the
// scratchpad (keys sorted), attention, planning state, and the last five
// events. Identical state always yields identical output.
func (r *Registry) GetSummary(sessionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wm, ok := r.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", wm.CurrentGoal)

	if len(wm.ActiveContext) > 0 {
		b.WriteString("Context:\n")
		keys := make([]string, 0, len(wm.ActiveContext))
		for k := range wm.ActiveContext {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, wm.ActiveContext[k])
		}
	}

	if len(wm.Attention) > 0 {
		fmt.Fprintf(&b, "Attention: %s\n", strings.Join(wm.Attention, ", "))
	}

	writePlanning(&b, "Hypotheses", wm.Planning.Hypotheses)
	writePlanning(&b, "Next actions", wm.Planning.NextActions)
	writePlanning(&b, "Uncertainties", wm.Planning.Uncertainties)
	writePlanning(&b, "Blockers", wm.Planning.Blockers)

	if len(wm.RecentEvents) > 0 {
		b.WriteString("Recent events:\n")
		start := len(wm.RecentEvents) - summaryEventCount
		if start < 0 {
			start = 0
		}
		for _, ev := range wm.RecentEvents[start:] {
			fmt.Fprintf(&b, "  - %s\n", ev)
		}
	}

	return b.String(), nil
}

func writePlanning(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

// Clear removes a session. It reports whether the session existed.
func (r *Registry) Clear(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// ClearExpired removes every session whose last-touched time is older than
// the TTL relative to now, and returns the removed count. The decision
// depends only on registry contents and the now argument.
func (r *Registry) ClearExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, wm := range r.sessions {
		if now.Sub(wm.LastTouched) > r.ttl {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("expired working memory sessions cleared",
			zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func copySession(wm *WorkingMemory) *WorkingMemory {
	cp := *wm
	cp.ActiveContext = make(map[string]string, len(wm.ActiveContext))
	for k, v := range wm.ActiveContext {
		cp.ActiveContext[k] = v
	}
	cp.RecentEvents = append([]string(nil), wm.RecentEvents...)
	cp.Attention = append([]string(nil), wm.Attention...)
	cp.Planning = PlanningState{
		Hypotheses:    append([]string(nil), wm.Planning.Hypotheses...),
		NextActions:   append([]string(nil), wm.Planning.NextActions...),
		Uncertainties: append([]string(nil), wm.Planning.Uncertainties...),
		Blockers:      append([]string(nil), wm.Planning.Blockers...),
	}
	return &cp
}

func addUnique(set []string, items []string) []string {
	for _, item := range items {
		found := false
		for _, existing := range set {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			set = append(set, item)
		}
	}
	return set
}

func remove(set []string, item string) []string {
	for i, existing := range set {
		if existing == item {
			return append(set[:i], set[i+1:]...)
		}
	}
	return set
}
