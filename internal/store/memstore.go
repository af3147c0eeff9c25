package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// MemFactualStore is an in-memory FactualStore.
//
// It backs tests and degraded local mode. All operations are safe for
// concurrent use.
type MemFactualStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*memory.FactualMemory // userID -> id -> record
	now     func() time.Time
}

// MemOption configures an in-memory store.
type MemOption func(*memClock)

type memClock struct {
	now func() time.Time
}

// WithClock injects a clock, used by tests to control record timestamps.
func WithClock(now func() time.Time) MemOption {
	return func(c *memClock) {
		c.now = now
	}
}

// NewMemFactualStore creates an empty in-memory factual store.
func NewMemFactualStore(opts ...MemOption) *MemFactualStore {
	c := &memClock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return &MemFactualStore{
		records: make(map[string]map[string]*memory.FactualMemory),
		now:     c.now,
	}
}

func (s *MemFactualStore) Store(_ context.Context, m *memory.FactualMemory) (*memory.FactualMemory, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}

	user, ok := s.records[cp.UserID]
	if !ok {
		user = make(map[string]*memory.FactualMemory)
		s.records[cp.UserID] = user
	}
	user[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (s *MemFactualStore) Get(_ context.Context, userID, id string) (*memory.FactualMemory, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID][id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemFactualStore) Retrieve(_ context.Context, q memory.FactualQuery) ([]memory.FactualMemory, error) {
	if q.UserID == "" {
		return nil, memory.ErrEmptyUserID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.FactualMemory
	for _, rec := range s.records[q.UserID] {
		if !matchFactual(rec, q) {
			continue
		}
		out = append(out, *rec)
	}

	// Newest first; ID breaks ties for a stable order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return paginate(out, q.Offset, q.Limit), nil
}

func matchFactual(rec *memory.FactualMemory, q memory.FactualQuery) bool {
	if q.Kind != "" && rec.Kind != q.Kind {
		return false
	}
	if rec.Confidence < q.MinConfidence {
		return false
	}
	if !q.Since.IsZero() && rec.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && rec.CreatedAt.After(q.Until) {
		return false
	}
	if len(q.Tags) > 0 && !containsAny(rec.Tags, q.Tags) {
		return false
	}
	return true
}

func (s *MemFactualStore) UpdateConfidence(_ context.Context, userID, id string, value float64) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID][id]
	if !ok {
		return memory.ErrNotFound
	}
	rec.Confidence = memory.Clamp01(value)
	return nil
}

func (s *MemFactualStore) Delete(_ context.Context, userID, id string) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID][id]; !ok {
		return memory.ErrNotFound
	}
	delete(s.records[userID], id)
	return nil
}

func (s *MemFactualStore) Stats(_ context.Context, userID string) (*FactualStats, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &FactualStats{ByKind: make(map[memory.FactKind]int)}
	tagCounts := make(map[string]int)
	var confidenceSum float64

	for _, rec := range s.records[userID] {
		stats.Total++
		stats.ByKind[rec.Kind]++
		confidenceSum += rec.Confidence
		for _, tag := range rec.Tags {
			tagCounts[tag]++
		}
	}

	if stats.Total > 0 {
		stats.AvgConfidence = confidenceSum / float64(stats.Total)
	}
	stats.TopTags = topTags(tagCounts, 5)

	return stats, nil
}

// MemExperientialStore is an in-memory ExperientialStore.
type MemExperientialStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*memory.ExperientialMemory
	now     func() time.Time
}

// NewMemExperientialStore creates an empty in-memory experiential store.
func NewMemExperientialStore(opts ...MemOption) *MemExperientialStore {
	c := &memClock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return &MemExperientialStore{
		records: make(map[string]map[string]*memory.ExperientialMemory),
		now:     c.now,
	}
}

func (s *MemExperientialStore) Store(_ context.Context, m *memory.ExperientialMemory) (*memory.ExperientialMemory, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}

	user, ok := s.records[cp.UserID]
	if !ok {
		user = make(map[string]*memory.ExperientialMemory)
		s.records[cp.UserID] = user
	}
	user[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (s *MemExperientialStore) Get(_ context.Context, userID, id string) (*memory.ExperientialMemory, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID][id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemExperientialStore) Retrieve(_ context.Context, q memory.ExperientialQuery) ([]memory.ExperientialMemory, error) {
	if q.UserID == "" {
		return nil, memory.ErrEmptyUserID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.ExperientialMemory
	for _, rec := range s.records[q.UserID] {
		if !matchExperiential(rec, q) {
			continue
		}
		out = append(out, *rec)
	}

	// Importance descending, then newest first, then ID for stability.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return paginate(out, q.Offset, q.Limit), nil
}

func matchExperiential(rec *memory.ExperientialMemory, q memory.ExperientialQuery) bool {
	if q.Kind != "" && rec.Kind != q.Kind {
		return false
	}
	if rec.Importance < q.MinImportance {
		return false
	}
	if !q.Since.IsZero() && rec.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && rec.CreatedAt.After(q.Until) {
		return false
	}
	if len(q.Skills) > 0 && !containsAny(rec.LearnedSkills, q.Skills) {
		return false
	}
	return true
}

func (s *MemExperientialStore) UpdateImportance(_ context.Context, userID, id string, value float64) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID][id]
	if !ok {
		return memory.ErrNotFound
	}
	rec.Importance = memory.Clamp01(value)
	return nil
}

func (s *MemExperientialStore) Delete(_ context.Context, userID, id string) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID][id]; !ok {
		return memory.ErrNotFound
	}
	delete(s.records[userID], id)
	return nil
}

func (s *MemExperientialStore) PruneOldMemories(_ context.Context, userID string, importanceThreshold float64, maxAge time.Duration) (int, error) {
	if userID == "" {
		return 0, memory.ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	deleted := 0
	for id, rec := range s.records[userID] {
		// Both conditions must hold; failing either keeps the record.
		if rec.Importance >= importanceThreshold {
			continue
		}
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		delete(s.records[userID], id)
		deleted++
	}
	return deleted, nil
}

func (s *MemExperientialStore) Stats(_ context.Context, userID string) (*ExperientialStats, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &ExperientialStats{ByKind: make(map[memory.ExperienceKind]int)}
	skills := make(map[string]struct{})
	var importanceSum float64
	var successes, failures int

	for _, rec := range s.records[userID] {
		stats.Total++
		stats.ByKind[rec.Kind]++
		importanceSum += rec.Importance
		for _, skill := range rec.LearnedSkills {
			skills[skill] = struct{}{}
		}
		switch rec.Kind {
		case memory.ExperienceKindSuccess:
			successes++
		case memory.ExperienceKindFailure:
			failures++
		}
	}

	if stats.Total > 0 {
		stats.AvgImportance = importanceSum / float64(stats.Total)
	}
	if successes+failures > 0 {
		stats.SuccessRate = float64(successes) / float64(successes+failures)
	}
	stats.UniqueSkills = len(skills)

	return stats, nil
}

// Shared helpers.

func containsAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func topTags(counts map[string]int, n int) []TagCount {
	tags := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		tags = append(tags, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Tag < tags[j].Tag
	})
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

var (
	_ FactualStore      = (*MemFactualStore)(nil)
	_ ExperientialStore = (*MemExperientialStore)(nil)
)
