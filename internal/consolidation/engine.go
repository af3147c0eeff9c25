// Package consolidation is the periodic maintenance pass over memory:
// it merges similar experiences into pattern records, extracts rules from
// repeated successes, and prunes low-value old records.
package consolidation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

const (
	// Merge phase bounds.
	mergeFetchLimit   = 100
	mergeWindow       = 7 * 24 * time.Hour
	mergeMinOverlap   = 0.5
	importanceHalving = 0.5

	// Rule extraction bounds.
	ruleFetchLimit     = 50
	ruleWindow         = 30 * 24 * time.Hour
	ruleMinImportance  = 0.6
	ruleMinClusterSize = 3
	ruleConfidencePer  = 0.15
	ruleConfidenceCeil = 0.9

	// Prune phase parameters.
	PruneThreshold = 0.3
	PruneMaxAge    = 30 * 24 * time.Hour
)

// Result reports what a single consolidation pass changed.
type Result struct {
	PatternsCreated int `json:"patterns_created"`
	MembersDecayed  int `json:"members_decayed"`
	RulesExtracted  int `json:"rules_extracted"`
	Pruned          int `json:"pruned"`
}

// Stats aggregates both stores for observability.
type Stats struct {
	Factual      *store.FactualStats      `json:"factual"`
	Experiential *store.ExperientialStats `json:"experiential"`
}

// Engine runs consolidation passes. It holds no state between invocations
// beyond the per-user locks that keep passes for the same user from
// overlapping.
type Engine struct {
	facts       store.FactualStore
	experiences store.ExperientialStore
	logger      *zap.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock injects the time source used for phase windows.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a consolidation engine over the two stores.
func NewEngine(facts store.FactualStore, experiences store.ExperientialStore, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if facts == nil {
		return nil, fmt.Errorf("factual store cannot be nil")
	}
	if experiences == nil {
		return nil, fmt.Errorf("experiential store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		facts:       facts,
		experiences: experiences,
		logger:      logger,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// userLock returns the mutex serializing consolidation for one user.
func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[userID] = lock
	}
	return lock
}

// Consolidate runs the three maintenance phases in fixed order: merge,
// rule extraction, prune. A phase failure aborts the later phases; the
// stores stay internally consistent because no phase spans a transaction.
// Passes for the same user are serialized.
func (e *Engine) Consolidate(ctx context.Context, userID string) (*Result, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	result := &Result{}

	if err := e.mergeSimilar(ctx, userID, result); err != nil {
		return nil, fmt.Errorf("merge phase: %w", err)
	}
	if err := e.extractRules(ctx, userID, result); err != nil {
		return nil, fmt.Errorf("rule extraction phase: %w", err)
	}

	pruned, err := e.experiences.PruneOldMemories(ctx, userID, PruneThreshold, PruneMaxAge)
	if err != nil {
		return nil, fmt.Errorf("prune phase: %w", err)
	}
	result.Pruned = pruned

	e.logger.Info("consolidation completed",
		zap.String("user_id", userID),
		zap.Int("patterns_created", result.PatternsCreated),
		zap.Int("members_decayed", result.MembersDecayed),
		zap.Int("rules_extracted", result.RulesExtracted),
		zap.Int("pruned", result.Pruned))

	return result, nil
}

// mergeSimilar clusters recent experiences by kind and context keyword
// overlap, synthesizes one pattern record per multi-member group, and halves
// the importance of every merged member.
func (e *Engine) mergeSimilar(ctx context.Context, userID string, result *Result) error {
	recent, err := e.experiences.Retrieve(ctx, memory.ExperientialQuery{
		UserID: userID,
		Since:  e.now().Add(-mergeWindow),
		Limit:  mergeFetchLimit,
	})
	if err != nil {
		return fmt.Errorf("fetching recent experiences: %w", err)
	}
	if len(recent) < 2 {
		return nil
	}

	type cluster struct {
		representative map[string]struct{}
		kind           memory.ExperienceKind
		members        []*memory.ExperientialMemory
	}

	// Single-pass greedy clustering: each record joins the first group whose
	// representative shares its kind and more than half its context keywords.
	var clusters []*cluster
	for i := range recent {
		rec := &recent[i]
		if rec.Kind == memory.ExperienceKindPattern {
			// Patterns are consolidation output, not input.
			continue
		}
		keywords := retrieval.KeywordSet(rec.Context)

		placed := false
		for _, c := range clusters {
			if c.kind != rec.Kind {
				continue
			}
			if retrieval.Jaccard(keywords, c.representative) > mergeMinOverlap {
				c.members = append(c.members, rec)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &cluster{
				representative: keywords,
				kind:           rec.Kind,
				members:        []*memory.ExperientialMemory{rec},
			})
		}
	}

	for _, c := range clusters {
		if len(c.members) < 2 {
			continue
		}

		pattern := synthesizePattern(userID, c.members)
		if _, err := e.experiences.Store(ctx, pattern); err != nil {
			return fmt.Errorf("storing pattern memory: %w", err)
		}
		result.PatternsCreated++

		// Decay merged members toward pruning eligibility; raw history stays.
		for _, m := range c.members {
			halved := memory.Clamp01(m.Importance * importanceHalving)
			if err := e.experiences.UpdateImportance(ctx, userID, m.ID, halved); err != nil {
				return fmt.Errorf("halving member importance: %w", err)
			}
			result.MembersDecayed++
		}
	}
	return nil
}

// synthesizePattern builds the pattern record for a merged cluster: max
// importance, union of learned skills, reflection summarizing outcomes and
// referencing source ids.
func synthesizePattern(userID string, members []*memory.ExperientialMemory) *memory.ExperientialMemory {
	maxImportance := 0.0
	successes := 0
	failures := 0
	skillSet := make(map[string]struct{})
	ids := make([]string, 0, len(members))

	for _, m := range members {
		if m.Importance > maxImportance {
			maxImportance = m.Importance
		}
		switch m.Kind {
		case memory.ExperienceKindSuccess:
			successes++
		case memory.ExperienceKindFailure:
			failures++
		}
		for _, s := range m.LearnedSkills {
			skillSet[s] = struct{}{}
		}
		ids = append(ids, m.ID)
	}

	skills := make([]string, 0, len(skillSet))
	for s := range skillSet {
		skills = append(skills, s)
	}
	sort.Strings(skills)

	return &memory.ExperientialMemory{
		UserID:  userID,
		Kind:    memory.ExperienceKindPattern,
		Context: members[0].Context,
		Action:  members[0].Action,
		Outcome: fmt.Sprintf("merged %d similar experiences", len(members)),
		Reflection: fmt.Sprintf("recurring situation observed %d times (%d successes, %d failures); sources: %s",
			len(members), successes, failures, strings.Join(ids, ", ")),
		LearnedSkills:   skills,
		Importance:      maxImportance,
		RelatedMemories: ids,
	}
}

// extractRules looks for repeated high-importance successes sharing a learned
// skill and distills each such cluster into one rule fact.
func (e *Engine) extractRules(ctx context.Context, userID string, result *Result) error {
	successes, err := e.experiences.Retrieve(ctx, memory.ExperientialQuery{
		UserID:        userID,
		Kind:          memory.ExperienceKindSuccess,
		MinImportance: ruleMinImportance,
		Since:         e.now().Add(-ruleWindow),
		Limit:         ruleFetchLimit,
	})
	if err != nil {
		return fmt.Errorf("fetching successes: %w", err)
	}
	if len(successes) < ruleMinClusterSize {
		return nil
	}

	// A record contributes to every skill it carries.
	bySkill := make(map[string]int)
	for i := range successes {
		for _, skill := range successes[i].LearnedSkills {
			bySkill[skill]++
		}
	}

	skills := make([]string, 0, len(bySkill))
	for skill := range bySkill {
		skills = append(skills, skill)
	}
	sort.Strings(skills)

	for _, skill := range skills {
		count := bySkill[skill]
		if count < ruleMinClusterSize {
			continue
		}

		rule := &memory.FactualMemory{
			UserID:     userID,
			Kind:       memory.FactKindRule,
			Content:    fmt.Sprintf("applying %s has succeeded in %d recent runs", skill, count),
			Source:     "consolidation",
			Confidence: math.Min(ruleConfidenceCeil, ruleConfidencePer*float64(count)),
			Tags:       []string{skill, "pattern", "extracted"},
		}
		if _, err := e.facts.Store(ctx, rule); err != nil {
			return fmt.Errorf("storing rule for skill %q: %w", skill, err)
		}
		result.RulesExtracted++
	}
	return nil
}

// GetStats returns cross-store aggregates for the user.
func (e *Engine) GetStats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	factual, err := e.facts.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("factual stats: %w", err)
	}
	experiential, err := e.experiences.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("experiential stats: %w", err)
	}
	return &Stats{Factual: factual, Experiential: experiential}, nil
}
