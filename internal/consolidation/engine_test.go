package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

func newTestEngine(t *testing.T, now time.Time) (*Engine, *store.MemFactualStore, *store.MemExperientialStore) {
	t.Helper()

	clock := func() time.Time { return now }
	facts := store.NewMemFactualStore(store.WithClock(clock))
	experiences := store.NewMemExperientialStore(store.WithClock(clock))

	engine, err := NewEngine(facts, experiences, nil, WithClock(clock))
	require.NoError(t, err)
	return engine, facts, experiences
}

func TestConsolidateMergesSimilarExperiences(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, _, experiences := newTestEngine(t, now)
	ctx := context.Background()

	// Three successes sharing kind and most context keywords.
	ids := make([]string, 0, 3)
	for _, situation := range []string{
		"deploying payments service to staging cluster",
		"deploying payments service to staging cluster again",
		"deploying payments service to staging cluster carefully",
	} {
		stored, err := experiences.Store(ctx, &memory.ExperientialMemory{
			UserID:        "alice",
			Kind:          memory.ExperienceKindSuccess,
			Context:       situation,
			Importance:    0.8,
			LearnedSkills: []string{"canary_rollout"},
		})
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}

	result, err := engine.Consolidate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PatternsCreated, "exactly one pattern per cluster")
	assert.Equal(t, 3, result.MembersDecayed)

	// Originals halved, pattern carries the max importance.
	for _, id := range ids {
		rec, err := experiences.Get(ctx, "alice", id)
		require.NoError(t, err)
		assert.InDelta(t, 0.4, rec.Importance, 1e-9)
	}

	patterns, err := experiences.Retrieve(ctx, memory.ExperientialQuery{
		UserID: "alice", Kind: memory.ExperienceKindPattern,
	})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.InDelta(t, 0.8, patterns[0].Importance, 1e-9)
	assert.Equal(t, []string{"canary_rollout"}, patterns[0].LearnedSkills)
	assert.ElementsMatch(t, ids, patterns[0].RelatedMemories)
	assert.Contains(t, patterns[0].Reflection, "3 successes")
}

func TestConsolidateLeavesDissimilarExperiencesAlone(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, _, experiences := newTestEngine(t, now)
	ctx := context.Background()

	for _, rec := range []memory.ExperientialMemory{
		{UserID: "alice", Kind: memory.ExperienceKindSuccess, Context: "deploying payments service", Importance: 0.8},
		{UserID: "alice", Kind: memory.ExperienceKindFailure, Context: "deploying payments service", Importance: 0.8},
		{UserID: "alice", Kind: memory.ExperienceKindSuccess, Context: "rotating database credentials", Importance: 0.8},
	} {
		rec := rec
		_, err := experiences.Store(ctx, &rec)
		require.NoError(t, err)
	}

	result, err := engine.Consolidate(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, result.PatternsCreated, "different kinds and contexts never cluster")
	assert.Zero(t, result.MembersDecayed)
}

func TestConsolidateIgnoresOldExperiencesInMerge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, _, experiences := newTestEngine(t, now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := experiences.Store(ctx, &memory.ExperientialMemory{
			UserID:     "alice",
			Kind:       memory.ExperienceKindSuccess,
			Context:    "deploying payments service to staging",
			Importance: 0.8,
			CreatedAt:  now.Add(-10 * 24 * time.Hour),
		})
		require.NoError(t, err)
	}

	result, err := engine.Consolidate(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, result.PatternsCreated, "merge only considers the last seven days")
}

func TestConsolidateExtractsRules(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, facts, experiences := newTestEngine(t, now)
	ctx := context.Background()

	// Three high-importance successes tagged api_retry, spread out enough
	// that the merge phase cannot cluster them.
	for _, situation := range []string{
		"retrying flaky payment gateway requests",
		"recovering dropped webhook deliveries",
		"smoothing search indexing hiccups",
	} {
		_, err := experiences.Store(ctx, &memory.ExperientialMemory{
			UserID:        "alice",
			Kind:          memory.ExperienceKindSuccess,
			Context:       situation,
			Importance:    0.7,
			LearnedSkills: []string{"api_retry"},
		})
		require.NoError(t, err)
	}

	result, err := engine.Consolidate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesExtracted)

	rules, err := facts.Retrieve(ctx, memory.FactualQuery{UserID: "alice", Kind: memory.FactKindRule})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	rule := rules[0]
	assert.InDelta(t, 0.45, rule.Confidence, 1e-9, "min(0.9, 0.15*3)")
	assert.Contains(t, rule.Tags, "api_retry")
	assert.Contains(t, rule.Tags, "pattern")
	assert.Contains(t, rule.Tags, "extracted")
	assert.Contains(t, rule.Content, "3")
}

func TestConsolidateRuleConfidenceSaturates(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, facts, experiences := newTestEngine(t, now)
	ctx := context.Background()

	contexts := []string{
		"tuning connection pool limits",
		"tightening request deadline budgets",
		"sharding the metrics pipeline",
		"debouncing configuration reloads",
		"draining traffic before restarts",
		"staggering cron job schedules",
		"pinning dependency versions cleanly",
	}
	for _, situation := range contexts {
		_, err := experiences.Store(ctx, &memory.ExperientialMemory{
			UserID:        "alice",
			Kind:          memory.ExperienceKindSuccess,
			Context:       situation,
			Importance:    0.9,
			LearnedSkills: []string{"capacity_tuning"},
		})
		require.NoError(t, err)
	}

	_, err := engine.Consolidate(ctx, "alice")
	require.NoError(t, err)

	rules, err := facts.Retrieve(ctx, memory.FactualQuery{UserID: "alice", Kind: memory.FactKindRule})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.InDelta(t, 0.9, rules[0].Confidence, 1e-9, "confidence is capped at 0.9")
}

func TestConsolidateSkipsRuleExtractionBelowMinimum(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, facts, experiences := newTestEngine(t, now)
	ctx := context.Background()

	for _, situation := range []string{"first clean deploy", "second clean deploy"} {
		_, err := experiences.Store(ctx, &memory.ExperientialMemory{
			UserID:        "alice",
			Kind:          memory.ExperienceKindSuccess,
			Context:       situation,
			Importance:    0.9,
			LearnedSkills: []string{"deploys"},
		})
		require.NoError(t, err)
	}

	result, err := engine.Consolidate(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, result.RulesExtracted, "fewer than three successes never yield a rule")

	rules, err := facts.Retrieve(ctx, memory.FactualQuery{UserID: "alice", Kind: memory.FactKindRule})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestConsolidatePrunes(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, _, experiences := newTestEngine(t, now)
	ctx := context.Background()

	_, err := experiences.Store(ctx, &memory.ExperientialMemory{
		UserID:     "alice",
		Kind:       memory.ExperienceKindFailure,
		Context:    "ancient low-value noise",
		Importance: 0.1,
		CreatedAt:  now.Add(-60 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = experiences.Store(ctx, &memory.ExperientialMemory{
		UserID:     "alice",
		Kind:       memory.ExperienceKindFailure,
		Context:    "ancient but important outage",
		Importance: 0.9,
		CreatedAt:  now.Add(-60 * 24 * time.Hour),
	})
	require.NoError(t, err)

	result, err := engine.Consolidate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pruned)

	remaining, err := experiences.Retrieve(ctx, memory.ExperientialQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "ancient but important outage", remaining[0].Context)
}

func TestConsolidateImportanceStaysClamped(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, _, experiences := newTestEngine(t, now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := experiences.Store(ctx, &memory.ExperientialMemory{
			UserID:     "alice",
			Kind:       memory.ExperienceKindSuccess,
			Context:    "repeatedly shipping the same hotfix",
			Importance: 1.0,
		})
		require.NoError(t, err)
	}

	_, err := engine.Consolidate(ctx, "alice")
	require.NoError(t, err)

	all, err := experiences.Retrieve(ctx, memory.ExperientialQuery{UserID: "alice"})
	require.NoError(t, err)
	for _, rec := range all {
		assert.GreaterOrEqual(t, rec.Importance, 0.0)
		assert.LessOrEqual(t, rec.Importance, 1.0)
	}
}

func TestConsolidateRequiresUserID(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t, time.Now())
	_, err := engine.Consolidate(context.Background(), "")
	require.ErrorIs(t, err, memory.ErrEmptyUserID)
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	engine, facts, experiences := newTestEngine(t, now)
	ctx := context.Background()

	_, err := facts.Store(ctx, &memory.FactualMemory{
		UserID: "alice", Kind: memory.FactKindFact, Content: "c", Confidence: 0.8,
	})
	require.NoError(t, err)
	_, err = experiences.Store(ctx, &memory.ExperientialMemory{
		UserID: "alice", Kind: memory.ExperienceKindSuccess, Context: "c", Importance: 0.6,
	})
	require.NoError(t, err)

	stats, err := engine.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Factual.Total)
	assert.Equal(t, 1, stats.Experiential.Total)
}
