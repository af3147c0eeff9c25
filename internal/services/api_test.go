package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/eventlog"
	"github.com/fyrsmithlabs/memoryd/internal/formation"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/workingmem"
)

func newTestAPI(t *testing.T) (*API, *eventlog.MemLog) {
	t.Helper()

	events := eventlog.NewMemLog()
	facts := store.NewMemFactualStore()
	experiences := store.NewMemExperientialStore()
	wm := workingmem.NewRegistry()

	formationEngine, err := formation.NewEngine(events, facts, experiences, nil)
	require.NoError(t, err)
	retrievalEngine, err := retrieval.NewEngine(facts, experiences, nil)
	require.NoError(t, err)
	consolidationEngine, err := consolidation.NewEngine(facts, experiences, nil)
	require.NoError(t, err)

	registry := NewRegistry(Options{
		Facts:         facts,
		Experiences:   experiences,
		WorkingMemory: wm,
		Formation:     formationEngine,
		Retrieval:     retrievalEngine,
		Consolidation: consolidationEngine,
	})

	api, err := NewAPI(registry, nil)
	require.NoError(t, err)
	return api, events
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)

	require.NoError(t, api.InitializeSession("alice", "s1", "ship the release"))
	assert.True(t, api.ClearSession("s1"))
	assert.False(t, api.ClearSession("s1"))
}

type recordingTracker struct {
	users []string
}

func (r *recordingTracker) Register(userID string) { r.users = append(r.users, userID) }

func TestActiveUsersReachTracker(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	tracker := &recordingTracker{}
	api.tracker = tracker

	require.NoError(t, api.InitializeSession("alice", "s1", "ship the release"))
	_, err := api.RecordManualFact(context.Background(), &memory.FactualMemory{
		UserID: "bob", Kind: memory.FactKindFact, Content: "uses trunk-based development", Confidence: 0.7,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, tracker.users)
}

func TestRecordRunCompletionFormsMemories(t *testing.T) {
	t.Parallel()

	api, events := newTestAPI(t)
	events.Append("run-1",
		eventlog.Event{Type: eventlog.TypeRunStarted},
		eventlog.Event{Type: eventlog.TypeStepCompleted, Data: map[string]any{"output": "staging deployment finished"}},
		eventlog.Event{Type: eventlog.TypeRunCompleted},
	)

	extraction, err := api.RecordRunCompletion(context.Background(), "run-1", "alice")
	require.NoError(t, err)
	assert.Len(t, extraction.Facts, 1)
	assert.Len(t, extraction.Experiences, 1)

	results, err := api.QueryMemory(context.Background(), "alice", "staging deployment", "")
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestQueryMemoryUsesSessionAttention(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	ctx := context.Background()

	_, err := api.RecordManualFact(ctx, &memory.FactualMemory{
		UserID: "alice", Kind: memory.FactKindFact,
		Content: "staging cluster rollback procedure", Confidence: 0.8,
	})
	require.NoError(t, err)

	baseline, err := api.QueryMemory(ctx, "alice", "staging rollback", "")
	require.NoError(t, err)
	require.Len(t, baseline, 1)

	require.NoError(t, api.InitializeSession("alice", "s1", "recover staging"))
	// Session attention overlaps the record, boosting its score.
	require.NoError(t, api.registry.WorkingMemory().AddAttention("s1", "rollback", "procedure"))

	boosted, err := api.QueryMemory(ctx, "alice", "staging rollback", "s1")
	require.NoError(t, err)
	require.Len(t, boosted, 1)
	assert.Greater(t, boosted[0].Score, baseline[0].Score)

	// An unknown session falls back to attention-free scoring.
	fallback, err := api.QueryMemory(ctx, "alice", "staging rollback", "ghost")
	require.NoError(t, err)
	require.Len(t, fallback, 1)
	assert.Equal(t, baseline[0].Score, fallback[0].Score)
}

func TestManualRecords(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	ctx := context.Background()

	fact, err := api.RecordManualFact(ctx, &memory.FactualMemory{
		UserID: "alice", Kind: memory.FactKindPreference, Content: "prefers tabular summaries", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, fact.ID)

	exp, err := api.RecordManualExperience(ctx, &memory.ExperientialMemory{
		UserID: "alice", Kind: memory.ExperienceKindLesson, Context: "postmortem review", Importance: 0.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, exp.ID)

	stats, err := api.GetMemoryStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Factual.Total)
	assert.Equal(t, 1, stats.Experiential.Total)

	_, err = api.RecordManualFact(ctx, &memory.FactualMemory{UserID: "", Kind: memory.FactKindFact, Content: "x"})
	require.ErrorIs(t, err, memory.ErrEmptyUserID)
}

func TestRunConsolidationEndToEnd(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	ctx := context.Background()

	for _, situation := range []string{
		"retrying flaky payment gateway requests",
		"recovering dropped webhook deliveries",
		"smoothing search indexing hiccups",
	} {
		_, err := api.RecordManualExperience(ctx, &memory.ExperientialMemory{
			UserID:        "alice",
			Kind:          memory.ExperienceKindSuccess,
			Context:       situation,
			Importance:    0.7,
			LearnedSkills: []string{"api_retry"},
		})
		require.NoError(t, err)
	}

	result, err := api.RunConsolidation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesExtracted)

	_, err = api.RunConsolidation(ctx, "")
	require.ErrorIs(t, err, memory.ErrEmptyUserID)
}
