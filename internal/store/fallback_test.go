package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// failingFactualStore simulates a primary whose backend is down.
type failingFactualStore struct {
	FactualStore
}

func (failingFactualStore) Store(context.Context, *memory.FactualMemory) (*memory.FactualMemory, error) {
	return nil, fmt.Errorf("%w: connection refused", memory.ErrStorage)
}

func (failingFactualStore) Retrieve(context.Context, memory.FactualQuery) ([]memory.FactualMemory, error) {
	return nil, fmt.Errorf("%w: connection refused", memory.ErrStorage)
}

func TestFallbackFactualStoreNoPrimary(t *testing.T) {
	t.Parallel()

	s := NewFallbackFactualStore(nil, nil)
	ctx := context.Background()

	stored, err := s.Store(ctx, &memory.FactualMemory{
		UserID: "alice", Kind: memory.FactKindFact, Content: "offline fact", Confidence: 0.7,
	})
	require.NoError(t, err, "unconfigured store must degrade, not fail")

	got, err := s.Get(ctx, "alice", stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "offline fact", got.Content)
}

func TestFallbackFactualStoreNoPrimaryWarnsOnEveryOp(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	s := NewFallbackFactualStore(nil, zap.New(core))
	ctx := context.Background()

	stored, err := s.Store(ctx, &memory.FactualMemory{
		UserID: "alice", Kind: memory.FactKindFact, Content: "offline fact", Confidence: 0.7,
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "alice", stored.ID)
	require.NoError(t, err)
	_, err = s.Retrieve(ctx, memory.FactualQuery{UserID: "alice"})
	require.NoError(t, err)
	_, err = s.Stats(ctx, "alice")
	require.NoError(t, err)

	// Reads degrade as loudly as writes.
	entries := logs.FilterMessage("factual store degraded to in-memory stub").All()
	require.Len(t, entries, 4)

	var ops []string
	for _, e := range entries {
		ops = append(ops, e.ContextMap()["op"].(string))
	}
	assert.Equal(t, []string{"store", "get", "retrieve", "stats"}, ops)
}

func TestFallbackExperientialStoreNoPrimaryWarnsOnEveryOp(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	s := NewFallbackExperientialStore(nil, zap.New(core))
	ctx := context.Background()

	_, err := s.Retrieve(ctx, memory.ExperientialQuery{UserID: "alice"})
	require.NoError(t, err)
	_, err = s.PruneOldMemories(ctx, "alice", 0.3, 30*24*time.Hour)
	require.NoError(t, err)
	_, err = s.Stats(ctx, "alice")
	require.NoError(t, err)

	entries := logs.FilterMessage("experiential store degraded to in-memory stub").All()
	require.Len(t, entries, 3)
}

func TestFallbackFactualStorePrimaryStorageError(t *testing.T) {
	t.Parallel()

	s := NewFallbackFactualStore(failingFactualStore{}, nil)
	ctx := context.Background()

	stored, err := s.Store(ctx, &memory.FactualMemory{
		UserID: "alice", Kind: memory.FactKindFact, Content: "x", Confidence: 0.5,
	})
	require.NoError(t, err, "storage errors route to the stub")
	require.NotEmpty(t, stored.ID)

	results, err := s.Retrieve(ctx, memory.FactualQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFallbackFactualStoreDomainErrorsPassThrough(t *testing.T) {
	t.Parallel()

	// A healthy primary that simply has no such record.
	primary := NewMemFactualStore()
	s := NewFallbackFactualStore(primary, nil)

	_, err := s.Get(context.Background(), "alice", "missing")
	require.ErrorIs(t, err, memory.ErrNotFound, "not-found is an answer, not an outage")

	_, err = s.Store(context.Background(), &memory.FactualMemory{
		UserID: "alice", Kind: "opinion", Content: "x",
	})
	require.ErrorIs(t, err, memory.ErrInvalidKind)
}

func TestFallbackExperientialStoreNoPrimary(t *testing.T) {
	t.Parallel()

	s := NewFallbackExperientialStore(nil, nil)
	ctx := context.Background()

	_, err := s.Store(ctx, &memory.ExperientialMemory{
		UserID: "alice", Kind: memory.ExperienceKindSuccess, Context: "deploy", Importance: 0.6,
	})
	require.NoError(t, err)

	stats, err := s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	deleted, err := s.PruneOldMemories(ctx, "alice", 0.3, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
