package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/formation"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
	"github.com/fyrsmithlabs/memoryd/internal/workingmem"
)

// UserTracker is notified when a user becomes active, so background jobs
// like the consolidation scheduler can pick them up.
type UserTracker interface {
	Register(userID string)
}

// API is the facade other components call. It composes the engines behind
// the operations of the public surface: session lifecycle, run extraction,
// memory queries, manual records, stats, and consolidation.
type API struct {
	registry Registry
	tracker  UserTracker
	logger   *zap.Logger
}

// APIOption configures the API facade.
type APIOption func(*API)

// WithUserTracker registers active users with a tracker as they initialize
// sessions or form memories.
func WithUserTracker(t UserTracker) APIOption {
	return func(a *API) {
		a.tracker = t
	}
}

// NewAPI creates the service facade over a populated registry.
func NewAPI(registry Registry, logger *zap.Logger, opts ...APIOption) (*API, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &API{registry: registry, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *API) trackUser(userID string) {
	if a.tracker != nil && userID != "" {
		a.tracker.Register(userID)
	}
}

// InitializeSession registers a fresh working memory under sessionID.
// Re-initializing an existing session overwrites it.
func (a *API) InitializeSession(userID, sessionID, goal string) error {
	if err := a.registry.WorkingMemory().Initialize(userID, sessionID, goal); err != nil {
		return err
	}
	a.trackUser(userID)
	telemetry.ActiveSessions.Set(float64(a.registry.WorkingMemory().Len()))
	return nil
}

// RecordRunCompletion extracts memories from the run's event stream and
// returns what was formed. Newly formed memories are mirrored into the
// semantic index when one is configured.
func (a *API) RecordRunCompletion(ctx context.Context, runID, userID string) (*formation.Extraction, error) {
	extraction, err := a.registry.Formation().ExtractFromRun(ctx, runID, userID)
	if err != nil {
		return nil, err
	}
	a.trackUser(userID)

	telemetry.MemoriesFormed.WithLabelValues("factual", "extraction").Add(float64(len(extraction.Facts)))
	telemetry.MemoriesFormed.WithLabelValues("experiential", "extraction").Add(float64(len(extraction.Experiences)))

	a.mirror(ctx, extraction)
	return extraction, nil
}

// mirror best-effort indexes an extraction into the semantic index. Index
// failures are logged, never surfaced; keyword retrieval stands alone.
func (a *API) mirror(ctx context.Context, extraction *formation.Extraction) {
	index := a.registry.SemanticIndex()
	if index == nil {
		return
	}
	for i := range extraction.Facts {
		if err := index.IndexFactual(ctx, &extraction.Facts[i]); err != nil {
			a.logger.Warn("semantic indexing failed",
				zap.String("id", extraction.Facts[i].ID),
				zap.Error(err))
		}
	}
	for i := range extraction.Experiences {
		if err := index.IndexExperiential(ctx, &extraction.Experiences[i]); err != nil {
			a.logger.Warn("semantic indexing failed",
				zap.String("id", extraction.Experiences[i].ID),
				zap.Error(err))
		}
	}
}

// QueryMemory ranks the user's memories against text. sessionID is optional;
// when it names a live session, that session's attention set informs scoring.
func (a *API) QueryMemory(ctx context.Context, userID, text, sessionID string) ([]retrieval.Result, error) {
	var wm *workingmem.WorkingMemory
	if sessionID != "" {
		snapshot, err := a.registry.WorkingMemory().Snapshot(sessionID)
		if err == nil {
			wm = snapshot
		}
	}

	start := time.Now()
	results, err := a.registry.Retrieval().Retrieve(ctx, userID, text, wm)
	telemetry.RetrievalDuration.Observe(time.Since(start).Seconds())
	telemetry.RecordRetrieval(len(results), err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RecordManualFact stores a caller-supplied factual memory.
func (a *API) RecordManualFact(ctx context.Context, m *memory.FactualMemory) (*memory.FactualMemory, error) {
	stored, err := a.registry.Formation().RecordFact(ctx, m)
	if err != nil {
		return nil, err
	}
	a.trackUser(stored.UserID)
	telemetry.MemoriesFormed.WithLabelValues("factual", "manual").Inc()

	if index := a.registry.SemanticIndex(); index != nil {
		if err := index.IndexFactual(ctx, stored); err != nil {
			a.logger.Warn("semantic indexing failed", zap.String("id", stored.ID), zap.Error(err))
		}
	}
	return stored, nil
}

// RecordManualExperience stores a caller-supplied experiential memory.
func (a *API) RecordManualExperience(ctx context.Context, m *memory.ExperientialMemory) (*memory.ExperientialMemory, error) {
	stored, err := a.registry.Formation().RecordExperience(ctx, m)
	if err != nil {
		return nil, err
	}
	a.trackUser(stored.UserID)
	telemetry.MemoriesFormed.WithLabelValues("experiential", "manual").Inc()

	if index := a.registry.SemanticIndex(); index != nil {
		if err := index.IndexExperiential(ctx, stored); err != nil {
			a.logger.Warn("semantic indexing failed", zap.String("id", stored.ID), zap.Error(err))
		}
	}
	return stored, nil
}

// GetMemoryStats returns cross-store aggregates for the user.
func (a *API) GetMemoryStats(ctx context.Context, userID string) (*consolidation.Stats, error) {
	return a.registry.Consolidation().GetStats(ctx, userID)
}

// RunConsolidation triggers an on-demand consolidation pass and returns the
// phase counts.
func (a *API) RunConsolidation(ctx context.Context, userID string) (*consolidation.Result, error) {
	result, err := a.registry.Consolidation().Consolidate(ctx, userID)
	if err != nil {
		telemetry.RecordConsolidation(0, 0, 0, 0, err)
		return nil, err
	}
	telemetry.RecordConsolidation(result.PatternsCreated, result.MembersDecayed, result.RulesExtracted, result.Pruned, nil)
	return result, nil
}

// ClearSession destroys the session's working memory. Clearing an unknown
// session reports false.
func (a *API) ClearSession(sessionID string) bool {
	cleared := a.registry.WorkingMemory().Clear(sessionID)
	telemetry.ActiveSessions.Set(float64(a.registry.WorkingMemory().Len()))
	return cleared
}
