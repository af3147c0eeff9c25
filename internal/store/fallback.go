package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
)

// FallbackFactualStore wraps a primary FactualStore and degrades to an
// in-memory stub when the primary is unavailable.
//
// A nil primary means the backing store was never configured; every call is
// served by the stub with a logged warning. When a configured primary returns
// a storage error the call is retried against the stub, so callers keep
// working in degraded local mode instead of failing. Records written during
// degradation are non-persistent.
type FallbackFactualStore struct {
	primary FactualStore
	stub    *MemFactualStore
	logger  *zap.Logger
}

// NewFallbackFactualStore creates a degrading wrapper. primary may be nil.
func NewFallbackFactualStore(primary FactualStore, logger *zap.Logger) *FallbackFactualStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	telemetry.StoreDegraded.WithLabelValues("factual").Set(boolToGauge(primary == nil))
	return &FallbackFactualStore{
		primary: primary,
		stub:    NewMemFactualStore(),
		logger:  logger,
	}
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// degraded reports whether the error should trigger the stub path.
// Domain errors (not found, validation) are real answers, not outages.
func degraded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, memory.ErrNotFound) ||
		errors.Is(err, memory.ErrEmptyUserID) ||
		errors.Is(err, memory.ErrEmptyContent) ||
		errors.Is(err, memory.ErrInvalidKind) {
		return false
	}
	return true
}

func (s *FallbackFactualStore) warn(op string, err error) {
	if err == nil {
		err = memory.ErrNotConfigured
	}
	telemetry.StoreDegraded.WithLabelValues("factual").Set(1)
	s.logger.Warn("factual store degraded to in-memory stub",
		zap.String("op", op),
		zap.Error(err))
}

func (s *FallbackFactualStore) Store(ctx context.Context, m *memory.FactualMemory) (*memory.FactualMemory, error) {
	if s.primary != nil {
		rec, err := s.primary.Store(ctx, m)
		if !degraded(err) {
			return rec, err
		}
		s.warn("store", err)
	} else {
		s.warn("store", nil)
	}
	return s.stub.Store(ctx, m)
}

func (s *FallbackFactualStore) Get(ctx context.Context, userID, id string) (*memory.FactualMemory, error) {
	if s.primary != nil {
		rec, err := s.primary.Get(ctx, userID, id)
		if !degraded(err) {
			return rec, err
		}
		s.warn("get", err)
	} else {
		s.warn("get", nil)
	}
	return s.stub.Get(ctx, userID, id)
}

func (s *FallbackFactualStore) Retrieve(ctx context.Context, q memory.FactualQuery) ([]memory.FactualMemory, error) {
	if s.primary != nil {
		recs, err := s.primary.Retrieve(ctx, q)
		if !degraded(err) {
			return recs, err
		}
		s.warn("retrieve", err)
	} else {
		s.warn("retrieve", nil)
	}
	return s.stub.Retrieve(ctx, q)
}

func (s *FallbackFactualStore) UpdateConfidence(ctx context.Context, userID, id string, value float64) error {
	if s.primary != nil {
		err := s.primary.UpdateConfidence(ctx, userID, id, value)
		if !degraded(err) {
			return err
		}
		s.warn("update_confidence", err)
	} else {
		s.warn("update_confidence", nil)
	}
	return s.stub.UpdateConfidence(ctx, userID, id, value)
}

func (s *FallbackFactualStore) Delete(ctx context.Context, userID, id string) error {
	if s.primary != nil {
		err := s.primary.Delete(ctx, userID, id)
		if !degraded(err) {
			return err
		}
		s.warn("delete", err)
	} else {
		s.warn("delete", nil)
	}
	return s.stub.Delete(ctx, userID, id)
}

func (s *FallbackFactualStore) Stats(ctx context.Context, userID string) (*FactualStats, error) {
	if s.primary != nil {
		stats, err := s.primary.Stats(ctx, userID)
		if !degraded(err) {
			return stats, err
		}
		s.warn("stats", err)
	} else {
		s.warn("stats", nil)
	}
	return s.stub.Stats(ctx, userID)
}

// FallbackExperientialStore is the experiential counterpart of
// FallbackFactualStore.
type FallbackExperientialStore struct {
	primary ExperientialStore
	stub    *MemExperientialStore
	logger  *zap.Logger
}

// NewFallbackExperientialStore creates a degrading wrapper. primary may be nil.
func NewFallbackExperientialStore(primary ExperientialStore, logger *zap.Logger) *FallbackExperientialStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	telemetry.StoreDegraded.WithLabelValues("experiential").Set(boolToGauge(primary == nil))
	return &FallbackExperientialStore{
		primary: primary,
		stub:    NewMemExperientialStore(),
		logger:  logger,
	}
}

func (s *FallbackExperientialStore) warn(op string, err error) {
	if err == nil {
		err = memory.ErrNotConfigured
	}
	telemetry.StoreDegraded.WithLabelValues("experiential").Set(1)
	s.logger.Warn("experiential store degraded to in-memory stub",
		zap.String("op", op),
		zap.Error(err))
}

func (s *FallbackExperientialStore) Store(ctx context.Context, m *memory.ExperientialMemory) (*memory.ExperientialMemory, error) {
	if s.primary != nil {
		rec, err := s.primary.Store(ctx, m)
		if !degraded(err) {
			return rec, err
		}
		s.warn("store", err)
	} else {
		s.warn("store", nil)
	}
	return s.stub.Store(ctx, m)
}

func (s *FallbackExperientialStore) Get(ctx context.Context, userID, id string) (*memory.ExperientialMemory, error) {
	if s.primary != nil {
		rec, err := s.primary.Get(ctx, userID, id)
		if !degraded(err) {
			return rec, err
		}
		s.warn("get", err)
	} else {
		s.warn("get", nil)
	}
	return s.stub.Get(ctx, userID, id)
}

func (s *FallbackExperientialStore) Retrieve(ctx context.Context, q memory.ExperientialQuery) ([]memory.ExperientialMemory, error) {
	if s.primary != nil {
		recs, err := s.primary.Retrieve(ctx, q)
		if !degraded(err) {
			return recs, err
		}
		s.warn("retrieve", err)
	} else {
		s.warn("retrieve", nil)
	}
	return s.stub.Retrieve(ctx, q)
}

func (s *FallbackExperientialStore) UpdateImportance(ctx context.Context, userID, id string, value float64) error {
	if s.primary != nil {
		err := s.primary.UpdateImportance(ctx, userID, id, value)
		if !degraded(err) {
			return err
		}
		s.warn("update_importance", err)
	} else {
		s.warn("update_importance", nil)
	}
	return s.stub.UpdateImportance(ctx, userID, id, value)
}

func (s *FallbackExperientialStore) Delete(ctx context.Context, userID, id string) error {
	if s.primary != nil {
		err := s.primary.Delete(ctx, userID, id)
		if !degraded(err) {
			return err
		}
		s.warn("delete", err)
	} else {
		s.warn("delete", nil)
	}
	return s.stub.Delete(ctx, userID, id)
}

func (s *FallbackExperientialStore) PruneOldMemories(ctx context.Context, userID string, importanceThreshold float64, maxAge time.Duration) (int, error) {
	if s.primary != nil {
		n, err := s.primary.PruneOldMemories(ctx, userID, importanceThreshold, maxAge)
		if !degraded(err) {
			return n, err
		}
		s.warn("prune", err)
	} else {
		s.warn("prune", nil)
	}
	return s.stub.PruneOldMemories(ctx, userID, importanceThreshold, maxAge)
}

func (s *FallbackExperientialStore) Stats(ctx context.Context, userID string) (*ExperientialStats, error) {
	if s.primary != nil {
		stats, err := s.primary.Stats(ctx, userID)
		if !degraded(err) {
			return stats, err
		}
		s.warn("stats", err)
	} else {
		s.warn("stats", nil)
	}
	return s.stub.Stats(ctx, userID)
}

var (
	_ FactualStore      = (*FallbackFactualStore)(nil)
	_ ExperientialStore = (*FallbackExperientialStore)(nil)
)
