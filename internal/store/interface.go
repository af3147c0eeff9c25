package store

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// FactualStore persists factual memories for a single-user scope per call.
type FactualStore interface {
	// Store persists the record, generating ID and CreatedAt when unset.
	// Confidence is clamped to [0,1] before persisting.
	Store(ctx context.Context, m *memory.FactualMemory) (*memory.FactualMemory, error)

	// Get returns the record with the given ID owned by userID, or
	// memory.ErrNotFound.
	Get(ctx context.Context, userID, id string) (*memory.FactualMemory, error)

	// Retrieve returns records matching the query, newest first.
	Retrieve(ctx context.Context, q memory.FactualQuery) ([]memory.FactualMemory, error)

	// UpdateConfidence sets the record's confidence, re-clamped to [0,1].
	UpdateConfidence(ctx context.Context, userID, id string, value float64) error

	// Delete removes the record. Deleting a missing record returns
	// memory.ErrNotFound.
	Delete(ctx context.Context, userID, id string) error

	// Stats returns per-user aggregates over factual memories.
	Stats(ctx context.Context, userID string) (*FactualStats, error)
}

// ExperientialStore persists experiential memories.
type ExperientialStore interface {
	// Store persists the record, generating ID and CreatedAt when unset.
	// Importance is clamped to [0,1] before persisting.
	Store(ctx context.Context, m *memory.ExperientialMemory) (*memory.ExperientialMemory, error)

	// Get returns the record with the given ID owned by userID, or
	// memory.ErrNotFound.
	Get(ctx context.Context, userID, id string) (*memory.ExperientialMemory, error)

	// Retrieve returns records matching the query, ordered by importance
	// descending, then recency.
	Retrieve(ctx context.Context, q memory.ExperientialQuery) ([]memory.ExperientialMemory, error)

	// UpdateImportance sets the record's importance, re-clamped to [0,1].
	UpdateImportance(ctx context.Context, userID, id string, value float64) error

	// Delete removes the record. Deleting a missing record returns
	// memory.ErrNotFound.
	Delete(ctx context.Context, userID, id string) error

	// PruneOldMemories deletes records whose importance is below threshold
	// AND whose age exceeds maxAge. Records failing either condition are
	// never deleted; a second identical call deletes nothing new.
	// Returns the number of deleted records.
	PruneOldMemories(ctx context.Context, userID string, importanceThreshold float64, maxAge time.Duration) (int, error)

	// Stats returns per-user aggregates over experiential memories.
	Stats(ctx context.Context, userID string) (*ExperientialStats, error)
}

// TagCount is a tag with its occurrence count, used in stats reporting.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// FactualStats aggregates a user's factual memories.
type FactualStats struct {
	Total         int                     `json:"total"`
	ByKind        map[memory.FactKind]int `json:"by_kind"`
	AvgConfidence float64                 `json:"avg_confidence"`
	TopTags       []TagCount              `json:"top_tags"`
}

// ExperientialStats aggregates a user's experiential memories.
type ExperientialStats struct {
	Total         int                           `json:"total"`
	ByKind        map[memory.ExperienceKind]int `json:"by_kind"`
	AvgImportance float64                       `json:"avg_importance"`
	SuccessRate   float64                       `json:"success_rate"`
	UniqueSkills  int                           `json:"unique_skills"`
}
