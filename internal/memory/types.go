package memory

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for memory operations.
var (
	ErrNotFound       = errors.New("memory not found")
	ErrEmptyUserID    = errors.New("user ID cannot be empty")
	ErrEmptyContent   = errors.New("memory content cannot be empty")
	ErrInvalidKind    = errors.New("invalid memory kind")
	ErrNotConfigured  = errors.New("backing store not configured")
	ErrStorage        = errors.New("storage operation failed")
)

// FactKind classifies a factual memory.
type FactKind string

const (
	FactKindFact       FactKind = "fact"
	FactKindRule       FactKind = "rule"
	FactKindEntity     FactKind = "entity"
	FactKindRelation   FactKind = "relation"
	FactKindPreference FactKind = "preference"
)

// Valid reports whether k is a recognized factual kind.
func (k FactKind) Valid() bool {
	switch k {
	case FactKindFact, FactKindRule, FactKindEntity, FactKindRelation, FactKindPreference:
		return true
	}
	return false
}

// ExperienceKind classifies an experiential memory.
type ExperienceKind string

const (
	ExperienceKindSuccess      ExperienceKind = "success"
	ExperienceKindFailure      ExperienceKind = "failure"
	ExperienceKindPattern      ExperienceKind = "pattern"
	ExperienceKindLesson       ExperienceKind = "lesson"
	ExperienceKindOptimization ExperienceKind = "optimization"
)

// Valid reports whether k is a recognized experiential kind.
func (k ExperienceKind) Valid() bool {
	switch k {
	case ExperienceKindSuccess, ExperienceKindFailure, ExperienceKindPattern,
		ExperienceKindLesson, ExperienceKindOptimization:
		return true
	}
	return false
}

// Clamp01 clamps v to the [0,1] range.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FactualMemory is a discrete fact, rule, entity, relation, or preference
// learned about a user or their workflows.
type FactualMemory struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Kind       FactKind       `json:"kind"`
	Content    string         `json:"content"`
	Source     string         `json:"source,omitempty"`
	Confidence float64        `json:"confidence"`
	Tags       []string       `json:"tags,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks required fields and clamps confidence into [0,1].
func (m *FactualMemory) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
	}
	m.Confidence = Clamp01(m.Confidence)
	return nil
}

// ExperientialMemory records the outcome of an action and the lesson drawn
// from it.
type ExperientialMemory struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Kind            ExperienceKind `json:"kind"`
	Context         string         `json:"context"`
	Action          string         `json:"action,omitempty"`
	Outcome         string         `json:"outcome,omitempty"`
	Reflection      string         `json:"reflection,omitempty"`
	LearnedSkills   []string       `json:"learned_skills,omitempty"`
	Importance      float64        `json:"importance"`
	RelatedMemories []string       `json:"related_memories,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Validate checks required fields and clamps importance into [0,1].
func (m *ExperientialMemory) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Context == "" {
		return ErrEmptyContent
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
	}
	m.Importance = Clamp01(m.Importance)
	return nil
}

// FactualQuery filters factual memories. UserID is mandatory; all other
// fields are optional narrowing criteria.
type FactualQuery struct {
	UserID        string
	Kind          FactKind
	Tags          []string
	MinConfidence float64
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}

// ExperientialQuery filters experiential memories. UserID is mandatory.
type ExperientialQuery struct {
	UserID        string
	Kind          ExperienceKind
	Skills        []string
	MinImportance float64
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}
