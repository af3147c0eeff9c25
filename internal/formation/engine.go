// Package formation turns run event streams into memory records.
//
// Extraction is not idempotent: re-extracting the same run duplicates
// memories, so callers must guarantee at-most-once extraction per run ID.
package formation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/eventlog"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

const (
	stepOutputConfidence = 0.8
	preferenceConfidence = 0.9

	successBaseImportance = 0.6
	failureBaseImportance = 0.7

	// Importance bonuses for long and varied runs.
	manyEventsThreshold     = 10
	manyEventTypesThreshold = 5
	importanceBonus         = 0.1

	// Skill heuristics.
	complexWorkflowStepThreshold = 5
	skillComplexWorkflow         = "complex_workflow_execution"
	skillValidation              = "validation_implementation"
)

// Extraction is what a single run contributed to the stores.
type Extraction struct {
	Facts       []memory.FactualMemory      `json:"facts"`
	Experiences []memory.ExperientialMemory `json:"experiences"`
}

// Engine builds memories from run event streams and manual records.
type Engine struct {
	events      eventlog.Log
	facts       store.FactualStore
	experiences store.ExperientialStore
	logger      *zap.Logger
}

// NewEngine creates a formation engine.
func NewEngine(events eventlog.Log, facts store.FactualStore, experiences store.ExperientialStore, logger *zap.Logger) (*Engine, error) {
	if events == nil {
		return nil, fmt.Errorf("event log cannot be nil")
	}
	if facts == nil {
		return nil, fmt.Errorf("factual store cannot be nil")
	}
	if experiences == nil {
		return nil, fmt.Errorf("experiential store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		events:      events,
		facts:       facts,
		experiences: experiences,
		logger:      logger,
	}, nil
}

// ExtractFromRun reads the run's event stream and writes factual and
// experiential memories for userID. An empty stream yields an empty
// extraction, not an error.
func (e *Engine) ExtractFromRun(ctx context.Context, runID, userID string) (*Extraction, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	events, err := e.events.GetRunEvents(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("reading run events: %w", err)
	}

	result := &Extraction{}
	if len(events) == 0 {
		return result, nil
	}

	for _, ev := range events {
		switch ev.Type {
		case eventlog.TypeStepCompleted:
			fact := stepOutputFact(runID, userID, ev)
			if fact == nil {
				continue
			}
			stored, err := e.facts.Store(ctx, fact)
			if err != nil {
				return nil, fmt.Errorf("storing step output fact: %w", err)
			}
			result.Facts = append(result.Facts, *stored)

		case eventlog.TypeUserInput:
			fact := preferenceFact(runID, userID, ev)
			if fact == nil {
				continue
			}
			stored, err := e.facts.Store(ctx, fact)
			if err != nil {
				return nil, fmt.Errorf("storing preference fact: %w", err)
			}
			result.Facts = append(result.Facts, *stored)
		}
	}

	if exp := runOutcomeExperience(runID, userID, events); exp != nil {
		stored, err := e.experiences.Store(ctx, exp)
		if err != nil {
			return nil, fmt.Errorf("storing run experience: %w", err)
		}
		result.Experiences = append(result.Experiences, *stored)
	}

	e.logger.Info("run extracted",
		zap.String("run_id", runID),
		zap.String("user_id", userID),
		zap.Int("events", len(events)),
		zap.Int("facts", len(result.Facts)),
		zap.Int("experiences", len(result.Experiences)))

	return result, nil
}

// stepOutputFact builds a fact from a step.completed event, or nil when the
// event carries no output.
func stepOutputFact(runID, userID string, ev eventlog.Event) *memory.FactualMemory {
	output := stringField(ev.Data, "output")
	if output == "" {
		return nil
	}

	tags := []string{"step_output"}
	if stepID := stringField(ev.Data, "step_id"); stepID != "" {
		tags = append(tags, stepID)
	}

	return &memory.FactualMemory{
		UserID:     userID,
		Kind:       memory.FactKindFact,
		Content:    output,
		Source:     "run:" + runID,
		Confidence: stepOutputConfidence,
		Tags:       tags,
	}
}

// preferenceFact builds a preference from a user.input event, or nil when the
// event carries no preference field.
func preferenceFact(runID, userID string, ev eventlog.Event) *memory.FactualMemory {
	preference := stringField(ev.Data, "preference")
	if preference == "" {
		return nil
	}

	return &memory.FactualMemory{
		UserID:     userID,
		Kind:       memory.FactKindPreference,
		Content:    preference,
		Source:     "run:" + runID,
		Confidence: preferenceConfidence,
	}
}

// runOutcomeExperience derives the run's experiential memory. A run without a
// terminal event after run.started is ambiguous and yields nil.
func runOutcomeExperience(runID, userID string, events []eventlog.Event) *memory.ExperientialMemory {
	started := -1
	completed := -1
	failed := -1
	stepCount := 0
	validationPassed := false
	eventTypes := make(map[string]struct{})
	var errText string

	for i, ev := range events {
		eventTypes[ev.Type] = struct{}{}
		switch ev.Type {
		case eventlog.TypeRunStarted:
			if started == -1 {
				started = i
			}
		case eventlog.TypeRunCompleted:
			completed = i
		case eventlog.TypeRunFailed:
			failed = i
			if msg := stringField(ev.Data, "error"); msg != "" {
				errText = msg
			}
		case eventlog.TypeStepCompleted:
			stepCount++
		case eventlog.TypeValidationPassed:
			validationPassed = true
		}
	}

	success := started != -1 && completed > started
	if !success && failed == -1 {
		return nil
	}

	var exp *memory.ExperientialMemory
	if success {
		exp = &memory.ExperientialMemory{
			UserID:     userID,
			Kind:       memory.ExperienceKindSuccess,
			Context:    fmt.Sprintf("workflow run %s", runID),
			Action:     "workflow_execution",
			Outcome:    fmt.Sprintf("run completed successfully after %d steps", stepCount),
			Reflection: "the executed step sequence produced the expected terminal state",
			Importance: successBaseImportance,
		}
	} else {
		if errText == "" {
			errText = "unknown error"
		}
		exp = &memory.ExperientialMemory{
			UserID:     userID,
			Kind:       memory.ExperienceKindFailure,
			Context:    fmt.Sprintf("workflow run %s", runID),
			Action:     "workflow_execution",
			Outcome:    fmt.Sprintf("run failed: %s", errText),
			Reflection: fmt.Sprintf("avoid repeating the conditions that caused: %s", errText),
			Importance: failureBaseImportance,
		}
	}

	if len(events) > manyEventsThreshold {
		exp.Importance += importanceBonus
	}
	if len(eventTypes) > manyEventTypesThreshold {
		exp.Importance += importanceBonus
	}
	exp.Importance = memory.Clamp01(exp.Importance)

	if stepCount > complexWorkflowStepThreshold {
		exp.LearnedSkills = append(exp.LearnedSkills, skillComplexWorkflow)
	}
	if validationPassed {
		exp.LearnedSkills = append(exp.LearnedSkills, skillValidation)
	}

	return exp
}

// RecordFact stores a manually supplied fact, bypassing extraction.
func (e *Engine) RecordFact(ctx context.Context, m *memory.FactualMemory) (*memory.FactualMemory, error) {
	if m == nil {
		return nil, fmt.Errorf("fact cannot be nil")
	}
	stored, err := e.facts.Store(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("recording fact: %w", err)
	}
	e.logger.Info("manual fact recorded",
		zap.String("user_id", stored.UserID),
		zap.String("id", stored.ID),
		zap.String("kind", string(stored.Kind)))
	return stored, nil
}

// RecordExperience stores a manually supplied experience, bypassing
// extraction.
func (e *Engine) RecordExperience(ctx context.Context, m *memory.ExperientialMemory) (*memory.ExperientialMemory, error) {
	if m == nil {
		return nil, fmt.Errorf("experience cannot be nil")
	}
	stored, err := e.experiences.Store(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("recording experience: %w", err)
	}
	e.logger.Info("manual experience recorded",
		zap.String("user_id", stored.UserID),
		zap.String("id", stored.ID),
		zap.String("kind", string(stored.Kind)))
	return stored, nil
}

// stringField reads a string value from event data, tolerating missing keys.
func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}
