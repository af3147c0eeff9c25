package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactKindValid(t *testing.T) {
	t.Parallel()

	for _, kind := range []FactKind{FactKindFact, FactKindRule, FactKindEntity, FactKindRelation, FactKindPreference} {
		assert.True(t, kind.Valid(), "kind %q should be valid", kind)
	}
	assert.False(t, FactKind("").Valid())
	assert.False(t, FactKind("opinion").Valid())
}

func TestExperienceKindValid(t *testing.T) {
	t.Parallel()

	for _, kind := range []ExperienceKind{ExperienceKindSuccess, ExperienceKindFailure, ExperienceKindPattern, ExperienceKindLesson, ExperienceKindOptimization} {
		assert.True(t, kind.Valid(), "kind %q should be valid", kind)
	}
	assert.False(t, ExperienceKind("").Valid())
	assert.False(t, ExperienceKind("win").Valid())
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 0.0, Clamp01(0))
	assert.Equal(t, 0.42, Clamp01(0.42))
	assert.Equal(t, 1.0, Clamp01(1))
	assert.Equal(t, 1.0, Clamp01(3.7))
}

func TestFactualMemoryValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		m       FactualMemory
		wantErr error
	}{
		{
			name: "valid",
			m:    FactualMemory{UserID: "alice", Kind: FactKindFact, Content: "prefers yaml", Confidence: 0.8},
		},
		{
			name:    "missing user",
			m:       FactualMemory{Kind: FactKindFact, Content: "x"},
			wantErr: ErrEmptyUserID,
		},
		{
			name:    "missing content",
			m:       FactualMemory{UserID: "alice", Kind: FactKindFact},
			wantErr: ErrEmptyContent,
		},
		{
			name:    "bad kind",
			m:       FactualMemory{UserID: "alice", Kind: "opinion", Content: "x"},
			wantErr: ErrInvalidKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.m.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFactualMemoryValidateClampsConfidence(t *testing.T) {
	t.Parallel()

	m := FactualMemory{UserID: "alice", Kind: FactKindFact, Content: "x", Confidence: 1.8}
	require.NoError(t, m.Validate())
	assert.Equal(t, 1.0, m.Confidence)

	m.Confidence = -0.3
	require.NoError(t, m.Validate())
	assert.Equal(t, 0.0, m.Confidence)
}

func TestExperientialMemoryValidate(t *testing.T) {
	t.Parallel()

	m := ExperientialMemory{UserID: "alice", Kind: ExperienceKindSuccess, Context: "deploy", Importance: 2.0}
	require.NoError(t, m.Validate())
	assert.Equal(t, 1.0, m.Importance)

	missing := ExperientialMemory{Kind: ExperienceKindSuccess, Context: "deploy"}
	require.ErrorIs(t, missing.Validate(), ErrEmptyUserID)

	noContext := ExperientialMemory{UserID: "alice", Kind: ExperienceKindSuccess}
	require.ErrorIs(t, noContext.Validate(), ErrEmptyContent)

	badKind := ExperientialMemory{UserID: "alice", Kind: "win", Context: "deploy"}
	require.ErrorIs(t, badKind.Validate(), ErrInvalidKind)
}
