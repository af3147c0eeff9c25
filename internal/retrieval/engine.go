// Package retrieval ranks stored memories against a query.
//
// Ranking is deterministic: keyword overlap (Jaccard), confidence or
// importance, working-memory attention overlap, exponential temporal decay,
// and per-kind multipliers. The engine is read-only; it never mutates a
// memory.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/semantic"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/workingmem"
)

const (
	// MaxResults caps the ranked result list.
	MaxResults = 10

	// MinScore filters out weak matches.
	MinScore = 0.3

	// CandidateLimit bounds the recall scan per store.
	CandidateLimit = 50

	// semanticRecallLimit bounds extra candidates pulled from the optional
	// semantic index.
	semanticRecallLimit = 20

	trustWeight     = 0.3
	overlapWeight   = 0.4
	attentionWeight = 0.1
)

// Per-kind score multipliers.
var (
	factKindMultipliers = map[memory.FactKind]float64{
		memory.FactKindRule:       1.2,
		memory.FactKindPreference: 1.1,
	}
	experienceKindMultipliers = map[memory.ExperienceKind]float64{
		memory.ExperienceKindPattern: 1.3,
		memory.ExperienceKindSuccess: 1.1,
	}
)

// Result is one ranked match. Exactly one of Factual and Experiential is set.
type Result struct {
	Factual      *memory.FactualMemory      `json:"factual,omitempty"`
	Experiential *memory.ExperientialMemory `json:"experiential,omitempty"`
	Score        float64                    `json:"score"`
	Reason       string                     `json:"reason"`
}

// Engine ranks memories from both stores against free-text queries.
type Engine struct {
	facts       store.FactualStore
	experiences store.ExperientialStore
	index       *semantic.Index
	logger      *zap.Logger
	now         func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSemanticIndex enables semantic candidate recall. The index only widens
// recall; scoring is unchanged, so a nil index reproduces baseline results.
func WithSemanticIndex(index *semantic.Index) EngineOption {
	return func(e *Engine) {
		e.index = index
	}
}

// WithClock injects the time source used for temporal decay.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a retrieval engine over the two stores.
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
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Retrieve ranks the user's memories against queryText. wm may be nil; when
// present, its attention set contributes to factual and experiential scores.
// Returns up to MaxResults results with score >= MinScore, best first.
func (e *Engine) Retrieve(ctx context.Context, userID, queryText string, wm *workingmem.WorkingMemory) ([]Result, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	query := KeywordSet(queryText)
	if len(query) == 0 {
		return nil, nil
	}

	var attention map[string]struct{}
	if wm != nil && len(wm.Attention) > 0 {
		attention = KeywordSet(wm.Attention...)
	}

	facts, err := e.facts.Retrieve(ctx, memory.FactualQuery{
		UserID: userID,
		Limit:  CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("recalling factual candidates: %w", err)
	}

	experiences, err := e.experiences.Retrieve(ctx, memory.ExperientialQuery{
		UserID: userID,
		Limit:  CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("recalling experiential candidates: %w", err)
	}

	facts, experiences, err = e.widenRecall(ctx, userID, queryText, facts, experiences)
	if err != nil {
		// Semantic recall is best-effort; the keyword baseline stands alone.
		e.logger.Warn("semantic recall failed", zap.Error(err))
	}

	now := e.now()
	var results []Result

	for i := range facts {
		rec := &facts[i]
		keywords := KeywordSet(append([]string{rec.Content}, rec.Tags...)...)
		if !intersects(query, keywords) {
			continue
		}
		score := e.scoreFactual(rec, query, keywords, attention, now)
		if score < MinScore {
			continue
		}
		results = append(results, Result{
			Factual: rec,
			Score:   score,
			Reason:  relevanceBucket(score),
		})
	}

	for i := range experiences {
		rec := &experiences[i]
		keywords := KeywordSet(append([]string{rec.Context, rec.Action}, rec.LearnedSkills...)...)
		if !intersects(query, keywords) {
			continue
		}
		score := e.scoreExperiential(rec, query, keywords, attention, now)
		if score < MinScore {
			continue
		}
		results = append(results, Result{
			Experiential: rec,
			Score:        score,
			Reason:       relevanceBucket(score),
		})
	}

	// Stable sort keeps store order on equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}

	e.logger.Debug("retrieval completed",
		zap.String("user_id", userID),
		zap.Int("query_keywords", len(query)),
		zap.Int("results", len(results)))

	return results, nil
}

// widenRecall unions semantic index hits into the candidate lists. With no
// index configured the lists pass through untouched.
func (e *Engine) widenRecall(ctx context.Context, userID, queryText string,
	facts []memory.FactualMemory, experiences []memory.ExperientialMemory,
) ([]memory.FactualMemory, []memory.ExperientialMemory, error) {
	if e.index == nil {
		return facts, experiences, nil
	}

	hits, err := e.index.Query(ctx, userID, queryText, semanticRecallLimit)
	if err != nil {
		return facts, experiences, err
	}

	haveFact := make(map[string]struct{}, len(facts))
	for _, f := range facts {
		haveFact[f.ID] = struct{}{}
	}
	haveExp := make(map[string]struct{}, len(experiences))
	for _, x := range experiences {
		haveExp[x.ID] = struct{}{}
	}

	for _, hit := range hits {
		if hit.Experiential {
			if _, ok := haveExp[hit.ID]; ok {
				continue
			}
			rec, err := e.experiences.Get(ctx, userID, hit.ID)
			if err != nil {
				continue
			}
			experiences = append(experiences, *rec)
			haveExp[hit.ID] = struct{}{}
		} else {
			if _, ok := haveFact[hit.ID]; ok {
				continue
			}
			rec, err := e.facts.Get(ctx, userID, hit.ID)
			if err != nil {
				continue
			}
			facts = append(facts, *rec)
			haveFact[hit.ID] = struct{}{}
		}
	}
	return facts, experiences, nil
}

func (e *Engine) scoreFactual(rec *memory.FactualMemory, query, keywords, attention map[string]struct{}, now time.Time) float64 {
	score := trustWeight*rec.Confidence +
		overlapWeight*Jaccard(query, keywords) +
		attentionWeight*Jaccard(keywords, attention)

	score *= Decay(now.Sub(rec.CreatedAt))
	if mult, ok := factKindMultipliers[rec.Kind]; ok {
		score *= mult
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (e *Engine) scoreExperiential(rec *memory.ExperientialMemory, query, keywords, attention map[string]struct{}, now time.Time) float64 {
	score := trustWeight*rec.Importance +
		overlapWeight*Jaccard(query, keywords) +
		attentionWeight*Jaccard(keywords, attention)

	score *= Decay(now.Sub(rec.CreatedAt))
	if mult, ok := experienceKindMultipliers[rec.Kind]; ok {
		score *= mult
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func relevanceBucket(score float64) string {
	switch {
	case score > 0.8:
		return "highly_relevant"
	case score > 0.6:
		return "relevant"
	case score > 0.4:
		return "somewhat_relevant"
	default:
		return "low_relevance"
	}
}
