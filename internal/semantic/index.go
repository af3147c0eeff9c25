// Package semantic provides the optional embedding-based recall index.
//
// The index is a strictly additive enhancement behind the semantic feature
// flag: when disabled (or never constructed) the retrieval engine scores the
// same candidates in the same way, so results are bit-identical to the
// keyword baseline. When enabled, the index only widens candidate recall;
// ranking still uses the deterministic keyword/decay formula.
package semantic

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Hit is a record surfaced by the index: its store ID and which store owns it.
type Hit struct {
	ID           string
	Experiential bool
}

// Index mirrors memory records into an embedded chromem-go database, one
// collection per user.
type Index struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	logger *zap.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewIndex creates a semantic index using the given embedding function.
func NewIndex(embed chromem.EmbeddingFunc, logger *zap.Logger) (*Index, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		db:          chromem.NewDB(),
		embed:       embed,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (i *Index) collection(userID string) (*chromem.Collection, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if col, ok := i.collections[userID]; ok {
		return col, nil
	}
	col, err := i.db.GetOrCreateCollection("user_"+userID, nil, i.embed)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	i.collections[userID] = col
	return col, nil
}

// IndexFactual mirrors a factual memory into the user's collection.
func (i *Index) IndexFactual(ctx context.Context, m *memory.FactualMemory) error {
	col, err := i.collection(m.UserID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:      m.ID,
		Content: m.Content,
		Metadata: map[string]string{
			"store": "factual",
			"kind":  string(m.Kind),
		},
	}
	if len(m.Embedding) > 0 {
		doc.Embedding = m.Embedding
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing factual memory: %w", err)
	}
	return nil
}

// IndexExperiential mirrors an experiential memory into the user's collection.
func (i *Index) IndexExperiential(ctx context.Context, m *memory.ExperientialMemory) error {
	col, err := i.collection(m.UserID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:      m.ID,
		Content: m.Context + "\n" + m.Action,
		Metadata: map[string]string{
			"store": "experiential",
			"kind":  string(m.Kind),
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing experiential memory: %w", err)
	}
	return nil
}

// Query returns up to k record hits for the user ordered by similarity.
// An empty collection yields no hits.
func (i *Index) Query(ctx context.Context, userID, text string, k int) ([]Hit, error) {
	col, err := i.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	if count := col.Count(); count < k {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying semantic index: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{
			ID:           res.ID,
			Experiential: res.Metadata["store"] == "experiential",
		})
	}
	return hits, nil
}
