// Package services wires the memory engines together and exposes the public
// API surface other components call.
package services

import (
	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/formation"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/semantic"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/workingmem"
)

// Registry provides access to all memoryd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Facts() store.FactualStore
	Experiences() store.ExperientialStore
	WorkingMemory() *workingmem.Registry
	Formation() *formation.Engine
	Retrieval() *retrieval.Engine
	Consolidation() *consolidation.Engine
	SemanticIndex() *semantic.Index
}

// Options configures the registry with service instances.
type Options struct {
	Facts         store.FactualStore
	Experiences   store.ExperientialStore
	WorkingMemory *workingmem.Registry
	Formation     *formation.Engine
	Retrieval     *retrieval.Engine
	Consolidation *consolidation.Engine
	SemanticIndex *semantic.Index
}

// registry is the concrete implementation of Registry.
type registry struct {
	facts         store.FactualStore
	experiences   store.ExperientialStore
	workingMemory *workingmem.Registry
	formation     *formation.Engine
	retrieval     *retrieval.Engine
	consolidation *consolidation.Engine
	semanticIndex *semantic.Index
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		facts:         opts.Facts,
		experiences:   opts.Experiences,
		workingMemory: opts.WorkingMemory,
		formation:     opts.Formation,
		retrieval:     opts.Retrieval,
		consolidation: opts.Consolidation,
		semanticIndex: opts.SemanticIndex,
	}
}

func (r *registry) Facts() store.FactualStore            { return r.facts }
func (r *registry) Experiences() store.ExperientialStore { return r.experiences }
func (r *registry) WorkingMemory() *workingmem.Registry  { return r.workingMemory }
func (r *registry) Formation() *formation.Engine         { return r.formation }
func (r *registry) Retrieval() *retrieval.Engine         { return r.retrieval }
func (r *registry) Consolidation() *consolidation.Engine { return r.consolidation }
func (r *registry) SemanticIndex() *semantic.Index       { return r.semanticIndex }
