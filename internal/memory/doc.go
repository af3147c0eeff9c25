// Package memory defines the record types shared by the memoryd core.
//
// Two kinds of long-term records exist: factual memories (discrete facts,
// rules, and preferences with a confidence score) and experiential memories
// (outcomes of past runs with an importance score). Both are strictly scoped
// to a single user: every store and engine operation takes the owning user ID,
// so cross-user reads are impossible by construction.
//
// Confidence and importance always live in [0,1]. Values are clamped at
// construction and re-clamped on every update.
package memory
