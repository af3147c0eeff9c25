// Package store provides persistence for factual and experiential memories.
//
// Two backends exist: an in-memory store used for tests and degraded local
// operation, and a Postgres store built on pgx for production. The Fallback
// wrappers route writes to the in-memory stub with a logged warning whenever
// the primary backend is unavailable, so callers never fail on storage
// outages (degraded local mode).
package store
