package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Schema DDL applied by EnsureSchema, in order. The vector extension must be
// enabled before the factual table's embedding column can be declared.
// The embedding column backs the optional semantic index; it stays NULL when
// the semantic feature flag is off.
const (
	extensionSchema = `CREATE EXTENSION IF NOT EXISTS vector;`

	factualSchema = `
CREATE TABLE IF NOT EXISTS factual_memories (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	content    TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL,
	tags       TEXT[] NOT NULL DEFAULT '{}',
	embedding  vector(384),
	metadata   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS factual_memories_user_created_idx
	ON factual_memories (user_id, created_at DESC);`

	experientialSchema = `
CREATE TABLE IF NOT EXISTS experiential_memories (
	id               UUID PRIMARY KEY,
	user_id          TEXT NOT NULL,
	kind             TEXT NOT NULL,
	context          TEXT NOT NULL,
	action           TEXT NOT NULL DEFAULT '',
	outcome          TEXT NOT NULL DEFAULT '',
	reflection       TEXT NOT NULL DEFAULT '',
	learned_skills   TEXT[] NOT NULL DEFAULT '{}',
	importance       DOUBLE PRECISION NOT NULL,
	related_memories TEXT[] NOT NULL DEFAULT '{}',
	metadata         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS experiential_memories_user_importance_idx
	ON experiential_memories (user_id, importance DESC, created_at DESC);`
)

var schemaDDL = []string{extensionSchema, factualSchema, experientialSchema}

// factualColumns is shared by the factual INSERT and SELECTs so every column
// written is also read back.
const factualColumns = `id, user_id, kind, content, source, confidence, tags, embedding, metadata, created_at`

// PostgresFactualStore is a FactualStore backed by Postgres via pgx.
type PostgresFactualStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PostgresExperientialStore is an ExperientialStore backed by Postgres via pgx.
type PostgresExperientialStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresPool connects a pgx pool and verifies the connection.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// EnsureSchema enables the pgvector extension and creates the memory tables
// if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range schemaDDL {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// NewPostgresFactualStore creates a Postgres-backed factual store.
func NewPostgresFactualStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresFactualStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresFactualStore{pool: pool, logger: logger}
}

// NewPostgresExperientialStore creates a Postgres-backed experiential store.
func NewPostgresExperientialStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresExperientialStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresExperientialStore{pool: pool, logger: logger}
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (s *PostgresFactualStore) Store(ctx context.Context, m *memory.FactualMemory) (*memory.FactualMemory, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	meta, err := marshalMetadata(cp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	var embedding any
	if len(cp.Embedding) > 0 {
		embedding = pgvector.NewVector(cp.Embedding)
	}

	q := `
		INSERT INTO factual_memories
			(` + factualColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := s.pool.Exec(ctx, q,
		cp.ID, cp.UserID, string(cp.Kind), cp.Content, cp.Source,
		cp.Confidence, cp.Tags, embedding, meta, cp.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: inserting factual memory: %v", memory.ErrStorage, err)
	}

	return &cp, nil
}

func (s *PostgresFactualStore) Get(ctx context.Context, userID, id string) (*memory.FactualMemory, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	q := `
		SELECT ` + factualColumns + `
		FROM factual_memories
		WHERE user_id = $1 AND id = $2`
	rec, err := scanFactual(s.pool.QueryRow(ctx, q, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memory.ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting factual memory: %v", memory.ErrStorage, err)
	}
	return rec, nil
}

func (s *PostgresFactualStore) Retrieve(ctx context.Context, q memory.FactualQuery) ([]memory.FactualMemory, error) {
	if q.UserID == "" {
		return nil, memory.ErrEmptyUserID
	}

	sql := `
		SELECT ` + factualColumns + `
		FROM factual_memories
		WHERE user_id = $1 AND confidence >= $2`
	args := []any{q.UserID, q.MinConfidence}

	if q.Kind != "" {
		args = append(args, string(q.Kind))
		sql += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if len(q.Tags) > 0 {
		args = append(args, q.Tags)
		sql += fmt.Sprintf(" AND tags && $%d", len(args))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	sql += " ORDER BY created_at DESC, id"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying factual memories: %v", memory.ErrStorage, err)
	}
	defer rows.Close()

	var out []memory.FactualMemory
	for rows.Next() {
		rec, err := scanFactual(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning factual memory: %v", memory.ErrStorage, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating factual memories: %v", memory.ErrStorage, err)
	}
	return out, nil
}

func (s *PostgresFactualStore) UpdateConfidence(ctx context.Context, userID, id string, value float64) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	const q = `UPDATE factual_memories SET confidence = $3 WHERE user_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, userID, id, memory.Clamp01(value))
	if err != nil {
		return fmt.Errorf("%w: updating confidence: %v", memory.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *PostgresFactualStore) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	const q = `DELETE FROM factual_memories WHERE user_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, userID, id)
	if err != nil {
		return fmt.Errorf("%w: deleting factual memory: %v", memory.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *PostgresFactualStore) Stats(ctx context.Context, userID string) (*FactualStats, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	stats := &FactualStats{ByKind: make(map[memory.FactKind]int)}

	const kindQ = `
		SELECT kind, COUNT(*), COALESCE(AVG(confidence), 0)
		FROM factual_memories
		WHERE user_id = $1
		GROUP BY kind`
	rows, err := s.pool.Query(ctx, kindQ, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying factual stats: %v", memory.ErrStorage, err)
	}
	defer rows.Close()

	var weightedConfidence float64
	for rows.Next() {
		var kind string
		var count int
		var avg float64
		if err := rows.Scan(&kind, &count, &avg); err != nil {
			return nil, fmt.Errorf("%w: scanning factual stats: %v", memory.ErrStorage, err)
		}
		stats.ByKind[memory.FactKind(kind)] = count
		stats.Total += count
		weightedConfidence += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating factual stats: %v", memory.ErrStorage, err)
	}
	if stats.Total > 0 {
		stats.AvgConfidence = weightedConfidence / float64(stats.Total)
	}

	const tagQ = `
		SELECT tag, COUNT(*) AS n
		FROM factual_memories, UNNEST(tags) AS tag
		WHERE user_id = $1
		GROUP BY tag
		ORDER BY n DESC, tag
		LIMIT 5`
	tagRows, err := s.pool.Query(ctx, tagQ, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying top tags: %v", memory.ErrStorage, err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var tc TagCount
		if err := tagRows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("%w: scanning top tags: %v", memory.ErrStorage, err)
		}
		stats.TopTags = append(stats.TopTags, tc)
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating top tags: %v", memory.ErrStorage, err)
	}

	return stats, nil
}

func scanFactual(row pgx.Row) (*memory.FactualMemory, error) {
	var rec memory.FactualMemory
	var kind string
	var embedding *pgvector.Vector
	var meta []byte
	if err := row.Scan(&rec.ID, &rec.UserID, &kind, &rec.Content, &rec.Source,
		&rec.Confidence, &rec.Tags, &embedding, &meta, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Kind = memory.FactKind(kind)
	if embedding != nil {
		rec.Embedding = embedding.Slice()
	}
	if len(meta) > 0 && string(meta) != "{}" {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresExperientialStore) Store(ctx context.Context, m *memory.ExperientialMemory) (*memory.ExperientialMemory, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	meta, err := marshalMetadata(cp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	const q = `
		INSERT INTO experiential_memories
			(id, user_id, kind, context, action, outcome, reflection,
			 learned_skills, importance, related_memories, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := s.pool.Exec(ctx, q,
		cp.ID, cp.UserID, string(cp.Kind), cp.Context, cp.Action, cp.Outcome,
		cp.Reflection, cp.LearnedSkills, cp.Importance, cp.RelatedMemories,
		meta, cp.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: inserting experiential memory: %v", memory.ErrStorage, err)
	}

	return &cp, nil
}

func (s *PostgresExperientialStore) Get(ctx context.Context, userID, id string) (*memory.ExperientialMemory, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	const q = `
		SELECT id, user_id, kind, context, action, outcome, reflection,
		       learned_skills, importance, related_memories, metadata, created_at
		FROM experiential_memories
		WHERE user_id = $1 AND id = $2`
	rec, err := scanExperiential(s.pool.QueryRow(ctx, q, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memory.ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting experiential memory: %v", memory.ErrStorage, err)
	}
	return rec, nil
}

func (s *PostgresExperientialStore) Retrieve(ctx context.Context, q memory.ExperientialQuery) ([]memory.ExperientialMemory, error) {
	if q.UserID == "" {
		return nil, memory.ErrEmptyUserID
	}

	sql := `
		SELECT id, user_id, kind, context, action, outcome, reflection,
		       learned_skills, importance, related_memories, metadata, created_at
		FROM experiential_memories
		WHERE user_id = $1 AND importance >= $2`
	args := []any{q.UserID, q.MinImportance}

	if q.Kind != "" {
		args = append(args, string(q.Kind))
		sql += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if len(q.Skills) > 0 {
		args = append(args, q.Skills)
		sql += fmt.Sprintf(" AND learned_skills && $%d", len(args))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	sql += " ORDER BY importance DESC, created_at DESC, id"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying experiential memories: %v", memory.ErrStorage, err)
	}
	defer rows.Close()

	var out []memory.ExperientialMemory
	for rows.Next() {
		rec, err := scanExperiential(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning experiential memory: %v", memory.ErrStorage, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating experiential memories: %v", memory.ErrStorage, err)
	}
	return out, nil
}

func (s *PostgresExperientialStore) UpdateImportance(ctx context.Context, userID, id string, value float64) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	const q = `UPDATE experiential_memories SET importance = $3 WHERE user_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, userID, id, memory.Clamp01(value))
	if err != nil {
		return fmt.Errorf("%w: updating importance: %v", memory.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *PostgresExperientialStore) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	const q = `DELETE FROM experiential_memories WHERE user_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, userID, id)
	if err != nil {
		return fmt.Errorf("%w: deleting experiential memory: %v", memory.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *PostgresExperientialStore) PruneOldMemories(ctx context.Context, userID string, importanceThreshold float64, maxAge time.Duration) (int, error) {
	if userID == "" {
		return 0, memory.ErrEmptyUserID
	}

	cutoff := time.Now().Add(-maxAge)
	const q = `
		DELETE FROM experiential_memories
		WHERE user_id = $1 AND importance < $2 AND created_at < $3`
	tag, err := s.pool.Exec(ctx, q, userID, importanceThreshold, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: pruning experiential memories: %v", memory.ErrStorage, err)
	}

	deleted := int(tag.RowsAffected())
	if deleted > 0 {
		s.logger.Info("pruned experiential memories",
			zap.String("user_id", userID),
			zap.Int("deleted", deleted),
			zap.Float64("threshold", importanceThreshold))
	}
	return deleted, nil
}

func (s *PostgresExperientialStore) Stats(ctx context.Context, userID string) (*ExperientialStats, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	stats := &ExperientialStats{ByKind: make(map[memory.ExperienceKind]int)}

	const kindQ = `
		SELECT kind, COUNT(*), COALESCE(AVG(importance), 0)
		FROM experiential_memories
		WHERE user_id = $1
		GROUP BY kind`
	rows, err := s.pool.Query(ctx, kindQ, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying experiential stats: %v", memory.ErrStorage, err)
	}
	defer rows.Close()

	var weightedImportance float64
	for rows.Next() {
		var kind string
		var count int
		var avg float64
		if err := rows.Scan(&kind, &count, &avg); err != nil {
			return nil, fmt.Errorf("%w: scanning experiential stats: %v", memory.ErrStorage, err)
		}
		stats.ByKind[memory.ExperienceKind(kind)] = count
		stats.Total += count
		weightedImportance += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating experiential stats: %v", memory.ErrStorage, err)
	}
	if stats.Total > 0 {
		stats.AvgImportance = weightedImportance / float64(stats.Total)
	}

	successes := stats.ByKind[memory.ExperienceKindSuccess]
	failures := stats.ByKind[memory.ExperienceKindFailure]
	if successes+failures > 0 {
		stats.SuccessRate = float64(successes) / float64(successes+failures)
	}

	const skillQ = `
		SELECT COUNT(DISTINCT skill)
		FROM experiential_memories, UNNEST(learned_skills) AS skill
		WHERE user_id = $1`
	if err := s.pool.QueryRow(ctx, skillQ, userID).Scan(&stats.UniqueSkills); err != nil {
		return nil, fmt.Errorf("%w: counting unique skills: %v", memory.ErrStorage, err)
	}

	return stats, nil
}

func scanExperiential(row pgx.Row) (*memory.ExperientialMemory, error) {
	var rec memory.ExperientialMemory
	var kind string
	var meta []byte
	if err := row.Scan(&rec.ID, &rec.UserID, &kind, &rec.Context, &rec.Action,
		&rec.Outcome, &rec.Reflection, &rec.LearnedSkills, &rec.Importance,
		&rec.RelatedMemories, &meta, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Kind = memory.ExperienceKind(kind)
	if len(meta) > 0 && string(meta) != "{}" {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &rec, nil
}

var (
	_ FactualStore      = (*PostgresFactualStore)(nil)
	_ ExperientialStore = (*PostgresExperientialStore)(nil)
)
