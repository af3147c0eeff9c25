package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDDLEnablesVectorExtensionFirst(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, schemaDDL)
	assert.Contains(t, schemaDDL[0], "CREATE EXTENSION IF NOT EXISTS vector")

	// The embedding column depends on the extension, so every table statement
	// must come after it.
	for _, ddl := range schemaDDL[1:] {
		assert.NotContains(t, ddl, "CREATE EXTENSION")
	}
	assert.Contains(t, factualSchema, "embedding  vector(384)")
}

func TestFactualColumnsCoverEmbedding(t *testing.T) {
	t.Parallel()

	cols := strings.Split(factualColumns, ", ")
	assert.Len(t, cols, 10)
	assert.Contains(t, cols, "embedding")

	// Every column the schema declares is read back through the shared list.
	for _, col := range cols {
		assert.Contains(t, factualSchema, col)
	}
}
