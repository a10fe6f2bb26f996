package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsSplitsEmbeddedSchema(t *testing.T) {
	stmts := statements(schema)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS tables"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE IF NOT EXISTS reservations"))
	assert.Contains(t, stmts[1], "uq_reservations_active_slot")
	for _, s := range stmts {
		assert.False(t, strings.HasSuffix(s, ";"))
	}
}

func TestStatementsIgnoresBlankParts(t *testing.T) {
	stmts := statements("SELECT 1;\n\n  ;\nSELECT 2;")
	assert.Equal(t, []string{"SELECT 1", "SELECT 2"}, stmts)
}
