package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemo_InMemory(t *testing.T) {
	scratchDir(t)

	out, err := run(t, "demo", "--in-memory")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Tables publishers and books are in place")
	assert.Contains(t, out, `✓ Saved publisher #1 and found it again as "Acme"`)
	assert.Contains(t, out, "✓ Persist refused a publisher that already has an identifier")
	assert.Contains(t, out, `✓ Book #1 "X" references publisher #1`)
	assert.Contains(t, out, "✓ Deleted publisher #2 together with its 3 books")
	assert.Contains(t, out, "✓ Streamed 2 publishers, 2 loaded into the cache")
}

func TestDemo_RerunsAgainstConfiguredDatabase(t *testing.T) {
	writeSQLiteConfig(t)

	_, err := run(t, "demo")
	require.NoError(t, err)

	out, err := run(t, "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Streamed 2 publishers, 2 loaded into the cache")
}
