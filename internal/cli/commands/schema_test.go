package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormanager/ormanager/pkg/orm/schema"
)

func writeSQLiteConfig(t *testing.T) {
	t.Helper()
	dir := scratchDir(t)
	content := "database:\n  driver: sqlite3\n  url: \"file:" + filepath.Join(dir, "library.db") + "?_foreign_keys=on\"\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ormanager.yaml"), []byte(content), 0644))
}

func TestSchemaLifecycle(t *testing.T) {
	writeSQLiteConfig(t)

	out, err := run(t, "schema", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Dialect:  sqlite3")
	assert.Regexp(t, `Book\s+books\s+no\s+publisher_id -> Publisher \(missing\)`, out)
	assert.Regexp(t, `Publisher\s+publishers\s+no\s+-`, out)

	out, err = run(t, "schema", "create")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Created table for Publisher")
	assert.Contains(t, out, "✓ Created table for Book")
	assert.Contains(t, out, "✓ Relationships established")

	out, err = run(t, "schema", "create")
	require.NoError(t, err)
	assert.Contains(t, out, "Table for Publisher already exists")
	assert.Contains(t, out, "Table for Book already exists")

	out, err = run(t, "schema", "status")
	require.NoError(t, err)
	assert.Regexp(t, `Book\s+books\s+yes\s+publisher_id -> Publisher \(ok\)`, out)
	assert.Regexp(t, `Publisher\s+publishers\s+yes`, out)

	out, err = run(t, "schema", "drop", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Dropped table for Book")
	assert.Contains(t, out, "✓ Dropped table for Publisher")

	out, err = run(t, "schema", "status")
	require.NoError(t, err)
	assert.Regexp(t, `Publisher\s+publishers\s+no`, out)
}

func TestSchemaCreate_MissingTarget(t *testing.T) {
	writeSQLiteConfig(t)

	_, err := run(t, "schema", "create", "Book")
	require.Error(t, err)

	var de *displayError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "SCHEMA CHANGE FAILED")
	assert.Contains(t, de.Error(), "missing entity Publisher")
}

func TestSchemaCreate_UnknownEntity(t *testing.T) {
	writeSQLiteConfig(t)

	_, err := run(t, "schema", "create", "Bok")
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnknownEntity)
	assert.Contains(t, err.Error(), "Did you mean: Book?")
}

func TestSchemaInMemory(t *testing.T) {
	scratchDir(t)

	out, err := run(t, "schema", "create", "--in-memory")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Created table for Publisher")

	_, err = os.Stat("ormanager.db")
	assert.True(t, os.IsNotExist(err))
}
