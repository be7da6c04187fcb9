package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/safe-comments/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		body, err := fs.ReadFile(migrations.FS, f)
		require.NoError(t, err)
		require.Contains(t, string(body), "-- +goose Up", f)
		require.Contains(t, string(body), "-- +goose Down", f)
	}

	schema, err := fs.ReadFile(migrations.FS, "00001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"accounts", "objects", "entries", "permissions", "auth_limiter"} {
		require.True(t, strings.Contains(string(schema), "CREATE TABLE "+table+" ("), table)
	}
}

func TestPrepare(t *testing.T) {
	require.NoError(t, prepare(zaptest.NewLogger(t)))
}
