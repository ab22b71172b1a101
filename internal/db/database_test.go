package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanvelozo/gaston-server/internal/config"
	"github.com/juanvelozo/gaston-server/internal/models"
)

func TestOpen_SQLiteAndMigrate(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, config.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Migrate(ctx, db))
	assert.True(t, db.Migrator().HasTable(&models.User{}))
	assert.True(t, db.Migrator().HasColumn(&models.User{}, "RefreshTokenHash"))
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.DriverSQLite, "")
	require.Error(t, err)

	_, err = Open(context.Background(), "mysql", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
