package repo

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanvelozo/gaston-server/internal/config"
	"github.com/juanvelozo/gaston-server/internal/db"
	"github.com/juanvelozo/gaston-server/internal/models"
)

func newPostgresRepo(t *testing.T) *GormRepo {
	t.Helper()

	dsn := os.Getenv("AUTH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUTH_TEST_DATABASE_URL is required for postgres tests")
	}

	ctx := context.Background()
	gdb, err := db.Open(ctx, config.DriverPostgres, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, gdb))

	t.Cleanup(func() {
		gdb.Exec("TRUNCATE TABLE users RESTART IDENTITY CASCADE")
		_ = db.Close(gdb)
	})
	return New(gdb)
}

func TestPostgres_DuplicateEmail(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, &models.User{Email: "a@x.com", PasswordHash: "h", FullName: "A"}))
	err := r.Create(ctx, &models.User{Email: "a@x.com", PasswordHash: "h", FullName: "B"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestPostgres_ConcurrentConditionalUpdate(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()

	u := &models.User{Email: "a@x.com", PasswordHash: "h", FullName: "A"}
	require.NoError(t, r.Create(ctx, u))
	_, err := r.UpdateHashFields(ctx, u.ID, HashFields{RefreshTokenHash: ptr("h0")})
	require.NoError(t, err)

	const n = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		stale int
	)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := "h" + string(rune('a'+i))
			_, err := r.UpdateHashFields(ctx, u.ID, HashFields{RefreshTokenHash: &next, IfRefreshTokenHash: ptr("h0")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, ErrStale):
				stale++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, stale)
}
