package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/trade-nexus/internal/db/dbtest"
	"github.com/pysugar/trade-nexus/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	clock := newFakeClock()
	return NewStore(dbtest.Open(t), WithNowFunc(clock.Now)), clock
}

func TestStore_GetValidToken_Absent(t *testing.T) {
	store, _ := newTestStore(t)

	tok, err := store.GetValidToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestStore_UpsertThenGet(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "u1", "T1", 24*time.Hour))

	tok, err := store.GetValidToken(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "T1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(clock.Now().Add(24*time.Hour)))
}

func TestStore_ExpiryBoundaryIsExclusive(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "u1", "T1", time.Hour))

	clock.Advance(time.Hour - time.Second)
	tok, err := store.GetValidToken(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, tok)

	clock.Advance(time.Second)
	tok, err = store.GetValidToken(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, tok, "a token expiring exactly now is not valid")

	var count int64
	require.NoError(t, store.db.Model(&models.Token{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "expired rows stay until swept")
}

func TestStore_UpsertReplacesExistingRow(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "u1", "T1", time.Hour))
	clock.Advance(2 * time.Hour)
	require.NoError(t, store.Upsert(ctx, "u1", "T2", 24*time.Hour))

	var rows []models.Token
	require.NoError(t, store.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "T2", rows[0].AccessToken)
	assert.True(t, rows[0].ExpiresAt.Equal(clock.Now().Add(24*time.Hour)))
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "u1"))
	require.NoError(t, store.Upsert(ctx, "u1", "T1", time.Hour))
	require.NoError(t, store.Delete(ctx, "u1"))
	require.NoError(t, store.Delete(ctx, "u1"))

	tok, err := store.GetValidToken(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestStore_Status(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	status, err := store.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Status{}, status)

	require.NoError(t, store.Upsert(ctx, "u1", "T1", 24*time.Hour))
	clock.Advance(time.Minute)

	status, err = store.Status(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.HasToken)
	require.NotNil(t, status.RemainingHours)
	assert.Equal(t, int64(23), *status.RemainingHours)
	require.NotNil(t, status.ExpiresAt)

	clock.Advance(30 * time.Hour)
	status, err = store.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.HasToken)
	require.NotNil(t, status.RemainingHours)
	assert.Equal(t, int64(0), *status.RemainingHours)
}

func TestStore_DeleteExpired(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "old", "T1", time.Hour))
	clock.Advance(2 * time.Hour)
	require.NoError(t, store.Upsert(ctx, "fresh", "T2", time.Hour))

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tok, err := store.GetValidToken(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, tok)
}
