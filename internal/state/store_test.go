package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/mudgate/internal/clock"
)

func newMemStore(t *testing.T, clk clock.Clock) *SQLiteStore {
	t.Helper()
	opts := DefaultOptions(":memory:")
	opts.Clock = clk
	store, err := NewSQLiteStore(opts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBucketOperations(t *testing.T) {
	store := newMemStore(t, nil)

	require.NoError(t, store.CreateBucket("test"))
	assert.ErrorIs(t, store.CreateBucket("test"), ErrBucketExists)
}

func TestSetGetDelete(t *testing.T) {
	store := newMemStore(t, nil)
	require.NoError(t, store.CreateBucket("b"))

	require.NoError(t, store.Set("b", "k", []byte("v1"), 0))
	got, err := store.Get("b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, store.Set("b", "k", []byte("v2"), 0))
	got, err = store.Get("b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, store.Delete("b", "k"))
	_, err = store.Get("b", "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete("b", "k"), ErrNotFound)
}

func TestSet_MissingBucket(t *testing.T) {
	store := newMemStore(t, nil)
	assert.ErrorIs(t, store.Set("nope", "k", []byte("v"), 0), ErrBucketMissing)
}

func TestSet_TTLExpires(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := newMemStore(t, clk)
	require.NoError(t, store.CreateBucket("b"))

	require.NoError(t, store.Set("b", "k", []byte("v"), time.Minute))
	require.NoError(t, store.Set("b", "forever", []byte("v"), 0))
	keys, err := store.ListKeys("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"forever", "k"}, keys)

	clk.Advance(2 * time.Minute)
	_, err = store.Get("b", "k")
	assert.ErrorIs(t, err, ErrNotFound)
	keys, err = store.ListKeys("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"forever"}, keys)
}

func TestSet_PurgesExpiredRows(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := newMemStore(t, clk)
	require.NoError(t, store.CreateBucket("b"))

	require.NoError(t, store.Set("b", "old", []byte("v"), time.Minute))
	clk.Advance(time.Hour)
	require.NoError(t, store.Set("b", "new", []byte("v"), 0))

	// The expired row is gone, not merely hidden.
	assert.ErrorIs(t, store.Delete("b", "old"), ErrNotFound)
}

func TestJSONHelpers(t *testing.T) {
	store := newMemStore(t, nil)
	require.NoError(t, store.CreateBucket("b"))

	type item struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, store.SetJSON("b", "k", item{Name: "x", Count: 3}, 0))

	var got item
	require.NoError(t, store.GetJSON("b", "k", &got))
	assert.Equal(t, item{Name: "x", Count: 3}, got)
}

func TestClosedStore(t *testing.T) {
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Get("b", "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.CreateBucket("b"), ErrStoreClosed)
}

func TestFileBackend_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := NewSQLiteStore(DefaultOptions(path))
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket("b"))
	require.NoError(t, store.Set("b", "k", []byte("v"), 0))
	require.NoError(t, store.Set("b", "k2", []byte("v"), time.Hour))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(DefaultOptions(path))
	require.NoError(t, err)
	defer reopened.Close()

	keys, err := reopened.ListKeys("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "k2"}, keys)
	got, err := reopened.Get("b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
