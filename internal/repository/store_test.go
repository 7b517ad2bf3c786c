package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ayonpaul8906/swapsmith-orders/internal/db"
)

func TestMemoryOrderRepo(t *testing.T) {
	runStoreContract(t, func(t *testing.T) orderStore {
		return NewMemoryOrderRepo()
	})
}

func TestSQLiteOrderRepo(t *testing.T) {
	runStoreContract(t, func(t *testing.T) orderStore {
		conn, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "orders.db"))
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return NewSQLiteOrderRepo(conn)
	})
}

func TestMemoryOrderRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryOrderRepo()
	o := newOrder("alice", base)
	require.NoError(t, r.Create(ctx, o))

	o.Status = "tampered"
	got, err := r.Get(ctx, o.ID, "")
	require.NoError(t, err)
	require.Equal(t, "pending", string(got.Status))

	got.OwnerID = "mallory"
	again, err := r.Get(ctx, o.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", again.OwnerID)
}
