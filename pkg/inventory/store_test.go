package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osshkit/osshd/pkg/device"
)

func testRecord(serial string) Record {
	return Record{
		Facts: device.Facts{
			OSVersion:    "15.1X53-D59.3",
			Hostname:     "sw-" + serial,
			SerialNumber: serial,
			Model:        "EX2300-48T",
		},
		PeerAddr:    "192.168.230.13",
		ConnectedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// storeUnderTest runs the Store contract tests against an implementation.
func storeUnderTest(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("GetMissingReturnsNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "NOPE")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutThenGet", func(t *testing.T) {
		rec := testRecord("JX0218140351")
		require.NoError(t, store.Put(ctx, rec))

		got, err := store.Get(ctx, "JX0218140351")
		require.NoError(t, err)
		assert.Equal(t, rec.Facts, got.Facts)
		assert.Equal(t, rec.PeerAddr, got.PeerAddr)
	})

	t.Run("PutOverwritesPreviousSighting", func(t *testing.T) {
		first := testRecord("JX0000000001")
		require.NoError(t, store.Put(ctx, first))

		second := first
		second.PeerAddr = "10.0.0.9"
		require.NoError(t, store.Put(ctx, second))

		got, err := store.Get(ctx, "JX0000000001")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.9", got.PeerAddr)
	})

	t.Run("RejectsRecordWithoutSerial", func(t *testing.T) {
		err := store.Put(ctx, Record{PeerAddr: "10.0.0.1"})
		assert.Error(t, err)
	})

	t.Run("ListReturnsAllRecords", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, testRecord("JX0000000002")))

		records, err := store.List(ctx)
		require.NoError(t, err)

		serials := make(map[string]bool)
		for _, rec := range records {
			serials[rec.Facts.SerialNumber] = true
		}
		assert.True(t, serials["JX0218140351"])
		assert.True(t, serials["JX0000000001"])
		assert.True(t, serials["JX0000000002"])
	})

	t.Run("HonorsCancelledContext", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.Put(cancelled, testRecord("JX0000000003"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	storeUnderTest(t, store)
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	storeUnderTest(t, store)
}

func TestBadgerStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, testRecord("JX0218140351")))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "JX0218140351")
	require.NoError(t, err)
	assert.Equal(t, "EX2300-48T", got.Facts.Model)
}
