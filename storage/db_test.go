package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()
	_, err := db.Get([]byte("absent"))
	require.True(t, errors.Is(err, ErrNotFound))

	ok, err := db.Has([]byte("absent"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDBBatchAppliesAtomically(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("a"), []byte("1")))

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	require.Equal(t, 2, batch.Len())

	ok, err := db.Has([]byte("b"))
	require.NoError(t, err)
	require.False(t, ok, "batch must not be visible before Write")

	require.NoError(t, batch.Write())
	got, err := db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	batch := db.NewBatch()
	batch.Put([]byte("k"), []byte("v"))
	require.NoError(t, batch.Write())

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, db.Delete([]byte("k")))
	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOverlayStagesUntilCommit(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("keep"), []byte("old")))
	require.NoError(t, db.Put([]byte("drop"), []byte("x")))

	ov := NewOverlay(db)
	require.NoError(t, ov.Put([]byte("keep"), []byte("new")))
	require.NoError(t, ov.Delete([]byte("drop")))

	got, err := ov.Get([]byte("keep"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
	ok, err := ov.Has([]byte("drop"))
	require.NoError(t, err)
	require.False(t, ok)

	parent, err := db.Get([]byte("keep"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), parent)

	require.NoError(t, ov.Commit())
	require.Equal(t, 0, ov.Dirty())

	parent, err = db.Get([]byte("keep"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), parent)
	_, err = db.Get([]byte("drop"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOverlayDiscardLeavesParentUntouched(t *testing.T) {
	db := NewMemDB()
	ov := NewOverlay(db)
	require.NoError(t, ov.Put([]byte("k"), []byte("v")))
	ov.Discard()

	require.Equal(t, 0, db.Len())
	_, err := ov.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}
