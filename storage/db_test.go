package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("alpha"), []byte{0x01, 0x02}))

	got, err := db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, got)

	ok, err := db.Has([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Delete([]byte("alpha")))

	ok, err = db.Has([]byte("alpha"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = db.Get([]byte("alpha"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte{0xAA}
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 0xBB

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA}, got)
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, db.Delete([]byte("k")))

	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}
