package storage

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key, err := store.SaveStream("items/abc/photo.jpg", bytes.NewBufferString("jpeg-bytes"))
	require.NoError(t, err)
	require.Equal(t, "items/abc/photo.jpg", key)

	file, err := store.Open(key)
	require.NoError(t, err)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.Equal(t, "jpeg-bytes", string(data))

	require.NoError(t, store.Delete(key))
	require.NoError(t, store.Delete(key))
	_, err = store.Open(key)
	require.Error(t, err)
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../secret", "/etc/passwd", "a/../../b"} {
		_, err := store.Save(key, []byte("x"))
		require.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
