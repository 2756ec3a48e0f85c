package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenAndRead(t *testing.T) {
	path := writeTemp(t, []byte("hello mapped world"))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, 18, m.Size())
	require.Equal(t, []byte("hello mapped world"), m.Bytes())

	buf := make([]byte, 6)
	n, err := m.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "mapped", string(buf))
}

func TestReadAtBounds(t *testing.T) {
	path := writeTemp(t, []byte("0123456789"))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	buf := make([]byte, 4)
	n, err := m.ReadAt(buf, 8)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 2, n)
	require.Equal(t, "89", string(buf[:n]))

	_, err = m.ReadAt(buf, 10)
	require.ErrorIs(t, err, io.EOF)

	_, err = m.ReadAt(buf, -1)
	require.ErrorIs(t, err, ErrInvalidOffset)
}

func TestEmptyFile(t *testing.T) {
	path := writeTemp(t, nil)

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, 0, m.Size())
	require.Empty(t, m.Bytes())
}

func TestCloseIdempotent(t *testing.T) {
	path := writeTemp(t, []byte("x"))

	m, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	require.Nil(t, m.Bytes())
	require.Equal(t, 0, m.Size())
	_, err = m.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
