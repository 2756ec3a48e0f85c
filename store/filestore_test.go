package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segstore/segment"
)

func TestFileStoreRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(string(codec), func(t *testing.T) {
			s, err := NewFileStore(t.TempDir(), func(o *FileStoreOptions) {
				o.Codec = codec
			})
			require.NoError(t, err)
			defer s.Close()

			rid := writeString(t, s, "on disk")
			require.Equal(t, 1, s.Len())
			require.True(t, s.ContainsSegment(rid.ID))
			require.Equal(t, "on disk", readString(t, rid))
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFileStore(dir, func(o *FileStoreOptions) {
		o.Codec = CodecZstd
	})
	require.NoError(t, err)
	rid := writeString(t, s, "survives restarts")
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 1, reopened.Len())

	// IDs are interned per store, so the reopened store hands out its
	// own instance for the same 128 bits.
	id := reopened.Tracker().Intern(rid.ID.MSB(), rid.ID.LSB())
	require.True(t, reopened.ContainsSegment(id))

	seg, err := reopened.ReadSegment(id)
	require.NoError(t, err)
	r, err := seg.Reader()
	require.NoError(t, err)
	got, err := r.ReadString(rid.Number)
	require.NoError(t, err)
	require.Equal(t, "survives restarts", got)
}

func TestFileStoreMixedCodecs(t *testing.T) {
	dir := t.TempDir()

	plain, err := NewFileStore(dir)
	require.NoError(t, err)
	rid := writeString(t, plain, "written uncompressed")
	require.NoError(t, plain.Close())

	// Reopening with another codec only affects new writes; existing
	// files are decoded by extension.
	s, err := NewFileStore(dir, func(o *FileStoreOptions) {
		o.Codec = CodecLZ4
	})
	require.NoError(t, err)
	defer s.Close()

	id := s.Tracker().Intern(rid.ID.MSB(), rid.ID.LSB())
	seg, err := s.ReadSegment(id)
	require.NoError(t, err)
	r, err := seg.Reader()
	require.NoError(t, err)
	got, err := r.ReadString(rid.Number)
	require.NoError(t, err)
	require.Equal(t, "written uncompressed", got)

	second := writeString(t, s, "written compressed")
	require.Equal(t, 2, s.Len())
	require.Equal(t, "written compressed", readString(t, second))
}

func TestFileStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.seg"), []byte("x"), 0o644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, 0, s.Len())
}

func TestFileStoreNotFound(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	id := s.Tracker().NewDataID()
	require.False(t, s.ContainsSegment(id))
	_, err = s.ReadSegment(id)
	var nf *segment.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestFileStoreClosed(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	rid := writeString(t, s, "before close")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.WriteSegment(rid.ID, []byte("x")), ErrStoreClosed)
	_, err = s.ReadSegment(s.Tracker().NewDataID())
	require.Error(t, err)
}

func TestFileStoreThrottledWrites(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), func(o *FileStoreOptions) {
		o.WriteBytesPerSecond = 10 << 20
	})
	require.NoError(t, err)
	defer s.Close()

	rid := writeString(t, s, "throttled")
	require.Equal(t, "throttled", readString(t, rid))
}
