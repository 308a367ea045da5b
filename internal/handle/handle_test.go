package handle

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/mediafire/mfsfs/pkg/errors"
)

func TestOpenCensusMultipleReaders(t *testing.T) {
	c := NewOpenCensus()
	require.NoError(t, c.TryOpenReadonly("/f"))
	require.NoError(t, c.TryOpenReadonly("/f"))
	assert.Equal(t, 2, c.ReadonlySet.Count("/f"))
}

func TestOpenCensusWritableExcludesReaders(t *testing.T) {
	c := NewOpenCensus()
	require.NoError(t, c.TryOpenWritable("/f"))

	err := c.TryOpenReadonly("/f")
	require.Error(t, err)
	var fsErr *fserrors.FSError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, fserrors.AccessDenied, fsErr.Code)
}

func TestOpenCensusSecondWriterDenied(t *testing.T) {
	c := NewOpenCensus()
	require.NoError(t, c.TryOpenWritable("/f"))

	err := c.TryOpenWritable("/f")
	require.Error(t, err)
	var fsErr *fserrors.FSError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, fserrors.AccessDenied, fsErr.Code)
}

func TestOpenCensusReaderThenWriterDenied(t *testing.T) {
	c := NewOpenCensus()
	require.NoError(t, c.TryOpenReadonly("/f"))

	err := c.TryOpenWritable("/f")
	require.Error(t, err)
}

func TestOpenCensusReleaseThenReopen(t *testing.T) {
	c := NewOpenCensus()
	require.NoError(t, c.TryOpenWritable("/f"))
	c.ReleaseWritable("/f")

	assert.False(t, c.IsHeldOpen("/f"))
	require.NoError(t, c.TryOpenReadonly("/f"))
}

func TestOpenCensusReleaseInvariantPanics(t *testing.T) {
	c := NewOpenCensus()
	assert.Panics(t, func() {
		c.ReleaseReadonly("/never-opened")
	})
}

func TestStagingStoreCreateIsUnnamed(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStagingStore(dir)
	require.NoError(t, err)

	staged, err := store.Create()
	require.NoError(t, err)
	defer staged.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged file must be unlinked immediately, leaving no directory entry")

	n, err := staged.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	size, err := staged.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	buf := make([]byte, 5)
	_, err = staged.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestStagingStoreRejectsMissingDir(t *testing.T) {
	_, err := NewStagingStore("/no/such/path/for/mfsfs/test")
	require.Error(t, err)
}
