package vfs

import (
	"context"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafire/mfsfs/internal/catalog"
	"github.com/mediafire/mfsfs/internal/handle"
	fserrors "github.com/mediafire/mfsfs/pkg/errors"
	"github.com/mediafire/mfsfs/internal/remote"
)

// fakeClient is a minimal in-memory remote.Client, mirroring the one in
// internal/catalog's own tests, scoped to what the round-trip laws below
// exercise.
type fakeClient struct {
	mu sync.Mutex

	accountID string
	folders   map[string][]remote.FolderInfo
	files     map[string][]remote.FileInfo
	fileInfo  map[string]*remote.FileInfo
	content   map[string][]byte

	journal    []remote.Change
	journalRev int64
	uploaded   map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		accountID: "acct-1",
		folders:   map[string][]remote.FolderInfo{catalog.RootKey: {}},
		files:     map[string][]remote.FileInfo{catalog.RootKey: {}},
		fileInfo:  map[string]*remote.FileInfo{},
		content:   map[string][]byte{},
		uploaded:  map[string][]byte{},
	}
}

func (f *fakeClient) AccountID(ctx context.Context) (string, error) { return f.accountID, nil }

func (f *fakeClient) FolderCreate(ctx context.Context, parentKey, name string) error { return nil }
func (f *fakeClient) FolderDelete(ctx context.Context, key string) error             { return nil }
func (f *fakeClient) FileDelete(ctx context.Context, key string) error               { return nil }

func (f *fakeClient) DeviceChanges(ctx context.Context, since int64) (*remote.Journal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &remote.Journal{Changes: f.journal, NewRevision: f.journalRev}, nil
}

func (f *fakeClient) FolderGetContent(ctx context.Context, key string) ([]remote.FolderInfo, []remote.FileInfo, error) {
	return f.folders[key], f.files[key], nil
}

func (f *fakeClient) FileGetInfo(ctx context.Context, key string) (*remote.FileInfo, error) {
	return f.fileInfo[key], nil
}

func (f *fakeClient) Download(ctx context.Context, url string, dst io.WriterAt) error {
	data := f.content[url]
	_, err := dst.WriteAt(data, 0)
	return err
}

func (f *fakeClient) UploadSimple(ctx context.Context, parentKey string, src io.Reader, name string) (string, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.uploaded[name] = data
	f.mu.Unlock()
	return "upload-1", nil
}

func (f *fakeClient) UploadPatch(ctx context.Context, existingFileKey string, src io.Reader) (string, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.uploaded[existingFileKey] = data
	f.mu.Unlock()
	return "upload-2", nil
}

func (f *fakeClient) UploadPoll(ctx context.Context, uploadKey string) (*remote.UploadStatus, error) {
	return &remote.UploadStatus{Code: remote.StatusComplete}, nil
}

func newTestAdapter(t *testing.T) (*Adapter, *catalog.FolderTree, *fakeClient) {
	t.Helper()
	fc := newFakeClient()
	staging, err := handle.NewStagingStore(t.TempDir())
	require.NoError(t, err)

	census := handle.NewOpenCensus()
	tree := catalog.NewFolderTree(fc, catalog.TreeConfig{
		Staging:          staging,
		DebounceInterval: time.Millisecond,
		HeldOpen:         census.IsHeldOpen,
		WritableOpen:     func(p string) bool { return census.WritableSet.Contains(p) },
	})
	require.NoError(t, tree.Bootstrap(context.Background()))

	return New(tree, census, 1000, 1000, nil), tree, fc
}

func TestCreateWriteReleaseOpenReadRoundTrip(t *testing.T) {
	a, _, fc := newTestAdapter(t)
	ctx := context.Background()

	id, err := a.Create("/new.txt")
	require.NoError(t, err)

	n, err := a.Write(id, []byte("hello world"), 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	require.NoError(t, a.Release(ctx, id))
	assert.Equal(t, "hello world", string(fc.uploaded["new.txt"]))

	fc.mu.Lock()
	fc.files[catalog.RootKey] = append(fc.files[catalog.RootKey], remote.FileInfo{Key: "q-new", Name: "new.txt", Hash: "h", Size: 11})
	fc.fileInfo["q-new"] = &remote.FileInfo{Key: "q-new", Name: "new.txt", Hash: "h", DirectLink: "dl://new"}
	fc.content["dl://new"] = []byte("hello world")
	fc.journal = []remote.Change{{Type: remote.ChangeFileCreated, Key: "q-new", ParentKey: catalog.RootKey, Name: "new.txt", Revision: 1, Hash: "h", Size: 11}}
	fc.journalRev = 1
	fc.mu.Unlock()

	readID, err := a.Open(ctx, "/new.txt", false)
	require.NoError(t, err)
	buf := make([]byte, 11)
	n, err = a.Read(readID, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
	require.NoError(t, a.Release(ctx, readID))
}

// A kernel read request is sized to a full page (e.g. 4096 bytes) regardless
// of the file's actual length, so a short read against a small file is the
// normal case, not an error: ReadAt returns io.EOF whenever it fills less
// than len(buf), and that must not surface as a read failure.
func TestReadWithOversizedBufferSwallowsEOF(t *testing.T) {
	a, _, fc := newTestAdapter(t)
	ctx := context.Background()

	id, err := a.Create("/short.txt")
	require.NoError(t, err)
	_, err = a.Write(id, []byte("hello world"), 0)
	require.NoError(t, err)
	require.NoError(t, a.Release(ctx, id))

	fc.mu.Lock()
	fc.files[catalog.RootKey] = append(fc.files[catalog.RootKey], remote.FileInfo{Key: "q-short", Name: "short.txt", Hash: "h", Size: 11})
	fc.fileInfo["q-short"] = &remote.FileInfo{Key: "q-short", Name: "short.txt", Hash: "h", DirectLink: "dl://short"}
	fc.content["dl://short"] = []byte("hello world")
	fc.journal = []remote.Change{{Type: remote.ChangeFileCreated, Key: "q-short", ParentKey: catalog.RootKey, Name: "short.txt", Revision: 1, Hash: "h", Size: 11}}
	fc.journalRev = 1
	fc.mu.Unlock()

	readID, err := a.Open(ctx, "/short.txt", false)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := a.Read(readID, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf[:n]))
	require.NoError(t, a.Release(ctx, readID))
}

func TestLocalNewGetattrSynthesizesSizeZero(t *testing.T) {
	a, tree, _ := newTestAdapter(t)
	ctx := context.Background()

	id, err := a.Create("/draft.txt")
	require.NoError(t, err)

	stat, err := tree.Getattr("/draft.txt")
	require.NoError(t, err)
	assert.Equal(t, catalog.KindFile, stat.Kind)
	assert.EqualValues(t, 0, stat.Size)

	require.NoError(t, a.Release(ctx, id))
}

func TestOpenWritableTwiceIsRejected(t *testing.T) {
	a, _, fc := newTestAdapter(t)
	ctx := context.Background()
	fc.mu.Lock()
	fc.files[catalog.RootKey] = append(fc.files[catalog.RootKey], remote.FileInfo{Key: "q1", Name: "a.txt", Hash: "h1"})
	fc.fileInfo["q1"] = &remote.FileInfo{Key: "q1", Name: "a.txt", Hash: "h1", DirectLink: "dl://a"}
	fc.content["dl://a"] = []byte("x")
	fc.mu.Unlock()
	require.NoError(t, tree(a).Update(ctx, true))

	id, err := a.Open(ctx, "/a.txt", true)
	require.NoError(t, err)

	_, err = a.Open(ctx, "/a.txt", true)
	require.Error(t, err)
	assert.Equal(t, syscall.EACCES, Errno(err))

	require.NoError(t, a.Release(ctx, id))
}

func tree(a *Adapter) *catalog.FolderTree { return a.tree }

func TestErrnoMapsNotFoundToENOENT(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	_, err := a.Getattr(context.Background(), "/missing")
	require.Error(t, err)
	var fsErr *fserrors.FSError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, fserrors.NotFound, fsErr.Code)
	assert.Equal(t, syscall.ENOENT, Errno(err))
}

func TestReleaseOfUnknownHandlePanics(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	assert.Panics(t, func() {
		_ = a.Release(context.Background(), 9999)
	})
}
