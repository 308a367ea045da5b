package catalog

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediafire/mfsfs/internal/handle"
	"github.com/mediafire/mfsfs/internal/remote"
)

// fakeClient is an in-memory stand-in for remote.Client, letting these
// tests drive journal replay and upload flows without a network.
type fakeClient struct {
	mu sync.Mutex

	accountID string
	folders   map[string][]remote.FolderInfo
	files     map[string][]remote.FileInfo
	fileInfo  map[string]*remote.FileInfo
	content   map[string][]byte

	journal          []remote.Change
	journalRev       int64
	createCalls      []string
	deleteCalls      []string
	uploadPatchCalls int
	uploadStatus     remote.UploadStatus
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		accountID: "acct-1",
		folders:   map[string][]remote.FolderInfo{RootKey: {}},
		files:     map[string][]remote.FileInfo{RootKey: {}},
		fileInfo:  map[string]*remote.FileInfo{},
		content:   map[string][]byte{},
		uploadStatus: remote.UploadStatus{Code: remote.StatusComplete},
	}
}

func (f *fakeClient) AccountID(ctx context.Context) (string, error) { return f.accountID, nil }

func (f *fakeClient) FolderCreate(ctx context.Context, parentKey, name string) error {
	f.createCalls = append(f.createCalls, name)
	return nil
}
func (f *fakeClient) FolderDelete(ctx context.Context, key string) error {
	f.deleteCalls = append(f.deleteCalls, key)
	return nil
}
func (f *fakeClient) FileDelete(ctx context.Context, key string) error {
	f.deleteCalls = append(f.deleteCalls, key)
	return nil
}

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
	_, err := io.ReadAll(src)
	return "upload-1", err
}

func (f *fakeClient) UploadPatch(ctx context.Context, existingFileKey string, src io.Reader) (string, error) {
	f.uploadPatchCalls++
	_, err := io.ReadAll(src)
	return "upload-2", err
}

func (f *fakeClient) UploadPoll(ctx context.Context, uploadKey string) (*remote.UploadStatus, error) {
	return &f.uploadStatus, nil
}

func newTestTree(t *testing.T, fc *fakeClient) (*FolderTree, *handle.StagingStore) {
	t.Helper()
	store, err := handle.NewStagingStore(t.TempDir())
	require.NoError(t, err)
	tree := NewFolderTree(fc, TreeConfig{
		Staging:          store,
		DebounceInterval: time.Millisecond,
		Uid:              1000,
		Gid:              1000,
	})
	return tree, store
}

func TestBootstrapPopulatesCatalog(t *testing.T) {
	fc := newFakeClient()
	fc.folders[RootKey] = []remote.FolderInfo{{Key: "f1", Name: "docs", Revision: 1}}
	fc.folders["f1"] = nil
	fc.files["f1"] = []remote.FileInfo{{Key: "q1", Name: "a.txt", Revision: 1, Hash: "abc", Size: 5}}

	tree, _ := newTestTree(t, fc)
	require.NoError(t, tree.Bootstrap(context.Background()))

	stat, err := tree.Getattr("/docs")
	require.NoError(t, err)
	assert.Equal(t, KindFolder, stat.Kind)

	stat, err = tree.Getattr("/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, KindFile, stat.Kind)
	assert.EqualValues(t, 5, stat.Size)
	assert.Equal(t, "acct-1", tree.AccountID())
}

func TestUpdateAppliesJournalIdempotently(t *testing.T) {
	fc := newFakeClient()
	tree, _ := newTestTree(t, fc)
	require.NoError(t, tree.Bootstrap(context.Background()))

	fc.journal = []remote.Change{
		{Type: remote.ChangeFolderCreated, Key: "f1", ParentKey: RootKey, Name: "new", Revision: 1},
	}
	fc.journalRev = 1

	require.NoError(t, tree.Update(context.Background(), true))
	entries, err := tree.Readdir("/")
	require.NoError(t, err)
	assert.True(t, containsName(entries, "new"))

	// Replaying the same record (still revision 1) must not duplicate it.
	require.NoError(t, tree.Update(context.Background(), true))
	entries, err = tree.Readdir("/")
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if e.Name == "new" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMkdirForcesRefresh(t *testing.T) {
	fc := newFakeClient()
	tree, _ := newTestTree(t, fc)
	require.NoError(t, tree.Bootstrap(context.Background()))

	fc.journal = []remote.Change{
		{Type: remote.ChangeFolderCreated, Key: "f1", ParentKey: RootKey, Name: "created", Revision: 1},
	}
	fc.journalRev = 1

	require.NoError(t, tree.Mkdir(context.Background(), "/created"))
	assert.Equal(t, []string{"created"}, fc.createCalls)

	entries, err := tree.Readdir("/")
	require.NoError(t, err)
	assert.True(t, containsName(entries, "created"))
}

func TestUnlinkNotFound(t *testing.T) {
	fc := newFakeClient()
	tree, _ := newTestTree(t, fc)
	require.NoError(t, tree.Bootstrap(context.Background()))

	err := tree.Unlink(context.Background(), "/missing.txt")
	require.Error(t, err)
}

func TestOpenFileDownloadsContent(t *testing.T) {
	fc := newFakeClient()
	fc.files[RootKey] = []remote.FileInfo{{Key: "q1", Name: "a.txt", Hash: "h1", Size: 5}}
	fc.fileInfo["q1"] = &remote.FileInfo{Key: "q1", Name: "a.txt", Hash: "h1", DirectLink: "dl://a"}
	fc.content["dl://a"] = []byte("hello")

	tree, _ := newTestTree(t, fc)
	require.NoError(t, tree.Bootstrap(context.Background()))

	staged, hash, err := tree.OpenFile(context.Background(), "/a.txt")
	require.NoError(t, err)
	defer staged.Close()
	assert.Equal(t, "h1", hash)

	buf := make([]byte, 5)
	_, err = staged.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestUploadPatchSkipsOnMatchingHash(t *testing.T) {
	fc := newFakeClient()
	fc.files[RootKey] = []remote.FileInfo{{Key: "q1", Name: "a.txt", Hash: "", Size: 0}}

	tree, store := newTestTree(t, fc)
	require.NoError(t, tree.Bootstrap(context.Background()))

	staged, err := store.Create()
	require.NoError(t, err)
	defer staged.Close()
	_, err = staged.WriteAt([]byte("same"), 0)
	require.NoError(t, err)

	sum, err := hashStagingFile(staged)
	require.NoError(t, err)

	err = tree.UploadPatch(context.Background(), "/a.txt", staged, sum)
	require.NoError(t, err)
	assert.Equal(t, 0, fc.uploadPatchCalls, "matching hash must elide the upload entirely")
}

func TestHeldOpenDefersFileDeletion(t *testing.T) {
	fc := newFakeClient()
	fc.files[RootKey] = []remote.FileInfo{{Key: "q1", Name: "a.txt"}}

	store, err := handle.NewStagingStore(t.TempDir())
	require.NoError(t, err)

	held := map[string]bool{"/a.txt": true}
	tree := NewFolderTree(fc, TreeConfig{
		Staging:          store,
		DebounceInterval: time.Millisecond,
		HeldOpen:         func(p string) bool { return held[p] },
	})
	require.NoError(t, tree.Bootstrap(context.Background()))

	fc.journal = []remote.Change{{Type: remote.ChangeFileDeleted, Key: "q1"}}
	fc.journalRev = 1
	require.NoError(t, tree.Update(context.Background(), true))

	// Still present: the deletion was buffered, not applied.
	_, err = tree.Getattr("/a.txt")
	require.NoError(t, err)

	held["/a.txt"] = false
	tree.ApplyPending("/a.txt")

	_, err = tree.Getattr("/a.txt")
	require.Error(t, err)
}

func containsName(entries []DirEntry, name string) bool {
	for _, e := range entries {
		if e.Name == name {
			return true
		}
	}
	return false
}
