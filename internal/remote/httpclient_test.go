package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	lru "github.com/hashicorp/golang-lru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/mediafire/mfsfs/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c, err := NewHTTPClient(HTTPClientConfig{
		BaseURL:      srv.URL,
		SessionToken: "test-token",
	})
	require.NoError(t, err)
	return c, srv
}

func TestAccountID(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/get_info.php", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"account_id": "acc-123"})
	})
	defer srv.Close()

	id, err := c.AccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acc-123", id)
}

func TestFolderCreate(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "notes", r.PostForm.Get("foldername"))
		assert.Equal(t, "parent1", r.PostForm.Get("parent_key"))
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	err := c.FolderCreate(context.Background(), "parent1", "notes")
	require.NoError(t, err)
}

func TestFolderGetContentCaching(t *testing.T) {
	var hits int
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"folders": []FolderInfo{{Key: "f1", Name: "sub"}},
			"files":   []FileInfo{{Key: "q1", Name: "doc.txt"}},
		})
	})
	defer srv.Close()
	cache, err := lru.New(16)
	require.NoError(t, err)
	c.contentCache = cache
	c.cacheTTL = 0 // disabled TTL means "always stale" unless we bump it

	ctx := context.Background()
	folders, files, err := c.FolderGetContent(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, folders, 1)
	assert.Len(t, files, 1)
	assert.Equal(t, 1, hits)

	c.cacheTTL = 1_000_000_000_000 // effectively never expires for this test
	_, _, err = c.FolderGetContent(ctx, "root")
	require.NoError(t, err)
	_, _, err = c.FolderGetContent(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 2, hits, "second and third calls within TTL should be served live then cached")

	c.InvalidateContentCache("root")
	_, _, err = c.FolderGetContent(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 3, hits, "invalidation must force a live refetch")
}

func TestFileGetInfoNotFound(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := c.FileGetInfo(context.Background(), "missing")
	require.Error(t, err)
	var fsErr *fserrors.FSError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, fserrors.NotFound, fsErr.Code)
}

func TestFileGetInfoAccessDenied(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	defer srv.Close()

	_, err := c.FileGetInfo(context.Background(), "secret")
	require.Error(t, err)
	var fsErr *fserrors.FSError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, fserrors.AccessDenied, fsErr.Code)
}

func TestDeviceChangesServerError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	_, err := c.DeviceChanges(context.Background(), 0)
	require.Error(t, err)
	var fsErr *fserrors.FSError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, fserrors.Transient, fsErr.Code)
}

func TestUploadSimple(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/simple.php", r.URL.Path)
		assert.Equal(t, "parent1", r.URL.Query().Get("folder_key"))
		assert.Equal(t, "hello.txt", r.URL.Query().Get("filename"))
		_ = json.NewEncoder(w).Encode(map[string]string{"upload_key": "up-1"})
	})
	defer srv.Close()

	key, err := c.UploadSimple(context.Background(), "parent1", bytes.NewBufferString("hello"), "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "up-1", key)
}

func TestUploadPoll(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(UploadStatus{Code: StatusComplete})
	})
	defer srv.Close()

	status, err := c.UploadPoll(context.Background(), "up-1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status.Code)
}

func TestDownloadWritesAtOffsets(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("chunked-content"))
	})
	defer srv.Close()

	buf := &fakeWriterAt{}
	err := c.Download(context.Background(), srv.URL+"/d/abc", buf)
	require.NoError(t, err)
	assert.Equal(t, "chunked-content", buf.String())
}

type fakeWriterAt struct {
	data []byte
}

func (f *fakeWriterAt) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(f.data) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)
	return len(p), nil
}

func (f *fakeWriterAt) String() string {
	return string(f.data)
}
