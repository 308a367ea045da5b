package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/google/uuid"
	"github.com/mediafire/mfsfs/internal/circuit"
	fserrors "github.com/mediafire/mfsfs/pkg/errors"
)

// contentCacheEntry holds a cached folder_get_content response.
type contentCacheEntry struct {
	folders []FolderInfo
	files   []FileInfo
	at      time.Time
}

// HTTPClient is the one production Client implementation: a thin REST
// client over net/http, wrapped in a circuit breaker and an LRU of recent
// folder_get_content responses to absorb repeated kernel traffic between
// journal updates. file_get_info responses are not cached.
type HTTPClient struct {
	baseURL      string
	sessionToken string
	httpClient   *http.Client
	breaker      *circuit.CircuitBreaker
	log          *slog.Logger

	contentCache *lru.Cache
	cacheTTL     time.Duration
}

// HTTPClientConfig configures a new HTTPClient.
type HTTPClientConfig struct {
	BaseURL        string
	SessionToken   string
	RequestTimeout time.Duration

	BreakerConfig circuit.Config

	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration

	Logger *slog.Logger
}

// NewHTTPClient constructs an HTTPClient ready to serve RemoteClient calls.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cache *lru.Cache
	if cfg.CacheEnabled {
		size := cfg.CacheSize
		if size <= 0 {
			size = 1024
		}
		c, err := lru.New(size)
		if err != nil {
			return nil, fmt.Errorf("create response cache: %w", err)
		}
		cache = c
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL:      cfg.BaseURL,
		sessionToken: cfg.SessionToken,
		httpClient:   &http.Client{Timeout: timeout},
		breaker:      circuit.NewCircuitBreaker("remote", cfg.BreakerConfig),
		log:          logger,
		contentCache: cache,
		cacheTTL:     cfg.CacheTTL,
	}, nil
}

// do executes an HTTP call through the circuit breaker, attaching a fresh
// request ID to every attempt and to any resulting FSError so the log line
// and the error seen by the caller share an ID.
func (c *HTTPClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	requestID := uuid.NewString()

	err := c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return c.doOnce(ctx, method, path, form, out, requestID)
	})
	if err != nil {
		if fsErr, ok := err.(*fserrors.FSError); ok {
			return fsErr.WithRequestID(requestID)
		}
		return fserrors.New(fserrors.Transient, "remote request failed").
			WithComponent("remote").
			WithOperation(path).
			WithRequestID(requestID).
			WithCause(err)
	}
	return nil
}

func (c *HTTPClient) doOnce(ctx context.Context, method, apiPath string, form url.Values, out interface{}, requestID string) error {
	fullURL := c.baseURL + apiPath
	var body io.Reader
	if method == http.MethodPost && form != nil {
		body = bytes.NewBufferString(form.Encode())
	} else if form != nil {
		fullURL = fullURL + "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fserrors.New(fserrors.InvalidArg, "build request").WithCause(err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-Request-ID", requestID)
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("remote request failed", "path", apiPath, "request_id", requestID, "error", err)
		return fserrors.New(fserrors.Transient, "remote request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fserrors.New(fserrors.Transient, fmt.Sprintf("remote returned %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusNotFound {
		return fserrors.New(fserrors.NotFound, "remote entity not found")
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fserrors.New(fserrors.AccessDenied, "remote denied the request")
	}
	if resp.StatusCode >= 400 {
		return fserrors.New(fserrors.InvalidArg, fmt.Sprintf("remote returned %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fserrors.New(fserrors.CorruptIO, "decode remote response").WithCause(err)
	}
	return nil
}

// Login exchanges an email/password pair for a session token via
// user/get_session_token.php and adopts it for subsequent requests. Callers
// that already hold a session token never need this.
func (c *HTTPClient) Login(ctx context.Context, email, password string) error {
	form := url.Values{
		"email":           {email},
		"password":        {password},
		"application_id":  {"42511"},
		"response_format": {"json"},
	}
	var out struct {
		Response struct {
			SessionToken string `json:"session_token"`
			Result       string `json:"result"`
			Message      string `json:"message"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/user/get_session_token.php", form, &out); err != nil {
		return err
	}
	if out.Response.SessionToken == "" {
		return fserrors.New(fserrors.AccessDenied, "login did not return a session token").
			WithDetail("message", out.Response.Message)
	}
	c.sessionToken = out.Response.SessionToken
	return nil
}

func (c *HTTPClient) AccountID(ctx context.Context) (string, error) {
	var out struct {
		AccountID string `json:"account_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/get_info.php", nil, &out); err != nil {
		return "", err
	}
	return out.AccountID, nil
}

func (c *HTTPClient) FolderCreate(ctx context.Context, parentKey, name string) error {
	form := url.Values{"foldername": {name}}
	if parentKey != "" {
		form.Set("parent_key", parentKey)
	}
	return c.do(ctx, http.MethodPost, "/folder/create.php", form, nil)
}

func (c *HTTPClient) FolderDelete(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/folder/delete.php", url.Values{"folder_key": {key}}, nil)
}

func (c *HTTPClient) FileDelete(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/file/delete.php", url.Values{"quick_key": {key}}, nil)
}

func (c *HTTPClient) DeviceChanges(ctx context.Context, sinceRevision int64) (*Journal, error) {
	form := url.Values{"revision": {strconv.FormatInt(sinceRevision, 10)}}
	var out Journal
	if err := c.do(ctx, http.MethodGet, "/device/get_changes.php", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FolderGetContent(ctx context.Context, key string) ([]FolderInfo, []FileInfo, error) {
	if c.contentCache != nil {
		if v, ok := c.contentCache.Get(key); ok {
			entry := v.(contentCacheEntry)
			if time.Since(entry.at) < c.cacheTTL {
				return entry.folders, entry.files, nil
			}
			c.contentCache.Remove(key)
		}
	}

	form := url.Values{"folder_key": {key}}
	var out struct {
		Folders []FolderInfo `json:"folders"`
		Files   []FileInfo   `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, "/folder/get_content.php", form, &out); err != nil {
		return nil, nil, err
	}

	if c.contentCache != nil && c.cacheTTL > 0 {
		c.contentCache.Add(key, contentCacheEntry{folders: out.Folders, files: out.Files, at: time.Now()})
	}
	return out.Folders, out.Files, nil
}

// InvalidateContentCache drops any cached folder_get_content response for
// key. The catalog calls this whenever an applied journal record touches
// that folder, so the cache can never serve data the journal has
// superseded.
func (c *HTTPClient) InvalidateContentCache(key string) {
	if c.contentCache != nil {
		c.contentCache.Remove(key)
	}
}

func (c *HTTPClient) FileGetInfo(ctx context.Context, key string) (*FileInfo, error) {
	form := url.Values{"quick_key": {key}}
	var out FileInfo
	if err := c.do(ctx, http.MethodGet, "/file/get_info.php", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Download(ctx context.Context, downloadURL string, dst io.WriterAt) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fserrors.New(fserrors.InvalidArg, "build download request").WithCause(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fserrors.New(fserrors.Transient, "download failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return fserrors.New(fserrors.AccessDenied, "remote refused download")
	}
	if resp.StatusCode != http.StatusOK {
		return fserrors.New(fserrors.Transient, fmt.Sprintf("download returned %d", resp.StatusCode))
	}

	buf := make([]byte, 64*1024)
	var offset int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], offset); werr != nil {
				return fserrors.New(fserrors.CorruptIO, "write staged content").WithCause(werr)
			}
			offset += int64(n)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fserrors.New(fserrors.Transient, "download read failed").WithCause(rerr)
		}
	}
}

func (c *HTTPClient) UploadSimple(ctx context.Context, parentKey string, src io.Reader, name string) (string, error) {
	return c.upload(ctx, "/upload/simple.php", url.Values{"folder_key": {parentKey}, "filename": {name}}, src)
}

func (c *HTTPClient) UploadPatch(ctx context.Context, existingFileKey string, src io.Reader) (string, error) {
	return c.upload(ctx, "/upload/patch.php", url.Values{"quick_key": {existingFileKey}}, src)
}

func (c *HTTPClient) upload(ctx context.Context, apiPath string, form url.Values, src io.Reader) (string, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", fserrors.New(fserrors.CorruptIO, "read staged content").WithCause(err)
	}

	requestID := uuid.NewString()
	var out struct {
		UploadKey string `json:"upload_key"`
	}
	err = c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPath+"?"+form.Encode(), bytes.NewReader(data))
		if rerr != nil {
			return fserrors.New(fserrors.InvalidArg, "build upload request").WithCause(rerr)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Request-ID", requestID)
		if c.sessionToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.sessionToken)
		}

		resp, rerr := c.httpClient.Do(req)
		if rerr != nil {
			return fserrors.New(fserrors.Transient, "upload failed").WithCause(rerr)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fserrors.New(fserrors.Transient, fmt.Sprintf("upload returned %d", resp.StatusCode))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return "", err
	}
	return out.UploadKey, nil
}

func (c *HTTPClient) UploadPoll(ctx context.Context, uploadKey string) (*UploadStatus, error) {
	form := url.Values{"key": {uploadKey}}
	var out UploadStatus
	if err := c.do(ctx, http.MethodGet, "/upload/poll_upload.php", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var _ Client = (*HTTPClient)(nil)
