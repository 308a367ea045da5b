// Package remote implements the HTTP client for the remote cloud-drive API:
// the RemoteClient contract that internal/catalog and internal/handle
// consume to mutate and resynchronize the local catalog.
package remote

import (
	"context"
	"io"
)

// ChangeType enumerates the kinds of record a device_changes journal page
// carries.
type ChangeType string

const (
	ChangeFolderCreated ChangeType = "folder_created"
	ChangeFolderUpdated ChangeType = "folder_updated"
	ChangeFolderDeleted ChangeType = "folder_deleted"
	ChangeFileCreated   ChangeType = "file_created"
	ChangeFileUpdated   ChangeType = "file_updated"
	ChangeFileDeleted   ChangeType = "file_deleted"
)

// Change is one ordered record from the device-revision journal.
type Change struct {
	Type        ChangeType
	Key         string
	ParentKey   string
	Name        string
	Revision    int64
	Hash        string
	Size        int64
	ResetNeeded bool // journal signaled a revision-counter wrap or epoch change
}

// Journal is the response to device_changes: the ordered records plus the
// device revision they bring the caller up to.
type Journal struct {
	Changes     []Change
	NewRevision int64
}

// FolderInfo and FileInfo are the remote's content-listing records, as
// returned by folder_get_content and consumed for bootstrap/refresh.
type FolderInfo struct {
	Key       string
	Name      string
	ParentKey string
	Revision  int64
}

type FileInfo struct {
	Key         string
	Name        string
	ParentKey   string
	Revision    int64
	Hash        string
	Size        int64
	DirectLink  string
}

// UploadStatus is the polled state of an in-flight upload. StatusComplete
// (99) is the remote's terminal success code; a nonempty Error is surfaced
// as a file error, and any other code means the upload is still in progress.
type UploadStatus struct {
	Code  int
	Error string
}

const StatusComplete = 99

// Client is the contract the core consumes; internal/remote/httpclient.go
// is the one production implementation, wrapped in a circuit breaker and
// scoped retry.
type Client interface {
	AccountID(ctx context.Context) (string, error)

	FolderCreate(ctx context.Context, parentKey, name string) error
	FolderDelete(ctx context.Context, key string) error
	FileDelete(ctx context.Context, key string) error

	DeviceChanges(ctx context.Context, sinceRevision int64) (*Journal, error)
	FolderGetContent(ctx context.Context, key string) ([]FolderInfo, []FileInfo, error)
	FileGetInfo(ctx context.Context, key string) (*FileInfo, error)

	Download(ctx context.Context, url string, dst io.WriterAt) error
	UploadSimple(ctx context.Context, parentKey string, src io.Reader, name string) (uploadKey string, err error)
	UploadPatch(ctx context.Context, existingFileKey string, src io.Reader) (uploadKey string, err error)
	UploadPoll(ctx context.Context, uploadKey string) (*UploadStatus, error)
}
